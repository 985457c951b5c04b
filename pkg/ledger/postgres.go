package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcpay-hq/settler/pkg/models"
)

// uniqueViolation is the Postgres error code for a unique constraint breach
const uniqueViolation = "23505"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS settlements (
    burn_tx_hash TEXT PRIMARY KEY,
    final_state TEXT NOT NULL,
    record JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL
);
`

// PostgresLedger persists settlement records in a PostgreSQL table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger connects to Postgres using the DSN and ensures the
// settlements table exists.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create settlements table: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

// Close releases the connection pool.
func (l *PostgresLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Append stores a terminal record. The primary key on burn_tx_hash enforces
// the append-once contract across processes.
func (l *PostgresLedger) Append(ctx context.Context, record *models.SettlementRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement record: %w", err)
	}

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	_, err = l.pool.Exec(ctx, `
INSERT INTO settlements (burn_tx_hash, final_state, record, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5)
`, record.Intent.BurnTxHash, string(record.FinalState), payload, record.CreatedAt, completedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &DuplicateRecordError{BurnTxHash: record.Intent.BurnTxHash}
		}
		return fmt.Errorf("failed to insert settlement record: %w", err)
	}
	return nil
}

// Get returns the record for a burn transaction hash, or ErrNotFound.
func (l *PostgresLedger) Get(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error) {
	row := l.pool.QueryRow(ctx, `
SELECT record
FROM settlements
WHERE burn_tx_hash = $1
`, burnTxHash)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query settlement record: %w", err)
	}

	var record models.SettlementRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement record: %w", err)
	}
	return &record, nil
}
