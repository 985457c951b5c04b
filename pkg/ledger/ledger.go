// Package ledger persists finished settlement records, keyed by the burn
// transaction hash. A record is written exactly once, when the settlement
// reaches a terminal state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arcpay-hq/settler/pkg/models"
)

// ErrNotFound is returned when no record exists for a burn transaction hash.
var ErrNotFound = errors.New("settlement record not found")

// DuplicateRecordError is returned when a record already exists for the burn
// transaction hash.
type DuplicateRecordError struct {
	BurnTxHash string
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("settlement record for burn %s already exists", e.BurnTxHash)
}

// Ledger is the append-once settlement record store.
type Ledger interface {
	// Append stores a terminal record. A second append for the same burn
	// transaction hash returns DuplicateRecordError.
	Append(ctx context.Context, record *models.SettlementRecord) error

	// Get returns the record for a burn transaction hash, or ErrNotFound.
	Get(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error)
}

// MemoryLedger is an in-memory Ledger, used when no database is configured
// and in tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*models.SettlementRecord
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]*models.SettlementRecord),
	}
}

// Append stores a terminal record, rejecting duplicates.
func (l *MemoryLedger) Append(_ context.Context, record *models.SettlementRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := record.Intent.BurnTxHash
	if _, exists := l.records[key]; exists {
		return &DuplicateRecordError{BurnTxHash: key}
	}
	l.records[key] = record.Clone()
	return nil
}

// Get returns a copy of the stored record.
func (l *MemoryLedger) Get(_ context.Context, burnTxHash string) (*models.SettlementRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, exists := l.records[burnTxHash]
	if !exists {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Len returns the number of stored records.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
