package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/models"
)

func sampleRecord(burnTxHash string) *models.SettlementRecord {
	record := models.NewSettlementRecord(models.PaymentIntent{
		BurnTxHash:        burnTxHash,
		SourceChain:       chains.EthereumSepolia,
		DestinationChain:  chains.ArcTestnet,
		Amount:            decimal.RequireFromString("25.50"),
		DestinationWallet: "0x3333333333333333333333333333333333333333",
	})
	record.AppendStep(models.SettlementStep{
		Name:   models.StepBurn,
		State:  models.StepSuccess,
		TxHash: burnTxHash,
	})
	record.FinalState = models.FinalComplete
	return record
}

func TestMemoryLedgerAppendAndGet(t *testing.T) {
	l := NewMemoryLedger()
	record := sampleRecord("0xburn1")

	require.NoError(t, l.Append(context.Background(), record))

	got, err := l.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.FinalComplete, got.FinalState)
	assert.Len(t, got.Steps, 1)
}

func TestMemoryLedgerDuplicateAppend(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Append(context.Background(), sampleRecord("0xburn1")))

	err := l.Append(context.Background(), sampleRecord("0xburn1"))
	require.Error(t, err)

	var dup *DuplicateRecordError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "0xburn1", dup.BurnTxHash)
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLedgerGetNotFound(t *testing.T) {
	l := NewMemoryLedger()

	_, err := l.Get(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedgerReturnsCopies(t *testing.T) {
	l := NewMemoryLedger()
	record := sampleRecord("0xburn1")
	require.NoError(t, l.Append(context.Background(), record))

	// Mutating the original after append must not affect the stored record
	record.Steps[0].TxHash = "0xclobbered"

	got, err := l.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, "0xburn1", got.Steps[0].TxHash)

	// Mutating a returned copy must not affect later reads
	got.FinalState = models.FinalFailed
	again, err := l.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, models.FinalComplete, again.FinalState)
}
