package settlement

import (
	"errors"
	"fmt"

	"github.com/arcpay-hq/settler/pkg/chains"
)

// ErrConflict is returned when a settlement for the same burn transaction
// hash is already in flight.
var ErrConflict = errors.New("settlement already in flight for this burn")

// ErrCancelled is returned when a settlement is aborted by context
// cancellation before reaching a natural terminal state.
var ErrCancelled = errors.New("settlement cancelled")

// ValidationError rejects a malformed payment intent before any settlement
// work starts. Nothing is written to the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payment intent: %s %s", e.Field, e.Reason)
}

// ChainSubmissionError wraps a failure to submit or confirm a transaction on
// a chain.
type ChainSubmissionError struct {
	Chain chains.ChainID
	Op    string
	Err   error
}

func (e *ChainSubmissionError) Error() string {
	return fmt.Sprintf("%s on chain %s failed: %v", e.Op, e.Chain, e.Err)
}

func (e *ChainSubmissionError) Unwrap() error {
	return e.Err
}
