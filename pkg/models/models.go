package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arcpay-hq/settler/pkg/chains"
)

// AmountDecimals is the fixed precision of stablecoin amounts (USDC).
const AmountDecimals = 6

// PaymentIntent is the input to a settlement run. The burn transaction is
// assumed to be already submitted by the buyer; BurnTxHash is the sole
// correlation key for the whole settlement.
type PaymentIntent struct {
	BurnTxHash        string          `json:"burn_tx_hash"`
	SourceChain       chains.ChainID  `json:"source_chain"`
	DestinationChain  chains.ChainID  `json:"destination_chain"`
	Amount            decimal.Decimal `json:"amount"`
	DestinationWallet string          `json:"destination_wallet,omitempty"`
	MerchantID        string          `json:"merchant_id,omitempty"`
}

// StepName identifies one unit of settlement work.
type StepName string

const (
	StepBurn     StepName = "burn"
	StepAttest   StepName = "attest"
	StepMint     StepName = "mint"
	StepTransfer StepName = "transfer"
)

// StepState is the outcome of a settlement step.
type StepState string

const (
	StepPending StepState = "pending"
	StepSuccess StepState = "success"
	StepFailed  StepState = "failed"
)

// SettlementStep records the outcome of one step. Steps are appended in
// order and never rewritten once they reach success or failed.
type SettlementStep struct {
	Name   StepName  `json:"name"`
	State  StepState `json:"state"`
	TxHash string    `json:"tx_hash,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// FinalState is the terminal outcome of a settlement.
type FinalState string

const (
	FinalComplete FinalState = "complete"
	FinalFailed   FinalState = "failed"
	FinalTimedOut FinalState = "timed_out"
)

// SettlementRecord is the terminal artifact of one settlement run. The
// engine owns it exclusively while the run is in flight; once written to the
// ledger the stored copy is immutable and never deleted.
type SettlementRecord struct {
	ID          uuid.UUID        `json:"id"`
	Intent      PaymentIntent    `json:"intent"`
	Steps       []SettlementStep `json:"steps"`
	FinalState  FinalState       `json:"final_state,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

// NewSettlementRecord creates a record for a settlement run that is about
// to begin.
func NewSettlementRecord(intent PaymentIntent) *SettlementRecord {
	return &SettlementRecord{
		ID:        uuid.New(),
		Intent:    intent,
		Steps:     []SettlementStep{},
		CreatedAt: time.Now().UTC(),
	}
}

// AppendStep appends a completed step to the record.
func (r *SettlementRecord) AppendStep(step SettlementStep) {
	r.Steps = append(r.Steps, step)
}

// LastStep returns the most recently appended step, or nil if none exist.
func (r *SettlementRecord) LastStep() *SettlementStep {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// Terminal reports whether the record has reached a final state.
func (r *SettlementRecord) Terminal() bool {
	return r.FinalState != ""
}

// Clone returns a deep copy of the record so a stored record can be handed
// out without exposing the ledger's copy to mutation.
func (r *SettlementRecord) Clone() *SettlementRecord {
	cp := *r
	cp.Steps = make([]SettlementStep, len(r.Steps))
	copy(cp.Steps, r.Steps)
	return &cp
}
