// Package settlement drives a payment intent through burn confirmation,
// attestation, mint, and payout, and records the terminal outcome in the
// ledger.
package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arcpay-hq/settler/pkg/attestation"
	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/circuitbreaker"
	"github.com/arcpay-hq/settler/pkg/gateway"
	"github.com/arcpay-hq/settler/pkg/ledger"
	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/merchant"
	"github.com/arcpay-hq/settler/pkg/metrics"
	"github.com/arcpay-hq/settler/pkg/models"
)

// AttestationPoller waits for a burn's attestation to become available.
type AttestationPoller interface {
	Await(ctx context.Context, burnTxHash string) (*attestation.Attestation, error)
}

// Engine executes settlements. One engine serves all chains; per-intent
// idempotency is enforced by the in-flight set and the ledger.
type Engine struct {
	registry  *gateway.Registry
	poller    AttestationPoller
	ledger    ledger.Ledger
	directory merchant.Directory
	breakers  map[chains.ChainID]*circuitbreaker.CircuitBreaker
	logger    logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates a settlement engine
func NewEngine(
	registry *gateway.Registry,
	poller AttestationPoller,
	led ledger.Ledger,
	directory merchant.Directory,
	breakers map[chains.ChainID]*circuitbreaker.CircuitBreaker,
	log logger.Logger,
) *Engine {
	return &Engine{
		registry:  registry,
		poller:    poller,
		ledger:    led,
		directory: directory,
		breakers:  breakers,
		logger:    log,
		inflight:  make(map[string]struct{}),
	}
}

// Get returns the ledger record for a burn transaction hash.
func (e *Engine) Get(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error) {
	return e.ledger.Get(ctx, burnTxHash)
}

// Inflight reports whether a settlement for the burn is currently running.
func (e *Engine) Inflight(burnTxHash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, running := e.inflight[burnTxHash]
	return running
}

// Settle drives a payment intent to a terminal state. Replays of an already
// settled burn return the stored record. A concurrent duplicate returns
// ErrConflict. The returned record is non-nil whenever settlement work
// started, even when the terminal state is a failure.
func (e *Engine) Settle(ctx context.Context, intent models.PaymentIntent) (*models.SettlementRecord, error) {
	resolved, err := e.resolveIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	intent = *resolved

	// Replays of a finished settlement are answered from the ledger
	if stored, err := e.replay(ctx, intent.BurnTxHash); stored != nil || err != nil {
		return stored, err
	}

	if err := e.claim(intent.BurnTxHash); err != nil {
		return nil, err
	}
	defer e.release(intent.BurnTxHash)

	// A racing settlement for the same burn may have finished between the
	// first ledger check and the claim. Re-check under the claim so the
	// burn is never submitted to the chain twice.
	if stored, err := e.replay(ctx, intent.BurnTxHash); stored != nil || err != nil {
		return stored, err
	}

	metrics.SettlementsStarted.Inc()
	metrics.InflightSettlements.Inc()
	defer metrics.InflightSettlements.Dec()

	return e.run(ctx, intent)
}

// replay answers a burn that already has a terminal ledger record with that
// record. Returns (nil, nil) when the burn is unsettled.
func (e *Engine) replay(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error) {
	stored, err := e.ledger.Get(ctx, burnTxHash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	metrics.DuplicateIntents.Inc()
	e.logger.Info("Replay of settled burn %s, returning stored record", burnTxHash)
	return stored, nil
}

// resolveIntent validates the intent and fills payout fields from the
// merchant directory when the intent omits them.
func (e *Engine) resolveIntent(ctx context.Context, intent models.PaymentIntent) (*models.PaymentIntent, error) {
	if intent.BurnTxHash == "" {
		return nil, &ValidationError{Field: "burn_tx_hash", Reason: "is required"}
	}
	if !intent.SourceChain.Valid() {
		return nil, &ValidationError{Field: "source_chain", Reason: "is not a supported chain"}
	}
	if !intent.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	if intent.DestinationWallet == "" || intent.DestinationChain == "" {
		if intent.MerchantID == "" {
			return nil, &ValidationError{Field: "destination_wallet", Reason: "is required when no merchant_id is given"}
		}
		settings, err := e.directory.Settings(ctx, intent.MerchantID)
		if err != nil {
			return nil, err
		}
		if intent.DestinationWallet == "" {
			intent.DestinationWallet = settings.DestinationWallet
		}
		if intent.DestinationChain == "" {
			intent.DestinationChain = settings.DestinationChain
		}
	}

	if !common.IsHexAddress(intent.DestinationWallet) {
		return nil, &ValidationError{Field: "destination_wallet", Reason: "is not a valid address"}
	}
	if !intent.DestinationChain.Valid() {
		return nil, &ValidationError{Field: "destination_chain", Reason: "is not a supported chain"}
	}
	if !e.registry.Supports(intent.DestinationChain) {
		return nil, &ValidationError{Field: "destination_chain", Reason: "has no configured gateway"}
	}

	return &intent, nil
}

// claim registers the burn as in flight, rejecting concurrent duplicates.
func (e *Engine) claim(burnTxHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.inflight[burnTxHash]; running {
		metrics.DuplicateIntents.Inc()
		return ErrConflict
	}
	e.inflight[burnTxHash] = struct{}{}
	return nil
}

func (e *Engine) release(burnTxHash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, burnTxHash)
}

// run executes the settlement steps. It writes the record to the ledger
// exactly once, when a terminal state is reached. Illegal state transitions
// abort the run with the transition error.
func (e *Engine) run(ctx context.Context, intent models.PaymentIntent) (*models.SettlementRecord, error) {
	record := models.NewSettlementRecord(intent)
	sm := newMachine()
	start := time.Now()

	// abort records the failed step, stamps the terminal state, and writes
	// the ledger record
	abort := func(next State, final models.FinalState, step models.StepName, cause error) (*models.SettlementRecord, error) {
		if err := sm.advance(next); err != nil {
			return record, err
		}
		e.failStep(record, step, cause)
		e.finalize(ctx, record, final, start)
		return record, cause
	}

	// The burn was already confirmed on the source chain by the caller;
	// record it as the first completed step.
	if err := sm.advance(StateBurnConfirmed); err != nil {
		return record, err
	}
	record.AppendStep(models.SettlementStep{
		Name:   models.StepBurn,
		State:  models.StepSuccess,
		TxHash: intent.BurnTxHash,
	})

	if err := sm.advance(StateAwaitingAttestation); err != nil {
		return record, err
	}
	att, err := e.poller.Await(ctx, intent.BurnTxHash)
	if err != nil {
		var timeout *attestation.TimeoutError
		if errors.As(err, &timeout) {
			return abort(StateTimedOut, models.FinalTimedOut, models.StepAttest, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrCancelled
		}
		return abort(StateFailed, models.FinalFailed, models.StepAttest, err)
	}

	if err := sm.advance(StateAttested); err != nil {
		return record, err
	}
	record.AppendStep(models.SettlementStep{
		Name:  models.StepAttest,
		State: models.StepSuccess,
	})

	gw, err := e.registry.Lookup(intent.DestinationChain)
	if err != nil {
		return abort(StateFailed, models.FinalFailed, models.StepMint, err)
	}

	mintTx, err := e.mint(ctx, gw, intent, att)
	if err != nil {
		return abort(StateFailed, models.FinalFailed, models.StepMint, err)
	}

	if err := sm.advance(StateMinted); err != nil {
		return record, err
	}
	record.AppendStep(models.SettlementStep{
		Name:   models.StepMint,
		State:  models.StepSuccess,
		TxHash: mintTx,
	})

	// When the merchant wallet is the relayer account itself, the mint
	// already delivered the funds and no transfer leg is needed.
	if !strings.EqualFold(gw.RelayerAddress(), intent.DestinationWallet) {
		transferTx, err := e.transfer(ctx, gw, intent)
		if err != nil {
			return abort(StateFailed, models.FinalFailed, models.StepTransfer, err)
		}
		record.AppendStep(models.SettlementStep{
			Name:   models.StepTransfer,
			State:  models.StepSuccess,
			TxHash: transferTx,
		})
	}

	if err := sm.advance(StateSettled); err != nil {
		return record, err
	}
	e.finalize(ctx, record, models.FinalComplete, start)

	e.logger.InfoWithChain(intent.DestinationChain, "Settled burn %s: %s USDC to %s in %d steps",
		intent.BurnTxHash, intent.Amount.String(), intent.DestinationWallet, len(record.Steps))
	return record, nil
}

// mint submits the attested message to the destination chain and waits for
// confirmation, honoring the chain's circuit breaker.
func (e *Engine) mint(ctx context.Context, gw gateway.Gateway, intent models.PaymentIntent, att *attestation.Attestation) (string, error) {
	chain := intent.DestinationChain

	if cb := e.breakers[chain]; cb != nil && cb.IsOpen() {
		return "", &ChainSubmissionError{Chain: chain, Op: "mint", Err: errors.New("circuit breaker open")}
	}

	message, err := att.MessageBytes()
	if err != nil {
		return "", &ChainSubmissionError{Chain: chain, Op: "mint", Err: err}
	}
	signature, err := att.AttestationBytes()
	if err != nil {
		return "", &ChainSubmissionError{Chain: chain, Op: "mint", Err: err}
	}

	txHash, err := gw.SubmitMint(ctx, gateway.MintRequest{
		BurnTxHash:  intent.BurnTxHash,
		Message:     message,
		Attestation: signature,
	})
	if err != nil {
		e.recordChainFailure(chain)
		return "", &ChainSubmissionError{Chain: chain, Op: "mint", Err: err}
	}

	if _, err := gw.WaitForConfirmation(ctx, txHash); err != nil {
		e.recordChainFailure(chain)
		return "", &ChainSubmissionError{Chain: chain, Op: "mint", Err: err}
	}

	if cb := e.breakers[chain]; cb != nil {
		cb.Reset()
	}
	return txHash, nil
}

// transfer moves the minted funds from the relayer to the merchant wallet.
func (e *Engine) transfer(ctx context.Context, gw gateway.Gateway, intent models.PaymentIntent) (string, error) {
	chain := intent.DestinationChain

	txHash, err := gw.SubmitTransfer(ctx, gateway.TransferRequest{
		To:     intent.DestinationWallet,
		Amount: intent.Amount,
	})
	if err != nil {
		e.recordChainFailure(chain)
		return "", &ChainSubmissionError{Chain: chain, Op: "transfer", Err: err}
	}

	if _, err := gw.WaitForConfirmation(ctx, txHash); err != nil {
		e.recordChainFailure(chain)
		return "", &ChainSubmissionError{Chain: chain, Op: "transfer", Err: err}
	}
	return txHash, nil
}

func (e *Engine) recordChainFailure(chain chains.ChainID) {
	if cb := e.breakers[chain]; cb != nil {
		if cb.RecordFailure() {
			e.logger.ErrorWithChain(chain, "Circuit breaker tripped")
		}
	}
}

func (e *Engine) failStep(record *models.SettlementRecord, step models.StepName, err error) {
	metrics.StepFailures.WithLabelValues(string(record.Intent.DestinationChain), string(step)).Inc()
	e.logger.ErrorWithChain(record.Intent.DestinationChain, "Step %s for burn %s failed: %v",
		step, record.Intent.BurnTxHash, err)
	record.AppendStep(models.SettlementStep{
		Name:  step,
		State: models.StepFailed,
		Error: err.Error(),
	})
}

// finalize stamps the terminal state and writes the record to the ledger.
// This is the record's only ledger write. The write uses a detached context
// so a cancelled settlement still leaves its terminal record behind.
func (e *Engine) finalize(_ context.Context, record *models.SettlementRecord, state models.FinalState, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record.FinalState = state
	record.CompletedAt = time.Now()

	chain := string(record.Intent.DestinationChain)
	metrics.SettlementsCompleted.WithLabelValues(chain, string(state)).Inc()
	metrics.SettlementDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())

	if err := e.ledger.Append(ctx, record); err != nil {
		var dup *ledger.DuplicateRecordError
		if errors.As(err, &dup) {
			metrics.LedgerWrites.WithLabelValues("duplicate").Inc()
			e.logger.Error("Ledger already holds a record for burn %s", record.Intent.BurnTxHash)
			return
		}
		metrics.LedgerWrites.WithLabelValues("error").Inc()
		e.logger.Error("Failed to write ledger record for burn %s: %v", record.Intent.BurnTxHash, err)
		return
	}
	metrics.LedgerWrites.WithLabelValues("ok").Inc()
}
