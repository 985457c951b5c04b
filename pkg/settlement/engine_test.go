package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcpay-hq/settler/pkg/attestation"
	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/circuitbreaker"
	"github.com/arcpay-hq/settler/pkg/gateway"
	"github.com/arcpay-hq/settler/pkg/ledger"
	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/merchant"
	"github.com/arcpay-hq/settler/pkg/models"
)

const (
	relayerAddr  = "0x5555555555555555555555555555555555555555"
	merchantAddr = "0x6666666666666666666666666666666666666666"
)

type fakeGateway struct {
	chain       chains.ChainID
	mintErr     error
	transferErr error

	mu            sync.Mutex
	mintCalls     int
	transferCalls int
}

func (g *fakeGateway) ChainID() chains.ChainID { return g.chain }
func (g *fakeGateway) RelayerAddress() string  { return relayerAddr }
func (g *fakeGateway) Nonce(ctx context.Context, account string) (uint64, error) {
	return 0, nil
}
func (g *fakeGateway) SubmitMint(ctx context.Context, req gateway.MintRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mintCalls++
	if g.mintErr != nil {
		return "", g.mintErr
	}
	return "0xmint", nil
}
func (g *fakeGateway) SubmitTransfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls++
	if g.transferErr != nil {
		return "", g.transferErr
	}
	return "0xtransfer", nil
}
func (g *fakeGateway) WaitForConfirmation(ctx context.Context, txHash string) (*gateway.Receipt, error) {
	return &gateway.Receipt{TxHash: txHash, Success: true}, nil
}
func (g *fakeGateway) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakePoller struct {
	att   *attestation.Attestation
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (p *fakePoller) Await(ctx context.Context, burnTxHash string) (*attestation.Attestation, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.att, nil
}

func (p *fakePoller) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func completeAttestation() *attestation.Attestation {
	return &attestation.Attestation{
		Status:      attestation.StatusComplete,
		Message:     "0xdead",
		Attestation: "0xbeef",
	}
}

func sampleIntent(burnTxHash string) models.PaymentIntent {
	return models.PaymentIntent{
		BurnTxHash:        burnTxHash,
		SourceChain:       chains.EthereumSepolia,
		DestinationChain:  chains.ArcTestnet,
		Amount:            decimal.RequireFromString("100.25"),
		DestinationWallet: merchantAddr,
	}
}

type engineFixture struct {
	engine  *Engine
	gateway *fakeGateway
	poller  *fakePoller
	ledger  *ledger.MemoryLedger
	breaker *circuitbreaker.CircuitBreaker
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	gw := &fakeGateway{chain: chains.ArcTestnet}
	registry := gateway.NewRegistry()
	registry.Register(gw)

	poller := &fakePoller{att: completeAttestation()}
	led := ledger.NewMemoryLedger()
	breaker := circuitbreaker.NewCircuitBreaker(true, 3, time.Minute, time.Minute)
	directory := &merchant.StaticDirectory{Entries: map[string]merchant.Settings{
		"acme": {DestinationWallet: merchantAddr, DestinationChain: chains.ArcTestnet},
	}}

	engine := NewEngine(registry, poller, led, directory,
		map[chains.ChainID]*circuitbreaker.CircuitBreaker{chains.ArcTestnet: breaker},
		&logger.EmptyLogger{})

	return &engineFixture{
		engine:  engine,
		gateway: gw,
		poller:  poller,
		ledger:  led,
		breaker: breaker,
	}
}

func stepNames(record *models.SettlementRecord) []models.StepName {
	names := make([]models.StepName, 0, len(record.Steps))
	for _, s := range record.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestSettleHappyPath(t *testing.T) {
	f := newFixture(t)

	record, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, models.FinalComplete, record.FinalState)
	assert.Equal(t, []models.StepName{
		models.StepBurn, models.StepAttest, models.StepMint, models.StepTransfer,
	}, stepNames(record))
	assert.Equal(t, "0xmint", record.Steps[2].TxHash)
	assert.Equal(t, "0xtransfer", record.Steps[3].TxHash)
	assert.False(t, record.CompletedAt.IsZero())

	stored, err := f.ledger.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestSettleSkipsTransferToRelayerWallet(t *testing.T) {
	f := newFixture(t)

	intent := sampleIntent("0xburn1")
	intent.DestinationWallet = relayerAddr

	record, err := f.engine.Settle(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, models.FinalComplete, record.FinalState)
	assert.Equal(t, []models.StepName{
		models.StepBurn, models.StepAttest, models.StepMint,
	}, stepNames(record))
	assert.Equal(t, 0, f.gateway.transferCalls)
}

func TestSettleAttestationTimeout(t *testing.T) {
	f := newFixture(t)
	f.poller.att = nil
	f.poller.err = &attestation.TimeoutError{BurnTxHash: "0xburn1", Attempts: 60, Budget: 30 * time.Minute}

	record, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.Error(t, err)
	require.NotNil(t, record)

	var timeout *attestation.TimeoutError
	assert.True(t, errors.As(err, &timeout))
	assert.Equal(t, models.FinalTimedOut, record.FinalState)
	assert.Equal(t, []models.StepName{models.StepBurn, models.StepAttest}, stepNames(record))
	assert.Equal(t, models.StepFailed, record.Steps[1].State)
	assert.Equal(t, 0, f.gateway.mintCalls)

	stored, err := f.ledger.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, models.FinalTimedOut, stored.FinalState)
}

func TestSettleMintFailureSkipsTransfer(t *testing.T) {
	f := newFixture(t)
	f.gateway.mintErr = errors.New("insufficient funds for gas")

	record, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.Error(t, err)
	require.NotNil(t, record)

	var submission *ChainSubmissionError
	require.True(t, errors.As(err, &submission))
	assert.Equal(t, chains.ArcTestnet, submission.Chain)
	assert.Equal(t, "mint", submission.Op)

	assert.Equal(t, models.FinalFailed, record.FinalState)
	assert.Equal(t, []models.StepName{
		models.StepBurn, models.StepAttest, models.StepMint,
	}, stepNames(record))
	assert.Equal(t, models.StepFailed, record.Steps[2].State)
	assert.Equal(t, 0, f.gateway.transferCalls)

	failures, _ := f.breaker.State()
	assert.Equal(t, 1, failures)
}

func TestSettleUnsupportedChainLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)

	intent := sampleIntent("0xburn1")
	intent.DestinationChain = chains.PolygonAmoy

	record, err := f.engine.Settle(context.Background(), intent)
	require.Error(t, err)
	assert.Nil(t, record)

	var invalid *ValidationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 0, f.ledger.Len())
	assert.Equal(t, 0, f.poller.callCount())
}

func TestSettleRejectsMalformedIntent(t *testing.T) {
	f := newFixture(t)

	for _, intent := range []models.PaymentIntent{
		func() models.PaymentIntent { i := sampleIntent(""); return i }(),
		func() models.PaymentIntent {
			i := sampleIntent("0xburn1")
			i.SourceChain = "UNKNOWN"
			return i
		}(),
		func() models.PaymentIntent {
			i := sampleIntent("0xburn1")
			i.Amount = decimal.Zero
			return i
		}(),
		func() models.PaymentIntent {
			i := sampleIntent("0xburn1")
			i.DestinationWallet = "not-an-address"
			return i
		}(),
	} {
		_, err := f.engine.Settle(context.Background(), intent)
		var invalid *ValidationError
		assert.True(t, errors.As(err, &invalid), "intent %+v", intent)
	}
	assert.Equal(t, 0, f.ledger.Len())
}

func TestSettleConcurrentDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	f.poller.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger so the second call lands while the first is in flight
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			_, results[i] = f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
		}(i)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.ledger.Len())
}

// staleGetLedger serves a fixed number of NotFound answers before reads hit
// the backing ledger, modeling a reader whose first terminal-record check
// raced a settlement that finished in between.
type staleGetLedger struct {
	inner *ledger.MemoryLedger

	mu    sync.Mutex
	stale int
}

func (l *staleGetLedger) Append(ctx context.Context, record *models.SettlementRecord) error {
	return l.inner.Append(ctx, record)
}

func (l *staleGetLedger) Get(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error) {
	l.mu.Lock()
	if l.stale > 0 {
		l.stale--
		l.mu.Unlock()
		return nil, ledger.ErrNotFound
	}
	l.mu.Unlock()
	return l.inner.Get(ctx, burnTxHash)
}

func TestSettleRacingReplaySubmitsMintOnce(t *testing.T) {
	gw := &fakeGateway{chain: chains.ArcTestnet}
	registry := gateway.NewRegistry()
	registry.Register(gw)

	stale := &staleGetLedger{inner: ledger.NewMemoryLedger()}
	engine := NewEngine(registry, &fakePoller{att: completeAttestation()}, stale,
		&merchant.StaticDirectory{}, nil, &logger.EmptyLogger{})

	first, err := engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.NoError(t, err)
	require.Equal(t, models.FinalComplete, first.FinalState)
	require.Equal(t, 1, gw.mintCalls)

	// The second caller's pre-claim ledger check misses the record the
	// first settlement just wrote; the re-check under the claim must catch
	// it instead of re-running the pipeline.
	stale.mu.Lock()
	stale.stale = 1
	stale.mu.Unlock()

	second, err := engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, gw.mintCalls)
	assert.Equal(t, 1, stale.inner.Len())
}

func TestSettleReplayReturnsStoredRecord(t *testing.T) {
	f := newFixture(t)

	first, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.NoError(t, err)
	pollsAfterFirst := f.poller.callCount()

	second, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.FinalComplete, second.FinalState)
	assert.Equal(t, pollsAfterFirst, f.poller.callCount())
	assert.Equal(t, 1, f.gateway.mintCalls)
}

func TestSettleResolvesMerchantSettings(t *testing.T) {
	f := newFixture(t)

	intent := models.PaymentIntent{
		BurnTxHash:  "0xburn1",
		SourceChain: chains.EthereumSepolia,
		Amount:      decimal.RequireFromString("10"),
		MerchantID:  "acme",
	}

	record, err := f.engine.Settle(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, merchantAddr, record.Intent.DestinationWallet)
	assert.Equal(t, chains.ArcTestnet, record.Intent.DestinationChain)
	assert.Equal(t, models.FinalComplete, record.FinalState)
}

func TestSettleUnknownMerchant(t *testing.T) {
	f := newFixture(t)

	intent := models.PaymentIntent{
		BurnTxHash:  "0xburn1",
		SourceChain: chains.EthereumSepolia,
		Amount:      decimal.RequireFromString("10"),
		MerchantID:  "nobody",
	}

	_, err := f.engine.Settle(context.Background(), intent)
	assert.ErrorIs(t, err, merchant.ErrNotConfigured)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestSettleMissingWalletAndMerchant(t *testing.T) {
	f := newFixture(t)

	intent := models.PaymentIntent{
		BurnTxHash:  "0xburn1",
		SourceChain: chains.EthereumSepolia,
		Amount:      decimal.RequireFromString("10"),
	}

	_, err := f.engine.Settle(context.Background(), intent)
	var invalid *ValidationError
	require.True(t, errors.As(err, &invalid))
}

func TestSettleCancellation(t *testing.T) {
	f := newFixture(t)
	f.poller.delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	record, err := f.engine.Settle(ctx, sampleIntent("0xburn1"))
	require.Error(t, err)
	require.NotNil(t, record)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, models.FinalFailed, record.FinalState)
	assert.Equal(t, 0, f.gateway.mintCalls)

	stored, err := f.ledger.Get(context.Background(), "0xburn1")
	require.NoError(t, err)
	assert.Equal(t, models.FinalFailed, stored.FinalState)
}

func TestSettleCircuitBreakerOpenFailsFast(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.breaker.RecordFailure()
	}
	require.True(t, f.breaker.IsOpen())

	record, err := f.engine.Settle(context.Background(), sampleIntent("0xburn1"))
	require.Error(t, err)
	require.NotNil(t, record)

	var submission *ChainSubmissionError
	require.True(t, errors.As(err, &submission))
	assert.Equal(t, models.FinalFailed, record.FinalState)
	assert.Equal(t, 0, f.gateway.mintCalls)
}
