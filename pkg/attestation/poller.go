package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/metrics"
)

// TimeoutError is returned when the attestation budget is exhausted without
// the service producing a complete attestation.
type TimeoutError struct {
	BurnTxHash string
	Attempts   int
	Budget     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attestation for burn %s not available after %d polls (%s)",
		e.BurnTxHash, e.Attempts, e.Budget)
}

// Poller waits for an attestation to become available, querying the service
// on a fixed schedule with a bounded number of attempts.
type Poller struct {
	client      Client
	interval    time.Duration
	maxAttempts int
	logger      logger.Logger
}

// NewPoller creates an attestation poller
func NewPoller(client Client, interval time.Duration, maxAttempts int, log logger.Logger) *Poller {
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// Budget returns the total wall-clock duration the poller is willing to wait.
func (p *Poller) Budget() time.Duration {
	return time.Duration(p.maxAttempts) * p.interval
}

// Await polls the attestation service until the attestation for the burn is
// complete. The first poll happens immediately, subsequent polls every
// interval, for at most maxAttempts queries. Transient service errors are
// logged and retried; they consume an attempt but never abort the wait.
func (p *Poller) Await(ctx context.Context, burnTxHash string) (*Attestation, error) {
	start := time.Now()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		metrics.AttestationPolls.Inc()

		att, err := p.client.Fetch(ctx, burnTxHash)
		switch {
		case err != nil:
			metrics.AttestationPollErrors.Inc()
			p.logger.Debug("Attestation poll %d/%d for burn %s failed: %v",
				attempt, p.maxAttempts, burnTxHash, err)
		case att.Complete():
			metrics.AttestationWaitTime.Observe(time.Since(start).Seconds())
			p.logger.Info("Attestation for burn %s available after %d polls (%s)",
				burnTxHash, attempt, time.Since(start).Round(time.Millisecond))
			return att, nil
		default:
			p.logger.Debug("Attestation for burn %s still %s (poll %d/%d)",
				burnTxHash, att.Status, attempt, p.maxAttempts)
		}

		if attempt == p.maxAttempts {
			break
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("attestation wait for burn %s: %w", burnTxHash, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, &TimeoutError{
		BurnTxHash: burnTxHash,
		Attempts:   p.maxAttempts,
		Budget:     p.Budget(),
	}
}
