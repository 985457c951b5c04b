package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/logger"
)

// nonceSource is the part of the RPC client the nonce manager needs.
type nonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// txStatus represents the status of a tracked transaction
type txStatus int

const (
	txPending txStatus = iota
	txConfirmed
	txFailed
)

// txRecord tracks details about a submitted transaction
type txRecord struct {
	hash      common.Hash
	nonce     uint64
	createdAt time.Time
	status    txStatus
}

// chainNonceData holds nonce data for a specific chain
type chainNonceData struct {
	// Current nonce counter
	currentNonce uint64
	// Map of pending transactions by nonce
	pendingTxs map[uint64]*txRecord
	// Last time nonce was synchronized with the chain
	lastSync time.Time
	// Chain-specific mutex for nonce operations; serializes submission
	// for the relayer account on this chain
	mu sync.Mutex
}

// NonceManager hands out relayer nonces per chain. Transaction submission
// for the relayer account on a single chain serializes through it, so
// concurrent settlements never race a nonce.
type NonceManager struct {
	chains map[chains.ChainID]*chainNonceData
	mu     sync.RWMutex
	logger logger.Logger

	// resyncInterval bounds how stale the local counter may get before the
	// chain is consulted again
	resyncInterval time.Duration
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		chains:         make(map[chains.ChainID]*chainNonceData),
		logger:         log,
		resyncInterval: 5 * time.Minute,
	}
}

// chainData returns the nonce data for a chain, initializing it if needed
func (nm *NonceManager) chainData(chain chains.ChainID) *chainNonceData {
	nm.mu.RLock()
	data, exists := nm.chains[chain]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.chains[chain]; exists {
		return data
	}
	data = &chainNonceData{
		pendingTxs: make(map[uint64]*txRecord),
	}
	nm.chains[chain] = data
	return data
}

// Reserve allocates and returns the next available nonce for the relayer
// account on a chain, resyncing with the chain when the local counter is
// stale.
func (nm *NonceManager) Reserve(ctx context.Context, chain chains.ChainID, src nonceSource, account common.Address) (uint64, error) {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	if data.lastSync.IsZero() || time.Since(data.lastSync) > nm.resyncInterval {
		nonce, err := src.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %w", err)
		}

		// If our tracked nonce is behind, update it
		if nonce > data.currentNonce {
			nm.logger.DebugWithChain(chain, "Updating nonce: %d -> %d", data.currentNonce, nonce)
			data.currentNonce = nonce
		}
		data.lastSync = time.Now()
	}

	nonce := data.currentNonce
	data.currentNonce++
	return nonce, nil
}

// Track records a broadcast transaction for the given nonce.
func (nm *NonceManager) Track(chain chains.ChainID, hash common.Hash, nonce uint64) {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	data.pendingTxs[nonce] = &txRecord{
		hash:      hash,
		nonce:     nonce,
		createdAt: time.Now(),
		status:    txPending,
	}
}

// ConfirmHash marks the transaction with the given hash as confirmed and
// stops tracking it.
func (nm *NonceManager) ConfirmHash(chain chains.ChainID, hash common.Hash) bool {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	for nonce, tx := range data.pendingTxs {
		if tx.hash == hash {
			tx.status = txConfirmed
			delete(data.pendingTxs, nonce)
			return true
		}
	}
	return false
}

// FailHash marks the transaction with the given hash as failed. When it held
// the lowest pending nonce, the nonce is released for reuse so the account
// does not stall behind a gap.
func (nm *NonceManager) FailHash(chain chains.ChainID, hash common.Hash) {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	for nonce, tx := range data.pendingTxs {
		if tx.hash != hash {
			continue
		}
		tx.status = txFailed
		if nonce == lowestPendingNonce(data) && data.currentNonce > nonce {
			nm.logger.DebugWithChain(chain, "Reusing nonce %d after transaction failure", nonce)
			data.currentNonce = nonce
		}
		delete(data.pendingTxs, nonce)
		return
	}
}

// Release returns a reserved nonce that was never broadcast.
func (nm *NonceManager) Release(chain chains.ChainID, nonce uint64) {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	if _, pending := data.pendingTxs[nonce]; pending {
		return
	}
	// Roll the counter back only when nothing was allocated after it
	if len(data.pendingTxs) == 0 && data.currentNonce == nonce+1 {
		data.currentNonce = nonce
	}
}

// Sync synchronizes the local nonce counter with the chain.
func (nm *NonceManager) Sync(ctx context.Context, chain chains.ChainID, src nonceSource, account common.Address) error {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()

	nonce, err := src.PendingNonceAt(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}

	if nonce > data.currentNonce {
		nm.logger.DebugWithChain(chain, "Updating nonce: %d -> %d", data.currentNonce, nonce)
		data.currentNonce = nonce
	}
	data.lastSync = time.Now()
	return nil
}

// PendingCount returns the number of tracked in-flight transactions for a chain.
func (nm *NonceManager) PendingCount(chain chains.ChainID) int {
	data := nm.chainData(chain)

	data.mu.Lock()
	defer data.mu.Unlock()
	return len(data.pendingTxs)
}

// lowestPendingNonce finds the lowest nonce that is still pending.
// Caller must hold the chain mutex.
func lowestPendingNonce(data *chainNonceData) uint64 {
	var lowest uint64
	found := false
	for nonce := range data.pendingTxs {
		if !found || nonce < lowest {
			lowest = nonce
			found = true
		}
	}
	return lowest
}
