// Package gateway abstracts per-chain RPC access for the settlement engine.
// One Gateway exists per supported chain; callers never see per-chain wiring.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arcpay-hq/settler/pkg/chains"
)

// Receipt describes a confirmed transaction on a settlement chain.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// MintRequest carries the attested burn message to mint against on the
// destination chain. Minted funds land on the relayer account.
type MintRequest struct {
	BurnTxHash  string
	Message     []byte
	Attestation []byte
}

// TransferRequest moves minted USDC from the relayer account to the
// merchant's destination wallet.
type TransferRequest struct {
	To     string
	Amount decimal.Decimal
}

// Gateway is the per-chain RPC client abstraction. Implementations
// encapsulate the chain's RPC endpoint and the stablecoin contract address.
type Gateway interface {
	// ChainID returns the chain this gateway submits to.
	ChainID() chains.ChainID

	// RelayerAddress returns the relayer account address, the recipient of
	// minted funds.
	RelayerAddress() string

	// Nonce returns the next pending nonce for an account.
	Nonce(ctx context.Context, account string) (uint64, error)

	// SubmitMint submits the mint transaction and returns its hash.
	SubmitMint(ctx context.Context, req MintRequest) (string, error)

	// SubmitTransfer submits a USDC transfer and returns its hash.
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)

	// WaitForConfirmation blocks until the transaction is mined or the
	// per-chain confirmation budget runs out.
	WaitForConfirmation(ctx context.Context, txHash string) (*Receipt, error)

	// BalanceOf returns the stablecoin balance of an account in USDC units.
	BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error)
}

// UnsupportedChainError is returned when no gateway is registered for a
// chain. It is raised at intent-acceptance time, never deep in execution.
type UnsupportedChainError struct {
	Chain chains.ChainID
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("no gateway registered for chain %s", e.Chain)
}

// UnknownTokenError is returned for a token address the gateway does not manage.
type UnknownTokenError struct {
	Chain chains.ChainID
	Token string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %s on chain %s", e.Token, e.Chain)
}

// Registry holds the gateways for all supported chains. It is constructed
// once at startup and handed to the settlement engine by reference.
type Registry struct {
	mu       sync.RWMutex
	gateways map[chains.ChainID]Gateway
}

// NewRegistry creates an empty gateway registry
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[chains.ChainID]Gateway),
	}
}

// Register adds a gateway to the registry, replacing any previous gateway
// for the same chain.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.ChainID()] = g
}

// Lookup returns the gateway for a chain, or an UnsupportedChainError.
func (r *Registry) Lookup(chain chains.ChainID) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, exists := r.gateways[chain]
	if !exists {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	return g, nil
}

// Supports reports whether a gateway is registered for the chain.
func (r *Registry) Supports(chain chains.ChainID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.gateways[chain]
	return exists
}

// Chains returns the chains with a registered gateway.
func (r *Registry) Chains() []chains.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]chains.ChainID, 0, len(r.gateways))
	for chain := range r.gateways {
		list = append(list, chain)
	}
	return list
}
