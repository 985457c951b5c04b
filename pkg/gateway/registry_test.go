package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcpay-hq/settler/pkg/chains"
)

type stubGateway struct {
	chain chains.ChainID
}

func (s *stubGateway) ChainID() chains.ChainID { return s.chain }
func (s *stubGateway) RelayerAddress() string  { return "0x2222222222222222222222222222222222222222" }
func (s *stubGateway) Nonce(ctx context.Context, account string) (uint64, error) {
	return 0, nil
}
func (s *stubGateway) SubmitMint(ctx context.Context, req MintRequest) (string, error) {
	return "0xmint", nil
}
func (s *stubGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	return "0xtransfer", nil
}
func (s *stubGateway) WaitForConfirmation(ctx context.Context, txHash string) (*Receipt, error) {
	return &Receipt{TxHash: txHash, Success: true}, nil
}
func (s *stubGateway) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGateway{chain: chains.EthereumSepolia})

	g, err := r.Lookup(chains.EthereumSepolia)
	require.NoError(t, err)
	assert.Equal(t, chains.EthereumSepolia, g.ChainID())
}

func TestRegistryLookupUnsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGateway{chain: chains.EthereumSepolia})

	_, err := r.Lookup(chains.PolygonAmoy)
	require.Error(t, err)

	var unsupported *UnsupportedChainError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, chains.PolygonAmoy, unsupported.Chain)
}

func TestRegistrySupports(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Supports(chains.ArcTestnet))

	r.Register(&stubGateway{chain: chains.ArcTestnet})
	assert.True(t, r.Supports(chains.ArcTestnet))
	assert.Len(t, r.Chains(), 1)
}
