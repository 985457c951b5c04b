package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/logger"
)

type fakeNonceSource struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonceSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func TestNonceManagerReserveSequential(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	src := &fakeNonceSource{nonce: 10}
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")

	n1, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n1)

	// Subsequent reservations come from the local counter, not the RPC
	n2, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), n2)
	assert.Equal(t, 1, src.calls)
}

func TestNonceManagerReserveError(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	src := &fakeNonceSource{err: errors.New("rpc down")}
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := nm.Reserve(context.Background(), chains.PolygonAmoy, src, account)
	assert.Error(t, err)
}

func TestNonceManagerPerChainIsolation(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")

	sepolia := &fakeNonceSource{nonce: 5}
	amoy := &fakeNonceSource{nonce: 100}

	n1, err := nm.Reserve(context.Background(), chains.EthereumSepolia, sepolia, account)
	require.NoError(t, err)
	n2, err := nm.Reserve(context.Background(), chains.PolygonAmoy, amoy, account)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), n1)
	assert.Equal(t, uint64(100), n2)
}

func TestNonceManagerConfirmHash(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	src := &fakeNonceSource{nonce: 0}
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash := common.HexToHash("0xabc1")

	nonce, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)

	nm.Track(chains.EthereumSepolia, hash, nonce)
	assert.Equal(t, 1, nm.PendingCount(chains.EthereumSepolia))

	assert.True(t, nm.ConfirmHash(chains.EthereumSepolia, hash))
	assert.Equal(t, 0, nm.PendingCount(chains.EthereumSepolia))

	// Confirming again is a no-op
	assert.False(t, nm.ConfirmHash(chains.EthereumSepolia, hash))
}

func TestNonceManagerFailHashReusesNonce(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	src := &fakeNonceSource{nonce: 7}
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash := common.HexToHash("0xdead")

	nonce, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	nm.Track(chains.EthereumSepolia, hash, nonce)
	nm.FailHash(chains.EthereumSepolia, hash)

	// Failed nonce must be handed out again before the counter advances
	next, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)
}

func TestNonceManagerReleaseRollsBackCounter(t *testing.T) {
	nm := NewNonceManager(&logger.EmptyLogger{})
	src := &fakeNonceSource{nonce: 3}
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")

	nonce, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)

	nm.Release(chains.EthereumSepolia, nonce)

	next, err := nm.Reserve(context.Background(), chains.EthereumSepolia, src, account)
	require.NoError(t, err)
	assert.Equal(t, nonce, next)
}
