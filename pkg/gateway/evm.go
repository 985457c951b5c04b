package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/config"
	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/models"
)

// receiptPollInterval is how often a pending transaction is re-checked while
// waiting for confirmation.
const receiptPollInterval = 2 * time.Second

// EVMGateway is the Gateway implementation for EVM settlement chains.
type EVMGateway struct {
	chain          chains.ChainID
	rpcURL         string
	confirmTimeout time.Duration

	client      *ethclient.Client
	auth        *bind.TransactOpts
	usdc        common.Address
	transmitter common.Address

	usdcContract        *bind.BoundContract
	transmitterContract *bind.BoundContract

	nonces *NonceManager
	logger logger.Logger
}

var _ Gateway = (*EVMGateway)(nil)

// NewEVMGateway dials the chain's RPC endpoint and initializes contract
// bindings and the relayer transactor.
func NewEVMGateway(ctx context.Context, cfg config.ChainConfig, privateKey string, nonces *NonceManager, log logger.Logger) (*EVMGateway, error) {
	g := &EVMGateway{
		chain:          cfg.Chain,
		rpcURL:         cfg.RPCURL,
		confirmTimeout: cfg.ConfirmTimeout,
		usdc:           common.HexToAddress(cfg.USDCAddress),
		transmitter:    common.HexToAddress(cfg.TransmitterAddress),
		nonces:         nonces,
		logger:         log,
	}
	if err := g.connect(ctx, privateKey); err != nil {
		return nil, fmt.Errorf("failed to connect to chain %s: %w", cfg.Chain, err)
	}
	return g, nil
}

// connect establishes the RPC connection and builds the relayer authenticator
func (g *EVMGateway) connect(ctx context.Context, privateKey string) error {
	client, err := ethclient.DialContext(ctx, g.rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %w", err)
	}
	g.client = client

	if privateKey != "" {
		auth, err := createAuthenticator(privateKey, g.chain)
		if err != nil {
			return fmt.Errorf("failed to create authenticator: %w", err)
		}
		g.auth = auth
	}

	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	g.usdcContract = bind.NewBoundContract(g.usdc, erc20ABI, client, client, client)

	transmitterABI, err := abi.JSON(strings.NewReader(transmitterABIJSON))
	if err != nil {
		return fmt.Errorf("failed to parse transmitter ABI: %w", err)
	}
	g.transmitterContract = bind.NewBoundContract(g.transmitter, transmitterABI, client, client, client)

	return nil
}

// ChainID returns the chain this gateway submits to.
func (g *EVMGateway) ChainID() chains.ChainID {
	return g.chain
}

// RelayerAddress returns the relayer account address.
func (g *EVMGateway) RelayerAddress() string {
	if g.auth == nil {
		return ""
	}
	return g.auth.From.Hex()
}

// Connected reports whether the RPC client is available.
func (g *EVMGateway) Connected() bool {
	return g.client != nil
}

// LatestBlockNumber gets the latest block number from the chain.
func (g *EVMGateway) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if g.client == nil {
		return 0, fmt.Errorf("client not connected")
	}
	return g.client.BlockNumber(ctx)
}

// Nonce returns the next pending nonce for an account.
func (g *EVMGateway) Nonce(ctx context.Context, account string) (uint64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("invalid account address: %s", account)
	}
	return g.client.PendingNonceAt(ctx, common.HexToAddress(account))
}

// SubmitMint submits the attested burn message to the message transmitter.
// Minted USDC lands on the relayer account.
func (g *EVMGateway) SubmitMint(ctx context.Context, req MintRequest) (string, error) {
	tx, err := g.transact(ctx, g.transmitterContract, "receiveMessage", req.Message, req.Attestation)
	if err != nil {
		return "", fmt.Errorf("failed to submit mint for burn %s: %w", req.BurnTxHash, err)
	}

	g.logger.InfoWithChain(g.chain, "Submitted mint for burn %s: %s", req.BurnTxHash, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// SubmitTransfer submits a USDC transfer from the relayer to the given wallet.
func (g *EVMGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if !common.IsHexAddress(req.To) {
		return "", fmt.Errorf("invalid transfer recipient: %s", req.To)
	}

	// USDC carries 6 decimals on every supported chain
	baseUnits := req.Amount.Shift(models.AmountDecimals).BigInt()

	tx, err := g.transact(ctx, g.usdcContract, "transfer", common.HexToAddress(req.To), baseUnits)
	if err != nil {
		return "", fmt.Errorf("failed to submit transfer to %s: %w", req.To, err)
	}

	g.logger.InfoWithChain(g.chain, "Submitted transfer of %s USDC to %s: %s",
		req.Amount.String(), req.To, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// transact reserves a nonce, sends the transaction, and tracks its hash.
func (g *EVMGateway) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*types.Transaction, error) {
	if g.auth == nil {
		return nil, fmt.Errorf("no relayer key configured")
	}

	nonce, err := g.nonces.Reserve(ctx, g.chain, g.client, g.auth.From)
	if err != nil {
		return nil, err
	}

	opts := *g.auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		g.nonces.Release(g.chain, nonce)
		return nil, err
	}

	g.nonces.Track(g.chain, tx.Hash(), nonce)
	return tx, nil
}

// WaitForConfirmation blocks until the transaction is mined or the per-chain
// confirmation budget runs out.
func (g *EVMGateway) WaitForConfirmation(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)

	waitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(waitCtx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				g.nonces.FailHash(g.chain, hash)
				return nil, fmt.Errorf("transaction %s reverted on chain %s", txHash, g.chain)
			}
			g.nonces.ConfirmHash(g.chain, hash)
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     true,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			g.logger.DebugWithChain(g.chain, "Receipt lookup for %s: %v", txHash, err)
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("confirmation wait for %s on chain %s: %w", txHash, g.chain, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// BalanceOf returns the USDC balance of an account.
func (g *EVMGateway) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	if !strings.EqualFold(token, g.usdc.Hex()) {
		return decimal.Zero, &UnknownTokenError{Chain: g.chain, Token: token}
	}
	if !common.IsHexAddress(account) {
		return decimal.Zero, fmt.Errorf("invalid account address: %s", account)
	}

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := g.usdcContract.Call(callOpts, &out, "balanceOf", common.HexToAddress(account)); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get USDC balance: %w", err)
	}
	if len(out) == 0 || out[0] == nil {
		return decimal.Zero, fmt.Errorf("empty result from balanceOf call")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid balanceOf result type")
	}

	return decimal.NewFromBigInt(balance, -models.AmountDecimals), nil
}

// Close releases the underlying RPC connection.
func (g *EVMGateway) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// createAuthenticator builds the relayer transactor from a hex private key
func createAuthenticator(privateKeyHex string, chain chains.ChainID) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, big.NewInt(chain.EVMChainID()))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	return auth, nil
}

const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const transmitterABIJSON = `[
	{
		"inputs": [
			{"name": "message", "type": "bytes"},
			{"name": "attestation", "type": "bytes"}
		],
		"name": "receiveMessage",
		"outputs": [{"name": "success", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
