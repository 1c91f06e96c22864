// Package vault drives the on-chain treasury vault, the only contract
// allowed to move the managed deposit token between venues. The client
// builds calldata, simulates every call before broadcasting, signs with
// the executor key and waits for receipts.
package vault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const defaultReceiptPoll = 2 * time.Second

// Backend is the subset of the EVM client the vault needs. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config wires a vault client to a chain.
type Config struct {
	Backend Backend
	// Address is the vault contract.
	Address common.Address
	// Token is the deposit token the vault manages.
	Token   common.Address
	ChainID *big.Int
	// PrivateKeyHex is the executor key. Empty means the client can read
	// and simulate but never broadcast.
	PrivateKeyHex string
	ReceiptPoll   time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	backend     Backend
	address     common.Address
	token       common.Address
	chainID     *big.Int
	key         *ecdsa.PrivateKey
	from        common.Address
	receiptPoll time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, errors.New("evm backend is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	c := &Client{
		backend:     cfg.Backend,
		address:     cfg.Address,
		token:       cfg.Token,
		chainID:     new(big.Int).Set(cfg.ChainID),
		receiptPoll: cfg.ReceiptPoll,
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = defaultReceiptPoll
	}
	if raw := strings.TrimSpace(cfg.PrivateKeyHex); raw != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse executor key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// HasKey reports whether the client can sign transactions.
func (c *Client) HasKey() bool { return c.key != nil }

// From is the executor address, zero when no key is loaded.
func (c *Client) From() common.Address { return c.from }

// Address is the vault contract address.
func (c *Client) Address() common.Address { return c.address }

// Balance returns the vault's deposit token balance in raw token units.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	return c.erc20Balance(ctx, c.token)
}

// LpBalance returns the vault's balance of the given LP token.
func (c *Client) LpBalance(ctx context.Context, lpToken common.Address) (*big.Int, error) {
	return c.erc20Balance(ctx, lpToken)
}

func (c *Client) erc20Balance(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", c.address)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf on %s: %w", tokenAddr.Hex(), err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf returned a non integer value")
	}
	return balance, nil
}

// MovementCapBps reads the per-movement cap the vault enforces, in basis
// points of its current balance.
func (c *Client) MovementCapBps(ctx context.Context) (int, error) {
	out, err := c.view(ctx, "movementCapBps")
	if err != nil {
		return 0, err
	}
	values, err := vaultABI.Unpack("movementCapBps", out)
	if err != nil {
		return 0, fmt.Errorf("decode movementCapBps: %w", err)
	}
	cap, ok := values[0].(*big.Int)
	if !ok || !cap.IsInt64() {
		return 0, errors.New("movementCapBps returned an out of range value")
	}
	return int(cap.Int64()), nil
}

// HasOpenPosition reads the vault's own view of whether LP is deployed.
func (c *Client) HasOpenPosition(ctx context.Context) (bool, error) {
	out, err := c.view(ctx, "hasOpenLpPosition")
	if err != nil {
		return false, err
	}
	values, err := vaultABI.Unpack("hasOpenLpPosition", out)
	if err != nil {
		return false, fmt.Errorf("decode hasOpenLpPosition: %w", err)
	}
	open, ok := values[0].(bool)
	if !ok {
		return false, errors.New("hasOpenLpPosition returned a non boolean value")
	}
	return open, nil
}

// SupportsAnytimeLiquidity probes whether the vault can rotate atomically.
// Older vault deployments do not expose the method; any failure is treated
// as the legacy park-first behaviour.
func (c *Client) SupportsAnytimeLiquidity(ctx context.Context) bool {
	out, err := c.view(ctx, "supportsAnytimeLiquidity")
	if err != nil {
		return false
	}
	values, err := vaultABI.Unpack("supportsAnytimeLiquidity", out)
	if err != nil || len(values) != 1 {
		return false
	}
	supported, ok := values[0].(bool)
	return ok && supported
}

func (c *Client) view(ctx context.Context, method string) ([]byte, error) {
	data, err := vaultABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// Simulate runs the calldata through eth_call from the executor address
// without broadcasting. A revert surfaces as an error.
func (c *Client) Simulate(ctx context.Context, data []byte) error {
	msg := ethereum.CallMsg{From: c.from, To: &c.address, Data: data}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("simulate vault call: %w", err)
	}
	return nil
}

// Send signs the calldata as a legacy transaction against the vault and
// broadcasts it. Gas is estimated with 20% headroom over the estimate.
func (c *Client) Send(ctx context.Context, data []byte) (*types.Transaction, error) {
	if c.key == nil {
		return nil, errors.New("executor key is not loaded")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("fetch pending nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &c.address,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit + gasLimit/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("broadcast transaction %s: %w", signed.Hash().Hex(), err)
	}
	return signed, nil
}

// WaitReceipt polls until the transaction is mined or the context expires.
// A mined receipt with a failed status is returned alongside an error so
// callers can still record the inclusion block.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted on chain", txHash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// BlockTime returns the timestamp of the given block.
func (c *Client) BlockTime(ctx context.Context, number *big.Int) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("fetch header: %w", err)
	}
	return header.Time, nil
}
