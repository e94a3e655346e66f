// Package chain is the go-ethereum client for the deployed prediction-market
// contract. The ABI is statically known and versioned; a schema mismatch is
// a deployment-configuration error, not something to probe for at runtime.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/trustbet/relayd/internal/crypto"
	"github.com/trustbet/relayd/internal/domain"
)

// marketABIJSON is the v1 prediction-market interface.
const marketABIJSON = `[
  {"type":"function","name":"betWithPermit","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"},{"name":"side","type":"bool"},{"name":"amount","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"createMarket","stateMutability":"nonpayable","inputs":[{"name":"question","type":"string"},{"name":"bettingEndTime","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"resolveMarket","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"},{"name":"outcome","type":"bool"}],"outputs":[]},
  {"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getMarket","stateMutability":"view","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"question","type":"string"},{"name":"totalYesBets","type":"uint256"},{"name":"totalNoBets","type":"uint256"},{"name":"bettingEndTime","type":"uint256"},{"name":"resolved","type":"bool"},{"name":"outcome","type":"bool"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"getMarketCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"feePercentage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// tokenABIJSON is the slice of the ERC-2612 staking token we read from.
const tokenABIJSON = `[
  {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Config holds chain connection and submission parameters.
type Config struct {
	RPCURL        string
	ChainID       int64
	MarketAddress common.Address
	TokenAddress  common.Address
	GasLimit      uint64
	PollInterval  time.Duration
}

// Client submits relayer transactions to the market contract and serves
// reads. It implements relay.Endpoint and permit.NonceSource.
type Client struct {
	eth       *ethclient.Client
	identity  *crypto.Identity
	cfg       Config
	marketABI abi.ABI
	tokenABI  abi.ABI

	mu      sync.Mutex
	pending map[common.Hash]pendingTx
}

type pendingTx struct {
	sequence uint64
	marketID uint64
}

// Dial connects to the RPC endpoint and parses the static ABIs.
func Dial(ctx context.Context, cfg Config, identity *crypto.Identity) (*Client, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}

	mABI, err := abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse market abi: %w", err)
	}
	tABI, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse token abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	return &Client{
		eth:       eth,
		identity:  identity,
		cfg:       cfg,
		marketABI: mABI,
		tokenABI:  tABI,
		pending:   make(map[common.Hash]pendingTx),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// PendingSequence returns the relayer account's pending nonce.
func (c *Client) PendingSequence(ctx context.Context) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, c.identity.Address())
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce: %w", domain.ErrNetwork)
	}
	return n, nil
}

// SubmitBet packs, signs, and sends a betWithPermit transaction under the
// given account nonce.
func (c *Client) SubmitBet(ctx context.Context, sequence uint64, job domain.RelayJob) (common.Hash, error) {
	data, err := c.marketABI.Pack("betWithPermit",
		new(big.Int).SetUint64(job.MarketID),
		job.Side,
		job.Amount,
		new(big.Int).SetUint64(job.Deadline),
		job.V,
		job.R,
		job.S,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack betWithPermit: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas price: %w", domain.ErrNetwork)
	}

	to := c.cfg.MarketAddress
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    sequence,
		To:       &to,
		Gas:      c.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.LatestSignerForChainID(big.NewInt(c.cfg.ChainID))
	signed, err := types.SignTx(tx, signer, c.identity.Key())
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if !isSlotTaken(err) {
			return common.Hash{}, classifySendError(err)
		}
		// The pool already holds this transaction, or the nonce was consumed
		// by an earlier attempt. Either way the slot is spent: report the
		// hash and let confirmation polling settle the outcome. Returning a
		// transient error here would retry under the same nonce forever.
	}

	hash := signed.Hash()
	c.mu.Lock()
	c.pending[hash] = pendingTx{sequence: sequence, marketID: job.MarketID}
	c.mu.Unlock()
	return hash, nil
}

// WaitConfirmed polls for the transaction receipt until ctx expires. A
// reverted transaction surfaces as a ledger rejection.
func (c *Client) WaitConfirmed(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			c.mu.Lock()
			p := c.pending[txHash]
			delete(c.pending, txHash)
			c.mu.Unlock()

			if rcpt.Status != types.ReceiptStatusSuccessful {
				return domain.Receipt{}, fmt.Errorf("chain: tx %s reverted: %w", txHash.Hex(), domain.ErrLedgerRejected)
			}
			return domain.Receipt{
				TxHash:   txHash,
				Sequence: p.sequence,
				MarketID: p.marketID,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return domain.Receipt{}, fmt.Errorf("chain: fetch receipt: %w", domain.ErrNetwork)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Nonce reads the owner's ERC-2612 permit nonce from the staking token.
func (c *Client) Nonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := c.tokenABI.Pack("nonces", owner)
	if err != nil {
		return nil, fmt.Errorf("chain: pack nonces: %w", err)
	}
	out, err := c.call(ctx, c.cfg.TokenAddress, data)
	if err != nil {
		return nil, err
	}
	vals, err := c.tokenABI.Unpack("nonces", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack nonces: %w", err)
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}

// GetMarket reads one market from the contract.
func (c *Client) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	data, err := c.marketABI.Pack("getMarket", new(big.Int).SetUint64(marketID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: pack getMarket: %w", err)
	}
	out, err := c.call(ctx, c.cfg.MarketAddress, data)
	if err != nil {
		return domain.Market{}, err
	}
	vals, err := c.marketABI.Unpack("getMarket", out)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: unpack getMarket: %w", err)
	}

	endUnix := abi.ConvertType(vals[3], new(big.Int)).(*big.Int)
	return domain.Market{
		ID:       marketID,
		Question: vals[0].(string),
		TotalYes: abi.ConvertType(vals[1], new(big.Int)).(*big.Int),
		TotalNo:  abi.ConvertType(vals[2], new(big.Int)).(*big.Int),
		EndTime:  time.Unix(endUnix.Int64(), 0).UTC(),
		Resolved: vals[4].(bool),
		Outcome:  vals[5].(bool),
		Active:   vals[6].(bool),
	}, nil
}

// GetMarketCount reads the number of markets ever created.
func (c *Client) GetMarketCount(ctx context.Context) (uint64, error) {
	data, err := c.marketABI.Pack("getMarketCount")
	if err != nil {
		return 0, fmt.Errorf("chain: pack getMarketCount: %w", err)
	}
	out, err := c.call(ctx, c.cfg.MarketAddress, data)
	if err != nil {
		return 0, err
	}
	vals, err := c.marketABI.Unpack("getMarketCount", out)
	if err != nil {
		return 0, fmt.Errorf("chain: unpack getMarketCount: %w", err)
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int).Uint64(), nil
}

// FeePercentage reads the contract's fee percentage. Payouts are computed
// fee-free; this is informational only.
func (c *Client) FeePercentage(ctx context.Context) (*big.Int, error) {
	data, err := c.marketABI.Pack("feePercentage")
	if err != nil {
		return nil, fmt.Errorf("chain: pack feePercentage: %w", err)
	}
	out, err := c.call(ctx, c.cfg.MarketAddress, data)
	if err != nil {
		return nil, err
	}
	vals, err := c.marketABI.Unpack("feePercentage", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack feePercentage: %w", err)
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}

// ListMarkets reads every market in id order.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	count, err := c.GetMarketCount(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, count)
	for id := uint64(0); id < count; id++ {
		m, err := c.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("chain: call reverted: %w", domain.ErrLedgerRejected)
		}
		return nil, fmt.Errorf("chain: call: %w", domain.ErrNetwork)
	}
	return out, nil
}

// classifySendError maps RPC submission failures onto the relay error
// taxonomy. String matching is the only channel most RPC servers give us.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "underpriced") || strings.Contains(msg, "replacement transaction"):
		return fmt.Errorf("chain: send: %v: %w", err, domain.ErrUnderpriced)
	case isRevertMessage(msg):
		return fmt.Errorf("chain: send: %v: %w", err, domain.ErrLedgerRejected)
	default:
		return fmt.Errorf("chain: send: %v: %w", err, domain.ErrNetwork)
	}
}

// isSlotTaken reports whether a send failure means the nonce slot is already
// occupied, by this transaction or a prior attempt.
func isSlotTaken(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "already known")
}

func isRevert(err error) bool {
	return isRevertMessage(strings.ToLower(err.Error()))
}

func isRevertMessage(msg string) bool {
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "revert") ||
		strings.Contains(msg, "invalid opcode")
}
