// Package evm talks to the LendingPlatform contract over Ethereum JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

var _ ledger.Client = (*Client)(nil)

// Backend is the subset of the Ethereum RPC used for reads and log polling.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Sender submits transactions the node signs itself (eth_sendTransaction).
type Sender interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type Config struct {
	Contract          common.Address
	StartBlock        uint64
	RPS               float64
	Burst             int
	EventPollInterval time.Duration
	MaxBlockRange     uint64
	ReceiptInterval   time.Duration
	ReceiptTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.EventPollInterval <= 0 {
		c.EventPollInterval = 2 * time.Second
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 2000
	}
	if c.ReceiptInterval <= 0 {
		c.ReceiptInterval = time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}
}

type Client struct {
	backend Backend
	sender  Sender
	abi     abi.ABI
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger

	mu         sync.Mutex
	nextBlock  uint64
	blockTimes map[uint64]time.Time
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string, cfg Config, logger *slog.Logger) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	rc, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return New(ethclient.NewClient(rc), rc, cfg, logger)
}

func New(backend Backend, sender Sender, cfg Config, logger *slog.Logger) (*Client, error) {
	if backend == nil || sender == nil {
		return nil, fmt.Errorf("evm backend and sender required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address required")
	}
	cfg.applyDefaults()
	parsed, err := parseABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:    backend,
		sender:     sender,
		abi:        parsed,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		log:        logger.With(slog.String("component", "evm-ledger")),
		nextBlock:  cfg.StartBlock,
		blockTimes: make(map[uint64]time.Time),
	}, nil
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, what, err)
}

// wait paces every RPC through the shared limiter.
func (c *Client) wait(ctx context.Context) error { return c.limiter.Wait(ctx) }

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	to := c.cfg.Contract
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, unavailable(method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", loan.ErrInvalidLoanTerms, method, err)
	}
	return out, nil
}

func toUint64(v *big.Int) (uint64, bool) {
	if v == nil || !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}

func (c *Client) PollAllLoanIDs(ctx context.Context) ([]loan.ID, error) {
	out, err := c.call(ctx, "getAllLoanIds")
	if err != nil {
		return nil, err
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAllLoanIds: unexpected %T", out[0])
	}
	ids := make([]loan.ID, 0, len(raw))
	for _, v := range raw {
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("getAllLoanIds: id %s out of range", v)
		}
		ids = append(ids, loan.ID(n))
	}
	return ids, nil
}

// PollLoan reads the contract's loans mapping. The contract keeps no
// timestamps, so they are left zero for DecodeSnapshot to default.
func (c *Client) PollLoan(ctx context.Context, id loan.ID) (ledger.Snapshot, error) {
	out, err := c.call(ctx, "loans", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if len(out) != 7 {
		return ledger.Snapshot{}, fmt.Errorf("%w: loans(%s) returned %d fields", loan.ErrInvalidLoanTerms, id, len(out))
	}
	borrower, _ := out[0].(common.Address)
	lender, _ := out[1].(common.Address)
	principal, err := amount.FromBig(asBig(out[2]))
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: loan %s principal: %w", loan.ErrInvalidLoanTerms, id, err)
	}
	interest, err := amount.FromBig(asBig(out[3]))
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: loan %s interest: %w", loan.ErrInvalidLoanTerms, id, err)
	}
	duration, ok := toUint64(asBig(out[4]))
	if !ok {
		return ledger.Snapshot{}, fmt.Errorf("%w: loan %s duration out of range", loan.ErrInvalidLoanTerms, id)
	}
	funded, _ := out[5].(bool)
	repaid, _ := out[6].(bool)
	return ledger.Snapshot{
		LoanID:          id,
		Borrower:        borrower,
		Lender:          lender,
		Principal:       principal,
		Interest:        interest,
		DurationSeconds: duration,
		Funded:          funded,
		Repaid:          repaid,
	}, nil
}

func (c *Client) GetReputation(ctx context.Context, p common.Address) (uint64, error) {
	out, err := c.call(ctx, "getReputation", p)
	if err != nil {
		return 0, err
	}
	n, ok := toUint64(asBig(out[0]))
	if !ok {
		return 0, fmt.Errorf("getReputation: value out of range")
	}
	return n, nil
}

func asBig(v interface{}) *big.Int {
	b, _ := v.(*big.Int)
	return b
}

func (c *Client) SubmitRequest(ctx context.Context, from common.Address, principal, interest amount.Amount, durationSeconds uint64) (loan.ID, error) {
	receipt, err := c.transact(ctx, from, nil, "requestLoan",
		principal.Big(), interest.Big(), new(big.Int).SetUint64(durationSeconds))
	if err != nil {
		return 0, err
	}
	topic := c.abi.Events[eventRequested].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.cfg.Contract || len(l.Topics) < 2 || l.Topics[0] != topic {
			continue
		}
		n, ok := toUint64(l.Topics[1].Big())
		if !ok {
			break
		}
		return loan.ID(n), nil
	}
	return 0, unavailable("requestLoan", fmt.Errorf("no %s log in %s", eventRequested, receipt.TxHash.Hex()))
}

func (c *Client) SubmitFunding(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	_, err := c.transact(ctx, from, amt.Big(), "fundLoan", new(big.Int).SetUint64(uint64(id)))
	return err
}

func (c *Client) SubmitRepayment(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	_, err := c.transact(ctx, from, amt.Big(), "repayLoan", new(big.Int).SetUint64(uint64(id)))
	return err
}

// transact sends a node-signed transaction and waits for a successful receipt.
func (c *Client) transact(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (*gethtypes.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	tx := map[string]interface{}{
		"from": from,
		"to":   c.cfg.Contract,
		"data": hexutil.Bytes(data),
	}
	if value != nil && value.Sign() > 0 {
		tx["value"] = (*hexutil.Big)(value)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var hash common.Hash
	if err := c.sender.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %w", ledger.ErrRejected, method, err)
		}
		return nil, unavailable(method, err)
	}
	c.log.Info("transaction sent", slog.String("method", method), slog.String("tx", hash.Hex()), slog.String("from", from.Hex()))
	return c.waitReceipt(ctx, method, hash)
}

func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func (c *Client) waitReceipt(ctx context.Context, method string, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	tick := time.NewTicker(c.cfg.ReceiptInterval)
	defer tick.Stop()
	for {
		if err := c.wait(ctx); err != nil {
			return nil, unavailable(method, err)
		}
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("%w: %s: transaction %s reverted", ledger.ErrRejected, method, hash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, unavailable(method, fmt.Errorf("fetch receipt: %w", err))
		}
		select {
		case <-ctx.Done():
			return nil, unavailable(method, fmt.Errorf("receipt for %s: %w", hash.Hex(), ctx.Err()))
		case <-tick.C:
		}
	}
}
