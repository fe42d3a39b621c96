package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

const maxCachedBlockTimes = 1024

var kindEvents = map[loan.Kind]string{
	loan.KindRequested: eventRequested,
	loan.KindFunded:    eventFunded,
	loan.KindRepaid:    eventRepaid,
}

// Subscribe polls eth_getLogs from the last block already scanned. A later
// Subscribe resumes where the previous one stopped, so redeliveries are rare
// and always carry the same Key.
func (c *Client) Subscribe(ctx context.Context, kinds ...loan.Kind) (ledger.Subscription, error) {
	if len(kinds) == 0 {
		kinds = []loan.Kind{loan.KindRequested, loan.KindFunded, loan.KindRepaid}
	}
	topics := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		name, ok := kindEvents[k]
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		topics = append(topics, c.abi.Events[name].ID)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		events: make(chan ledger.Event),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go c.pollLogs(ctx, s, [][]common.Hash{topics})
	return s, nil
}

type subscription struct {
	events chan ledger.Event
	errs   chan error
	cancel context.CancelFunc
}

func (s *subscription) Events() <-chan ledger.Event { return s.events }
func (s *subscription) Err() <-chan error           { return s.errs }
func (s *subscription) Unsubscribe()                { s.cancel() }

func (s *subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (c *Client) pollLogs(ctx context.Context, s *subscription, topics [][]common.Hash) {
	defer close(s.events)
	defer close(s.errs)
	tick := time.NewTicker(c.cfg.EventPollInterval)
	defer tick.Stop()
	for {
		if err := c.scan(ctx, s, topics); err != nil && ctx.Err() == nil {
			c.log.Warn("log poll failed", slog.Any("error", err))
			s.fail(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// scan delivers every matching log between the resume point and the head,
// in chunks of at most MaxBlockRange blocks.
func (c *Client) scan(ctx context.Context, s *subscription, topics [][]common.Hash) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return unavailable("head", err)
	}
	if head == nil || head.Number == nil {
		return unavailable("head", fmt.Errorf("block metadata unavailable"))
	}
	tip := head.Number.Uint64()

	for {
		c.mu.Lock()
		from := c.nextBlock
		c.mu.Unlock()
		if from > tip {
			return nil
		}
		to := min(tip, from+c.cfg.MaxBlockRange-1)

		if err := c.wait(ctx); err != nil {
			return err
		}
		logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.cfg.Contract},
			Topics:    topics,
		})
		if err != nil {
			return unavailable("getLogs", err)
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			ev, err := c.decodeLog(l)
			if err != nil {
				c.log.Warn("skip undecodable log",
					slog.String("tx", l.TxHash.Hex()), slog.Uint64("index", uint64(l.Index)), slog.Any("error", err))
				continue
			}
			// a failed header lookup retries the whole chunk on the next tick
			if ev.At, err = c.blockTime(ctx, l.BlockNumber); err != nil {
				return err
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.mu.Lock()
		if c.nextBlock == from {
			c.nextBlock = to + 1
		}
		c.mu.Unlock()
	}
}

func (c *Client) decodeLog(l gethtypes.Log) (ledger.Event, error) {
	if len(l.Topics) < 3 {
		return ledger.Event{}, fmt.Errorf("expected 3 topics, got %d", len(l.Topics))
	}
	var name string
	var kind loan.Kind
	for k, n := range kindEvents {
		if c.abi.Events[n].ID == l.Topics[0] {
			name, kind = n, k
			break
		}
	}
	if name == "" {
		return ledger.Event{}, fmt.Errorf("unknown topic %s", l.Topics[0].Hex())
	}
	id, ok := toUint64(l.Topics[1].Big())
	if !ok {
		return ledger.Event{}, fmt.Errorf("loan id out of range")
	}
	party := common.BytesToAddress(l.Topics[2].Bytes())

	vals, err := c.abi.Events[name].Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return ledger.Event{}, fmt.Errorf("unpack %s: %w", name, err)
	}
	amt, err := amount.FromBig(asBig(vals[0]))
	if err != nil {
		return ledger.Event{}, err
	}

	ev := ledger.Event{
		LoanID: loan.ID(id),
		Kind:   kind,
		Amount: amt,
		Key:    fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index),
	}
	switch kind {
	case loan.KindRequested:
		ev.Borrower = party
		if len(vals) != 3 {
			return ledger.Event{}, fmt.Errorf("%s: expected 3 values, got %d", name, len(vals))
		}
		if ev.Interest, err = amount.FromBig(asBig(vals[1])); err != nil {
			return ledger.Event{}, err
		}
		if ev.DurationSeconds, ok = toUint64(asBig(vals[2])); !ok {
			return ledger.Event{}, fmt.Errorf("duration out of range")
		}
	case loan.KindFunded:
		ev.Lender = party
	case loan.KindRepaid:
		ev.Borrower = party
	}
	return ev, nil
}

func (c *Client) blockTime(ctx context.Context, n uint64) (time.Time, error) {
	c.mu.Lock()
	t, ok := c.blockTimes[n]
	c.mu.Unlock()
	if ok {
		return t, nil
	}
	if err := c.wait(ctx); err != nil {
		return time.Time{}, err
	}
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Time{}, unavailable("header", err)
	}
	if h == nil {
		return time.Time{}, unavailable("header", fmt.Errorf("block %d missing", n))
	}
	t = time.Unix(int64(h.Time), 0).UTC()
	c.mu.Lock()
	if len(c.blockTimes) >= maxCachedBlockTimes {
		clear(c.blockTimes)
	}
	c.blockTimes[n] = t
	c.mu.Unlock()
	return t, nil
}
