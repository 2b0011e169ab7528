// Package confirm polls for the receipt of a broadcast transaction.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/pkg/chain"
	"github.com/screa/origins-minter/pkg/types"
)

const (
	DefaultTimeout         = 180 * time.Second
	DefaultPollInterval    = 1 * time.Second
	DefaultPendingInterval = 300 * time.Millisecond
)

// State of a transaction being confirmed. Everything but StatePending is terminal.
type State int

const (
	StatePending State = iota
	StateSuccess
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config bounds the polling loop.
type Config struct {
	Timeout         time.Duration
	PollInterval    time.Duration // receipt and transaction unknown to the node
	PendingInterval time.Duration // transaction known but not mined yet
}

// Option customizes a Waiter.
type Option func(*Waiter)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// Waiter is safe for concurrent use; each Wait call owns its own state.
type Waiter struct {
	reader chain.ReceiptReader
	cfg    Config
	log    *logger.Logger
	clock  clock.Clock
}

// NewWaiter creates a waiter. Zero config fields take the defaults.
func NewWaiter(reader chain.ReceiptReader, cfg Config, log *logger.Logger, opts ...Option) *Waiter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = DefaultPendingInterval
	}
	w := &Waiter{
		reader: reader,
		cfg:    cfg,
		log:    log,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait polls until the transaction succeeds, fails, or the timeout passes
// without a receipt. Only the wall-clock timeout and ctx bound the loop.
func (w *Waiter) Wait(ctx context.Context, h types.TransactionHandle) types.Outcome {
	start := w.clock.Now()
	state := StatePending

	for state == StatePending {
		receipt, err := w.reader.TransactionReceipt(ctx, h.Hash)

		var interval time.Duration
		switch {
		case err == nil && receipt != nil:
			state = stateOf(receipt)
			continue
		case err == nil || errors.Is(err, ethereum.NotFound):
			interval = w.cfg.PollInterval
			if w.knownPending(ctx, h.Hash) {
				interval = w.cfg.PendingInterval
			}
		default:
			if ctx.Err() != nil {
				return types.Outcome{Kind: types.OutcomeError, Hash: h.Hash, Err: ctx.Err()}
			}
			w.log.Warnw("receipt poll failed", "tx", h.Hash, "err", err)
			interval = w.cfg.PollInterval
		}

		if w.clock.Since(start) > w.cfg.Timeout {
			state = StateTimedOut
			continue
		}

		timer := w.clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.Outcome{Kind: types.OutcomeError, Hash: h.Hash, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	w.log.Debugw("confirmation finished", "tx", h.Hash, "state", state, "elapsed", w.clock.Since(start))
	return outcomeOf(state, h.Hash, w.cfg.Timeout)
}

// knownPending reports whether the node holds the transaction unmined, in
// which case a receipt is expected sooner.
func (w *Waiter) knownPending(ctx context.Context, hash common.Hash) bool {
	tx, pending, err := w.reader.TransactionByHash(ctx, hash)
	return err == nil && tx != nil && pending
}

func stateOf(r *ethtypes.Receipt) State {
	if r.Status == ethtypes.ReceiptStatusSuccessful {
		return StateSuccess
	}
	return StateFailed
}

func outcomeOf(s State, hash common.Hash, timeout time.Duration) types.Outcome {
	switch s {
	case StateSuccess:
		return types.Outcome{Kind: types.OutcomeSuccess, Hash: hash}
	case StateFailed:
		return types.Outcome{Kind: types.OutcomeFailed, Hash: hash, Err: types.ErrChainRejection}
	default:
		return types.Outcome{
			Kind: types.OutcomeTimedOut,
			Hash: hash,
			Err:  fmt.Errorf("%w: no receipt after %s", types.ErrConfirmationTimeout, timeout),
		}
	}
}
