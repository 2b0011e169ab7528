package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/origins-minter/internal/crypto"
	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/internal/metrics"
	"github.com/screa/origins-minter/pkg/types"
)

// Mode selects the terminal action performed per account.
type Mode int

const (
	ModeMint Mode = iota
	ModeCheck
)

func (m Mode) String() string {
	if m == ModeCheck {
		return "check"
	}
	return "mint"
}

// Gate blocks until gas is acceptable.
type Gate interface {
	WaitUntilAcceptable(ctx context.Context) error
}

// Checker returns the eligibility of an address.
type Checker interface {
	Check(ctx context.Context, addr common.Address) (types.EligibilityResult, error)
}

// Submitter broadcasts a mint transaction.
type Submitter interface {
	Submit(ctx context.Context, acc types.Account, res types.EligibilityResult) (types.TransactionHandle, error)
}

// Confirmer waits for a broadcast transaction to reach a terminal state.
type Confirmer interface {
	Wait(ctx context.Context, h types.TransactionHandle) types.Outcome
}

// Config contains the collaborators shared by every worker of a run.
// Submitter and Confirmer may be nil in ModeCheck.
type Config struct {
	Mode        Mode
	Gate        Gate
	Checker     Checker
	Submitter   Submitter
	Confirmer   Confirmer
	ExplorerURL string
	MinSleep    time.Duration
	MaxSleep    time.Duration
	Metrics     *metrics.Metrics
	Clock       clock.Clock
}

// Worker processes one group of accounts strictly in order.
type Worker struct {
	id     int
	config *Config
	log    *logger.Logger
	clock  clock.Clock
}

// NewWorker creates a new worker instance
func NewWorker(id int, config *Config, log *logger.Logger) *Worker {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Worker{
		id:     id,
		config: config,
		log:    log.With("worker", id),
		clock:  clk,
	}
}

// Run processes accounts one at a time, calling report after each. After a
// successful mint it pauses for a random duration before the next account.
// It stops early only when ctx is done.
func (w *Worker) Run(ctx context.Context, accounts []types.Account, report func(types.Account, types.Outcome)) {
	for i, acc := range accounts {
		if ctx.Err() != nil {
			return
		}

		out := w.Process(ctx, acc)
		if report != nil {
			report(acc, out)
		}

		if w.config.Mode == ModeMint && out.Succeeded() && i < len(accounts)-1 {
			if err := w.pause(ctx); err != nil {
				return
			}
		}
	}
}

// Process runs one full cycle for acc. Panics and errors never escape; they
// become the returned outcome.
func (w *Worker) Process(ctx context.Context, acc types.Account) (out types.Outcome) {
	log := w.log.With("address", crypto.ChecksumAddress(acc.Address))

	defer func() {
		if r := recover(); r != nil {
			out = types.Outcome{Kind: types.OutcomeError, Err: fmt.Errorf("panic: %v", r)}
			log.Errorw("account cycle panicked", "panic", r)
		}
		if w.config.Metrics != nil {
			w.config.Metrics.Outcomes.WithLabelValues(w.config.Mode.String(), out.Kind.String()).Inc()
		}
	}()

	log.Infow("starting", "mode", w.config.Mode)

	if w.config.Mode == ModeMint && w.config.Gate != nil {
		if err := w.config.Gate.WaitUntilAcceptable(ctx); err != nil {
			log.Warnw("gas wait aborted", "err", err)
			return types.Outcome{Kind: types.OutcomeError, Err: err}
		}
	}

	res, err := w.config.Checker.Check(ctx, acc.Address)
	if err != nil {
		out = types.OutcomeFromError(err)
		if out.Kind == types.OutcomeIneligible {
			log.Infow("not eligible to mint")
		} else {
			log.Errorw("eligibility check failed", "err", err)
		}
		return out
	}
	log.Infow("eligible to mint", "rarity", res.Rarity)

	if w.config.Mode == ModeCheck {
		return types.Outcome{Kind: types.OutcomeSuccess}
	}

	return w.mint(ctx, log, acc, res)
}

func (w *Worker) mint(ctx context.Context, log *logger.Logger, acc types.Account, res types.EligibilityResult) types.Outcome {
	handle, err := w.config.Submitter.Submit(ctx, acc, res)
	if err != nil {
		log.Errorw("submission failed", "err", err)
		return types.OutcomeFromError(err)
	}
	link := w.config.ExplorerURL + handle.Hash.Hex()
	log.Infow("transaction submitted", "tx", link)

	out := w.config.Confirmer.Wait(ctx, handle)
	if w.config.Metrics != nil && out.Kind != types.OutcomeError {
		w.config.Metrics.ConfirmTimeS.Observe(w.clock.Since(handle.SubmittedAt).Seconds())
	}

	switch out.Kind {
	case types.OutcomeSuccess:
		log.Infow("minted successfully", "tx", link)
	case types.OutcomeFailed:
		log.Errorw("transaction failed", "tx", link)
	case types.OutcomeTimedOut:
		log.Errorw("transaction not confirmed in time", "tx", link, "err", out.Err)
	default:
		log.Errorw("confirmation aborted", "tx", link, "err", out.Err)
	}
	return out
}

// pause sleeps a uniformly random duration in [MinSleep, MaxSleep].
func (w *Worker) pause(ctx context.Context) error {
	d := randomDuration(w.config.MinSleep, w.config.MaxSleep)
	if d <= 0 {
		return nil
	}
	w.log.Infow("sleeping before next account", "duration", d)

	timer := w.clock.Timer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}
