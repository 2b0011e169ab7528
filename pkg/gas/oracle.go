// Package gas gates workers on a shared, cached view of the network gas price.
package gas

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/internal/metrics"
	"github.com/screa/origins-minter/pkg/chain"
	"github.com/screa/origins-minter/pkg/types"
)

const (
	DefaultFreshness = 60 * time.Second
	DefaultRecheck   = 60 * time.Second
)

// Config controls the gate.
type Config struct {
	Enabled   bool
	MaxGwei   float64
	Freshness time.Duration // how long a sample is trusted
	Recheck   time.Duration // pause while the price is above the ceiling
}

// Option customizes an Oracle.
type Option func(*Oracle)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

// WithMetrics records fetches and waits on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Oracle) { o.metrics = m }
}

// Oracle is shared by every worker of a run. It holds one sample; refreshes
// happen under mu so concurrent callers never fetch twice for the same window.
type Oracle struct {
	cfg     Config
	ceiling *big.Int
	fetcher chain.GasPriceReader
	log     *logger.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu     sync.Mutex
	sample types.GasSample
}

// NewOracle creates an oracle reading prices from fetcher.
func NewOracle(cfg Config, fetcher chain.GasPriceReader, log *logger.Logger, opts ...Option) *Oracle {
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Recheck <= 0 {
		cfg.Recheck = DefaultRecheck
	}
	o := &Oracle{
		cfg:     cfg,
		ceiling: types.GweiToWei(cfg.MaxGwei),
		fetcher: fetcher,
		log:     log,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WaitUntilAcceptable blocks until the latest known price is at or below the
// ceiling. It returns early only when ctx is done. A disabled gate returns at once.
func (o *Oracle) WaitUntilAcceptable(ctx context.Context) error {
	if !o.cfg.Enabled {
		return nil
	}
	for {
		sample := o.current(ctx)
		if sample.Within(o.ceiling) {
			return nil
		}

		o.log.Infow("gas above ceiling, waiting",
			"gwei", sample.Gwei(),
			"max_gwei", o.cfg.MaxGwei,
			"retry_in", o.cfg.Recheck)
		if o.metrics != nil {
			o.metrics.GasWaits.Inc()
		}

		timer := o.clock.Timer(o.cfg.Recheck)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Last returns the most recent sample, fresh or not.
func (o *Oracle) Last() types.GasSample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sample
}

// current returns the cached sample, refreshing it first if it is stale.
func (o *Oracle) current(ctx context.Context) types.GasSample {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sample.Fresh(o.clock.Now(), o.cfg.Freshness) {
		return o.sample
	}
	sample := types.GasSample{
		Price:     o.fetch(ctx),
		SampledAt: o.clock.Now(),
	}
	if ctx.Err() != nil {
		// the failure belongs to this caller, not to the network
		return sample
	}
	o.sample = sample
	return sample
}

// fetch returns nil on failure, which the sample treats as an infinite price.
func (o *Oracle) fetch(ctx context.Context) *big.Int {
	price, err := o.fetcher.SuggestGasPrice(ctx)
	if err != nil {
		o.log.Errorw("gas price fetch failed", "err", err)
		if o.metrics != nil {
			o.metrics.GasFetches.WithLabelValues("error").Inc()
		}
		return nil
	}
	if o.metrics != nil {
		o.metrics.GasFetches.WithLabelValues("ok").Inc()
		o.metrics.GasPriceGwei.Set(types.GasSample{Price: price}.Gwei())
	}
	o.log.Debugw("gas price fetched", "gwei", types.GasSample{Price: price}.Gwei())
	return price
}
