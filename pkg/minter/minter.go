package minter

import (
	"context"
	"sync"
	"time"

	"github.com/screa/origins-minter/internal/config"
	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/pkg/types"
	"github.com/screa/origins-minter/pkg/worker"
)

// Progress is a snapshot of a run.
type Progress struct {
	Total     int
	Processed int
	Counts    map[types.OutcomeKind]int
	Elapsed   time.Duration
}

// Count returns the number of accounts that ended with kind.
func (p Progress) Count(kind types.OutcomeKind) int {
	return p.Counts[kind]
}

// ByName returns the counts keyed by outcome name.
func (p Progress) ByName() map[string]int {
	out := make(map[string]int, len(p.Counts))
	for k, n := range p.Counts {
		out[k.String()] = n
	}
	return out
}

// Minter splits accounts across workers and runs them concurrently.
type Minter struct {
	config       *config.Config
	logger       *logger.Logger
	workerConfig *worker.Config

	mu        sync.RWMutex
	total     int
	processed int
	counts    map[types.OutcomeKind]int
	start     time.Time

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewMinter creates a new minter instance
func NewMinter(cfg *config.Config, workerConfig *worker.Config, log *logger.Logger) *Minter {
	return &Minter{
		config:       cfg,
		logger:       log,
		workerConfig: workerConfig,
		counts:       make(map[types.OutcomeKind]int),
		done:         make(chan struct{}),
	}
}

// Partition splits accounts into min(n, len(accounts)) contiguous groups.
// The first len(accounts) mod n groups receive one extra account.
func Partition(accounts []types.Account, n int) [][]types.Account {
	if len(accounts) == 0 || n <= 0 {
		return nil
	}
	n = min(n, len(accounts))
	base, extra := len(accounts)/n, len(accounts)%n

	groups := make([][]types.Account, 0, n)
	offset := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		groups = append(groups, accounts[offset:offset+size])
		offset += size
	}
	return groups
}

// Run processes every account and blocks until all workers are finished or
// the run is stopped. Workers never abort each other.
func (m *Minter) Run(ctx context.Context, accounts []types.Account) Progress {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	groups := Partition(accounts, m.config.Threads)

	m.mu.Lock()
	m.total = len(accounts)
	m.start = time.Now()
	m.mu.Unlock()

	m.logger.Infow("run started", "accounts", len(accounts), "workers", len(groups), "mode", m.workerConfig.Mode)

	for i, group := range groups {
		m.wg.Add(1)
		go m.worker(ctx, i+1, group)
	}

	// Start periodic logging if verbose mode is enabled
	var logTicker *time.Ticker
	var logDone chan struct{}
	if m.config.Verbose && m.config.ProgressInterval > 0 {
		logTicker = time.NewTicker(m.config.ProgressInterval)
		logDone = make(chan struct{})
		go m.periodicLogger(logTicker, logDone)
	}

	m.wg.Wait()

	if logTicker != nil {
		logTicker.Stop()
		close(logDone)
	}

	return m.Progress()
}

func (m *Minter) worker(ctx context.Context, id int, group []types.Account) {
	defer m.wg.Done()

	if met := m.workerConfig.Metrics; met != nil {
		met.ActiveWorkers.Inc()
		defer met.ActiveWorkers.Dec()
	}

	w := worker.NewWorker(id, m.workerConfig, m.logger)
	w.Run(ctx, group, m.record)
}

func (m *Minter) record(_ types.Account, out types.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.counts[out.Kind]++
}

// Stop cancels in-flight work. Safe to call more than once.
func (m *Minter) Stop() {
	m.once.Do(func() { close(m.done) })
}

// Progress returns the current counts.
func (m *Minter) Progress() Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.OutcomeKind]int, len(m.counts))
	for k, n := range m.counts {
		counts[k] = n
	}
	p := Progress{Total: m.total, Processed: m.processed, Counts: counts}
	if !m.start.IsZero() {
		p.Elapsed = time.Since(m.start)
	}
	return p
}

// periodicLogger logs run progress at regular intervals
func (m *Minter) periodicLogger(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			p := m.Progress()
			m.logger.Infow("progress",
				"processed", p.Processed,
				"total", p.Total,
				"success", p.Count(types.OutcomeSuccess),
				"failed", p.Count(types.OutcomeFailed)+p.Count(types.OutcomeTimedOut),
				"ineligible", p.Count(types.OutcomeIneligible),
				"errors", p.Count(types.OutcomeError),
				"elapsed", p.Elapsed.Round(time.Second))
		case <-done:
			return
		}
	}
}
