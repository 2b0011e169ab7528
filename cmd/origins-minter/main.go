package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/screa/origins-minter/internal/config"
	"github.com/screa/origins-minter/internal/crypto"
	logpkg "github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/internal/metrics"
	"github.com/screa/origins-minter/internal/status"
	"github.com/screa/origins-minter/pkg/accounts"
	"github.com/screa/origins-minter/pkg/chain"
	"github.com/screa/origins-minter/pkg/confirm"
	"github.com/screa/origins-minter/pkg/eligibility"
	"github.com/screa/origins-minter/pkg/gas"
	minterpkg "github.com/screa/origins-minter/pkg/minter"
	"github.com/screa/origins-minter/pkg/submitter"
	"github.com/screa/origins-minter/pkg/types"
	"github.com/screa/origins-minter/pkg/worker"
)

var (
	cfg        = config.NewConfig()
	configFile string
	logger     *logpkg.Logger
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "origins-minter",
		Short: "Batch minter for the Scroll Origins NFT",
		Long: `Mints the Scroll Origins NFT for every eligible account in a key file.
Accounts are split across concurrent workers; each one checks eligibility,
waits for acceptable gas, submits the mint and waits for its receipt.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (yaml, json or toml)")
	cfg.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "mint",
		Short: "Mint for every eligible account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, worker.ModeMint)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Only report which accounts are eligible",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, worker.ModeCheck)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, mode worker.Mode) error {
	if err := cfg.Load(configFile, cmd.Flags()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	log := logger.With("run", uuid.NewString())
	log.Infow("starting origins minter",
		"mode", mode,
		"threads", cfg.Threads,
		"contract", cfg.Contract,
		"gas", cfg.GasDescription())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	accs, err := accounts.Load(cfg.AccountsFile)
	if err != nil {
		return err
	}
	if cfg.Shuffle {
		accounts.Shuffle(accs)
	}
	log.Infow("accounts loaded", "count", len(accs), "file", cfg.AccountsFile)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	workerConfig, cleanup, err := buildWorkerConfig(ctx, mode, met, log)
	if err != nil {
		return err
	}
	defer cleanup()

	minter := minterpkg.NewMinter(cfg, workerConfig, log)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopStatus := context.WithCancel(gctx)
	defer stopStatus()

	var progress minterpkg.Progress
	g.Go(func() error {
		defer stopStatus()
		progress = minter.Run(gctx, accs)
		return nil
	})
	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.StatusAddr, reg, minter.Progress, log)
		g.Go(func() error {
			if err := srv.Run(runCtx); err != nil {
				minter.Stop()
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(log, progress)
	if ctx.Err() != nil {
		log.Warnw("run interrupted", "unprocessed", progress.Total-progress.Processed)
	}
	return nil
}

// buildWorkerConfig dials the RPC endpoints and wires the per-account
// collaborators. The returned cleanup closes the clients.
func buildWorkerConfig(ctx context.Context, mode worker.Mode, met *metrics.Metrics, log *logpkg.Logger) (*worker.Config, func(), error) {
	minSleep, maxSleep := cfg.SleepRange()
	wc := &worker.Config{
		Mode:        mode,
		ExplorerURL: cfg.ExplorerURL,
		MinSleep:    minSleep,
		MaxSleep:    maxSleep,
		Metrics:     met,
		Checker: eligibility.NewChecker(cfg.EligibilityURL,
			eligibility.WithRateLimit(cfg.EligibilityRPS)),
	}
	if mode == worker.ModeCheck {
		return wc, func() {}, nil
	}

	contract, err := crypto.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, nil, err
	}
	contractABI, err := submitter.LoadABI(cfg.ABIFile)
	if err != nil {
		return nil, nil, err
	}

	backend, err := chain.Dial(ctx, cfg.ChainRPC, cfg.Threads)
	if err != nil {
		return nil, nil, err
	}
	cleanup := backend.Close

	if cfg.GasCheckEnabled {
		gasClient, err := chain.Dial(ctx, cfg.GasRPC, cfg.Threads)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		cleanup = func() {
			gasClient.Close()
			backend.Close()
		}
		wc.Gate = gas.NewOracle(gas.Config{
			Enabled:   true,
			MaxGwei:   cfg.MaxGasGwei,
			Freshness: cfg.GasFreshness,
			Recheck:   cfg.GasRecheck,
		}, gasClient, log, gas.WithMetrics(met))
	}

	var subOpts []submitter.Option
	if wc.Gate != nil {
		subOpts = append(subOpts, submitter.WithGate(wc.Gate))
	}
	wc.Submitter = submitter.New(backend, contract, contractABI, subOpts...)
	wc.Confirmer = confirm.NewWaiter(backend, confirm.Config{Timeout: cfg.ConfirmTimeout}, log)

	return wc, cleanup, nil
}

func printSummary(log *logpkg.Logger, p minterpkg.Progress) {
	log.Infow("run finished",
		"processed", p.Processed,
		"total", p.Total,
		"duration", p.Elapsed)
	for _, kind := range []types.OutcomeKind{
		types.OutcomeSuccess,
		types.OutcomeFailed,
		types.OutcomeTimedOut,
		types.OutcomeIneligible,
		types.OutcomeError,
	} {
		if n := p.Count(kind); n > 0 {
			log.Infow("outcome", "kind", kind, "accounts", n)
		}
	}
}

func setupLogging() (func(), error) {
	if cfg.LogFile != "" {
		// Log to file
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger = logpkg.NewWriter(file)
		logger.SetVerbose(cfg.Verbose)
		return func() {
			_ = logger.Sync()
			file.Close()
		}, nil
	}
	// Log to stdout
	logger = logpkg.New()
	logger.SetVerbose(cfg.Verbose)
	return func() { _ = logger.Sync() }, nil
}
