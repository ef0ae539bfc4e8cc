// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/launch-guard/internal/api"
	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/license"
	"github.com/rovshanmuradov/launch-guard/internal/logger"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
	"github.com/rovshanmuradov/launch-guard/internal/mitigation"
	"github.com/rovshanmuradov/launch-guard/internal/relay"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
	"github.com/rovshanmuradov/launch-guard/internal/storage"
	"github.com/rovshanmuradov/launch-guard/internal/storage/memory"
	"github.com/rovshanmuradov/launch-guard/internal/storage/postgres"
	"github.com/rovshanmuradov/launch-guard/internal/wallet"
)

const (
	eventBufferSize  = 256
	licenseHeartbeat = time.Hour
	storeInitTimeout = 30 * time.Second

	auditFlushInterval = time.Second
)

// Runner owns the service graph of the launch guard process.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	license  *license.Checker
	monitors *sniper.Service
	server   *api.Server
	shutdown *ShutdownHandler
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: NewShutdownHandler(logger, cfg.HTTP.ShutdownTimeout()),
	}
}

// Initialize validates the license and builds every service. Stop functions
// are registered as services come up, so a failed Initialize can still be
// unwound with Shutdown.
func (r *Runner) Initialize(ctx context.Context) error {
	r.license = license.NewChecker(r.cfg.License, r.cfg.Keygen, r.logger)
	if err := r.license.Check(ctx); err != nil {
		return fmt.Errorf("license validation failed: %w", err)
	}

	r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(r.registry)

	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	rpcClient, err := rpc.NewClient(r.cfg.RPCList, r.cfg.RPCRateHz, r.logger)
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	chain := solbc.NewChainData(rpcClient, r.logger)

	jito, err := relay.NewJito(r.cfg.Relay, rpcClient, r.logger)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	executor := bundle.NewExecutor(jito, chain, r.cfg.Bundle, m, r.logger)

	bus := events.NewBus(r.logger, eventBufferSize)
	var journalOpts []events.JournalOption
	if r.cfg.Log.AuditFile != "" {
		audit, err := logger.NewCSVWriter(r.cfg.Log.AuditFile, events.AuditHeader, auditFlushInterval, r.logger)
		if err != nil {
			return fmt.Errorf("audit file: %w", err)
		}
		r.shutdown.AddFunc("audit file", func() error {
			records, flushes := audit.Stats()
			r.logger.Info("Closing audit file", zap.Uint64("records", records), zap.Uint64("flushes", flushes))
			return audit.Close()
		})
		journalOpts = append(journalOpts, events.WithRecorder(audit))
	}
	journal := events.NewJournal(bus, r.logger, journalOpts...)
	r.shutdown.Add("event bus", func(ctx context.Context) error {
		journal.Close()
		return bus.Shutdown(ctx)
	})

	wallets, err := r.loadWallets()
	if err != nil {
		return err
	}
	pipeline := mitigation.NewPumpfunSellPipeline(wallets, rpcClient, executor, jito, r.cfg.Mitigation, r.logger)
	trigger := mitigation.NewTrigger(pipeline, bus, r.cfg.Mitigation, m, r.logger)
	r.shutdown.Add("mitigation", trigger.Wait)

	r.monitors = sniper.NewService(chain, store, trigger, bus, r.cfg.Sniper, m, r.logger)
	r.shutdown.Add("monitors", r.monitors.Shutdown)

	launcher := launch.NewService(executor, chain, r.monitors, bus, r.logger)
	r.server = api.NewServer(r.monitors, launcher, r.registry, m, r.cfg.HTTP, r.logger)
	return nil
}

func (r *Runner) openStore(ctx context.Context) (storage.MonitorStore, error) {
	if r.cfg.Storage.Driver != config.StoragePostgres {
		r.logger.Warn("Using in-memory monitor store, monitors will not survive a restart")
		return memory.NewMonitorStore(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, storeInitTimeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, r.cfg.Storage.PostgresURL)
	if err != nil {
		return nil, err
	}
	r.shutdown.AddFunc("postgres", func() error {
		pool.Close()
		return nil
	})
	if err := pool.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return postgres.NewMonitorStore(pool), nil
}

func (r *Runner) loadWallets() (*wallet.Store, error) {
	if r.cfg.WalletsFile == "" {
		r.logger.Warn("No wallets file configured, mitigation sells are disabled")
		return wallet.NewStore()
	}
	store, err := wallet.Load(r.cfg.WalletsFile)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Mitigation wallets loaded", zap.Int("count", store.Len()), zap.Strings("names", store.Names()))
	return store, nil
}

// Run resumes stored monitors and serves the API until ctx is cancelled or
// a component fails. Services are stopped before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	resumed, err := r.monitors.Resume(ctx)
	if err != nil {
		r.logger.Error("Resuming monitors failed", zap.Int("resumed", resumed), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.server.Run(gctx)
	})
	g.Go(func() error {
		r.license.Heartbeat(gctx, licenseHeartbeat)
		return nil
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		r.logger.Error("Service stopped with error", zap.Error(runErr))
	}

	if err := r.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops every registered service in reverse start order.
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}
