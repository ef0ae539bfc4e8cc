// internal/mitigation/trigger.go
package mitigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/logger"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
)

// Publisher receives mitigation outcome events.
type Publisher interface {
	Publish(event events.Event) error
}

// Trigger runs mitigation sells in the background. A sell is attempted once;
// its outcome is logged and published, never fed back to the monitor.
type Trigger struct {
	pipeline  SellPipeline
	publisher Publisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewTrigger(pipeline SellPipeline, publisher Publisher, cfg config.MitigationConfig, m *metrics.Metrics, logger *zap.Logger) *Trigger {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultMitigationTimeout) * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		pipeline:  pipeline,
		publisher: publisher,
		metrics:   m,
		timeout:   timeout,
		logger:    logger.Named("mitigation"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Fire starts a sell for the detected trade and returns immediately.
func (t *Trigger) Fire(tokenMint string, trade domain.TradeEvent, cfg domain.DetectionConfig) {
	logger := logger.WithOperation(t.logger, "mitigation").
		With(zap.String("token", tokenMint), zap.String("trigger_tx", trade.Signature))

	if len(cfg.MitigationWalletIDs) == 0 {
		logger.Warn("Sniper detected but no mitigation wallets configured")
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		logger.Warn("Mitigation skipped, trigger is shutting down")
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	req := SellRequest{
		TokenMint:      tokenMint,
		WalletIDs:      append([]string(nil), cfg.MitigationWalletIDs...),
		SellPercentage: cfg.SellPercentage,
		Reason:         ReasonSniperDetected,
		Evidence:       trade,
	}
	go t.run(req, logger)
}

func (t *Trigger) run(req SellRequest, logger *zap.Logger) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	logger.Info("Mitigation sell started",
		zap.Int("wallets", len(req.WalletIDs)),
		zap.String("sell_percentage", req.SellPercentage.String()))

	start := time.Now()
	res, err := t.pipeline.Sell(ctx, req)
	if err == nil && res != nil && !res.Success {
		err = errors.New("no wallet sell landed")
	}
	ok := err == nil

	t.metrics.Mitigation(ok)

	ev := events.NewMitigation(ok, req.TokenMint)
	ev.Wallets = len(req.WalletIDs)
	ev.Landed = res.Landed()
	ev.TriggerTx = req.Evidence.Signature
	ev.Duration = time.Since(start)

	if ok {
		logger.Info("Mitigation sell completed",
			zap.Int("landed", ev.Landed),
			zap.Duration("duration", ev.Duration))
	} else {
		ev.Error = err.Error()
		logger.Error("Mitigation sell failed",
			zap.Int("landed", ev.Landed),
			zap.Duration("duration", ev.Duration),
			zap.Error(err))
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(ev); err != nil {
			logger.Debug("Mitigation event dropped", zap.Error(err))
		}
	}
}

// Wait stops accepting new sells and blocks until in-flight ones finish.
// When ctx ends first the remaining sells are cancelled.
func (t *Trigger) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return fmt.Errorf("mitigation drain: %w", ctx.Err())
	}
}
