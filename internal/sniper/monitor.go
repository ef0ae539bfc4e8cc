// internal/sniper/monitor.go
package sniper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/storage"
)

// persistTimeout bounds store writes that must outlive a cancelled actor.
const persistTimeout = 5 * time.Second

// actor owns one monitor record and runs its poll loop. Only the actor
// goroutine mutates rec; mu lets status queries read a consistent copy.
type actor struct {
	svc    *Service
	mint   solana.PublicKey
	logger *zap.Logger

	mu  sync.RWMutex
	rec *domain.Monitor

	excluded map[string]struct{}
	cursor   solana.Signature
	// persisted is the cursor value last written to the store.
	persisted solana.Signature

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newActor(svc *Service, rec *domain.Monitor) *actor {
	ctx, cancel := context.WithCancelCause(svc.ctx)
	a := &actor{
		svc:      svc,
		mint:     solana.MustPublicKeyFromBase58(rec.TokenMint),
		logger:   svc.logger.With(zap.String("token", rec.TokenMint)),
		rec:      rec,
		excluded: make(map[string]struct{}, len(rec.ExcludedWallets)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, w := range rec.ExcludedWallets {
		a.excluded[w] = struct{}{}
	}
	if rec.Cursor != "" {
		sig, err := solana.SignatureFromBase58(rec.Cursor)
		if err != nil {
			a.logger.Warn("Ignoring malformed stored cursor", zap.String("cursor", rec.Cursor), zap.Error(err))
		} else {
			a.cursor, a.persisted = sig, sig
		}
	}
	return a
}

func (a *actor) snapshot() *domain.Monitor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Clone()
}

func (a *actor) run() {
	defer a.svc.wg.Done()
	defer close(a.done)
	defer a.svc.remove(a)

	a.svc.metrics.MonitorStarted()
	defer a.svc.metrics.MonitorStopped()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-a.ctx.Done():
			if errors.Is(context.Cause(a.ctx), errCancelled) {
				a.expire(domain.ReasonCancelled)
			} else {
				a.logger.Debug("Monitor stopped by shutdown, record left active")
			}
			return
		case <-timer.C:
		}

		if a.tick(a.ctx) {
			return
		}
		timer.Reset(a.svc.cfg.PollInterval())
	}
}

// tick runs one poll step and reports whether the monitor is done.
func (a *actor) tick(ctx context.Context) bool {
	rec := a.rec

	if a.svc.now().After(rec.ExpiresAt) {
		a.expire(domain.ReasonWindowElapsed)
		return true
	}

	slot, err := a.svc.chain.CurrentSlot(ctx)
	if err != nil {
		a.transient(ctx, "current slot", err)
		return false
	}
	if slot > rec.LaunchSlot && slot-rec.LaunchSlot > uint64(rec.HardMaxBlocks) {
		a.expire(domain.ReasonSlotLimit)
		return true
	}

	if rec.Status.Terminal() {
		return true
	}

	sigs, err := a.svc.chain.SignaturesSince(ctx, a.mint, a.cursor, rec.LaunchSlot, a.svc.cfg.SignatureLimit)
	if err != nil {
		a.transient(ctx, "signatures since cursor", err)
		return false
	}

	lastSlot := rec.LaunchSlot + uint64(rec.EffectiveWindowBlocks)
	for _, s := range sigs {
		if s.Failed || s.Slot > lastSlot {
			a.cursor = s.Signature
			continue
		}

		tx, err := a.svc.chain.ParsedTransaction(ctx, s.Signature)
		if err != nil {
			a.transient(ctx, "parsed transaction", err)
			a.saveCursor(ctx)
			return false
		}

		for _, trade := range Classify(tx, a.mint, rec.Decimals) {
			a.svc.metrics.Trade(string(trade.Direction))
			if trade.Direction != domain.DirectionBuy {
				continue
			}
			if _, ok := a.excluded[trade.Trader]; ok {
				a.logger.Debug("Skipping excluded wallet", zap.String("wallet", trade.Trader), zap.String("signature", trade.Signature))
				continue
			}

			hit, percent := Evaluate(trade, rec.Config, rec.TotalSupply)
			trade.SupplyPercent = percent
			if hit {
				a.trigger(trade)
				return true
			}
		}
		a.cursor = s.Signature
	}

	a.saveCursor(ctx)
	a.svc.metrics.Tick(false)
	return false
}

func (a *actor) transient(ctx context.Context, op string, err error) {
	a.svc.metrics.Tick(true)
	if ctx.Err() != nil {
		return
	}
	a.logger.Warn("Poll tick skipped", zap.String("op", op), zap.Error(err))
}

func (a *actor) saveCursor(ctx context.Context) {
	if a.cursor == a.persisted {
		return
	}

	a.mu.Lock()
	a.rec.Cursor = a.cursor.String()
	a.rec.UpdatedAt = a.svc.now()
	a.mu.Unlock()

	if err := a.svc.store.UpdateCursor(ctx, a.rec.TokenMint, a.cursor.String()); err != nil {
		a.logger.Warn("Failed to persist cursor", zap.Error(err))
		return
	}
	a.persisted = a.cursor
}

func (a *actor) trigger(trade domain.TradeEvent) {
	if !a.finish(domain.StatusTriggered, storage.StatusExtra{Evidence: &trade}) {
		return
	}

	a.logger.Warn("Sniper detected",
		zap.String("trader", trade.Trader),
		zap.String("signature", trade.Signature),
		zap.Uint64("slot", trade.Slot),
		zap.String("token_amount", trade.TokenAmount.String()),
		zap.String("quote_amount", trade.QuoteAmount.String()),
		zap.String("supply_percent", trade.SupplyPercent.StringFixed(4)))

	a.svc.publish(events.NewMonitorTriggered(a.rec.TokenMint, trade))
	if a.svc.mitigator != nil {
		a.svc.mitigator.Fire(a.rec.TokenMint, trade, a.rec.Config)
	}
}

func (a *actor) expire(reason domain.ExpiredReason) {
	if !a.finish(domain.StatusExpired, storage.StatusExtra{ExpiredReason: reason}) {
		return
	}
	a.logger.Info("Monitor expired", zap.String("reason", string(reason)))
	a.svc.publish(events.NewMonitorExpired(a.rec.TokenMint, reason))
}

// finish moves the record to a terminal status once. It returns false when the
// record was already terminal.
func (a *actor) finish(status domain.Status, extra storage.StatusExtra) bool {
	a.mu.Lock()
	if a.rec.Status.Terminal() {
		a.mu.Unlock()
		return false
	}
	a.rec.Status = status
	a.rec.Evidence = extra.Evidence
	a.rec.ExpiredReason = extra.ExpiredReason
	a.rec.UpdatedAt = a.svc.now()
	a.mu.Unlock()

	a.svc.metrics.Outcome(string(status), string(extra.ExpiredReason))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), persistTimeout)
	defer cancel()

	err := a.svc.store.UpdateStatus(ctx, a.rec.TokenMint, status, extra)
	switch {
	case errors.Is(err, storage.ErrTerminal):
		a.logger.Warn("Stored record already terminal", zap.String("status", string(status)))
	case err != nil:
		a.logger.Error("Failed to persist terminal status", zap.String("status", string(status)), zap.Error(err))
	}
	return true
}
