// internal/sniper/service.go
package sniper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
	"github.com/rovshanmuradov/launch-guard/internal/storage"
)

// ChainData is the chain read surface a monitor polls.
type ChainData interface {
	CurrentSlot(ctx context.Context) (uint64, error)
	// SignaturesSince returns all signatures newer than since, oldest first,
	// fetched in pages of pageSize. With a zero since, signatures below
	// minSlot are left out.
	SignaturesSince(ctx context.Context, address solana.PublicKey, since solana.Signature, minSlot uint64, pageSize int) ([]solbc.SignatureInfo, error)
	ParsedTransaction(ctx context.Context, sig solana.Signature) (*solbc.ParsedTransaction, error)
}

// Mitigator reacts to a detected sniper. Fire must not block.
type Mitigator interface {
	Fire(tokenMint string, trade domain.TradeEvent, cfg domain.DetectionConfig)
}

// Publisher receives monitor lifecycle events.
type Publisher interface {
	Publish(event events.Event) error
}

// Service keeps the registry of live monitors, one actor per token.
type Service struct {
	chain     ChainData
	store     storage.MonitorStore
	mitigator Mitigator
	publisher Publisher
	cfg       config.SniperConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

func NewService(
	chain ChainData,
	store storage.MonitorStore,
	mitigator Mitigator,
	publisher Publisher,
	cfg config.SniperConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Service{
		chain:     chain,
		store:     store,
		mitigator: mitigator,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Named("sniper"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		actors:    make(map[string]*actor),
	}
}

// Start validates req, persists a monitoring record and launches its poll
// loop. A token whose monitor is still live is rejected with ErrMonitorActive,
// one whose stored monitor triggered with ErrAlreadyTriggered.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if err := validateStart(&req); err != nil {
		return nil, err
	}

	effective := min(req.Config.WindowBlocks, s.cfg.HardMaxBlocks)
	window := time.Duration(effective+s.cfg.SafetyMarginBlocks) * s.cfg.SlotDuration()
	now := s.now()

	cfg := req.Config
	cfg.MitigationWalletIDs = slices.Clone(cfg.MitigationWalletIDs)
	rec := &domain.Monitor{
		TokenMint:             req.TokenMint,
		Config:                cfg,
		LaunchSlot:            req.LaunchSlot,
		ExcludedWallets:       slices.Clone(req.ExcludedWallets),
		TotalSupply:           req.TotalSupply,
		Decimals:              req.Decimals,
		EffectiveWindowBlocks: effective,
		HardMaxBlocks:         s.cfg.HardMaxBlocks,
		Status:                domain.StatusMonitoring,
		CreatedAt:             now,
		ExpiresAt:             now.Add(window),
		UpdatedAt:             now,
	}

	a, err := s.reserve(rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, rec.Clone()); err != nil {
		s.release(a)
		if errors.Is(err, storage.ErrTriggered) {
			return nil, fmt.Errorf("%s: %w", rec.TokenMint, ErrAlreadyTriggered)
		}
		return nil, fmt.Errorf("persist monitor: %w", err)
	}
	s.launch(a, false)

	if len(cfg.MitigationWalletIDs) == 0 {
		a.logger.Warn("No mitigation wallets configured, detection will not sell")
	}

	return &StartResponse{
		TokenMint:             rec.TokenMint,
		Status:                domain.StatusMonitoring,
		ExpiresAt:             rec.ExpiresAt,
		EffectiveWindowBlocks: effective,
		WindowMs:              window.Milliseconds(),
		HardMaxBlocks:         s.cfg.HardMaxBlocks,
	}, nil
}

// reserve registers an actor for rec under the registry lock. The actor is
// counted in wg from here on, so Shutdown waits for it whether it gets
// launched or released.
func (s *Service) reserve(rec *domain.Monitor) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShuttingDown
	}
	if _, ok := s.actors[rec.TokenMint]; ok {
		return nil, fmt.Errorf("%s: %w", rec.TokenMint, ErrMonitorActive)
	}
	a := newActor(s, rec)
	s.actors[rec.TokenMint] = a
	s.wg.Add(1)
	return a, nil
}

// release drops a reserved actor that never ran.
func (s *Service) release(a *actor) {
	defer s.wg.Done()
	s.remove(a)
	a.cancel(errShutdown)
	close(a.done)
}

func (s *Service) launch(a *actor, resumed bool) {
	a.logger.Info("Monitor started",
		zap.Uint64("launch_slot", a.rec.LaunchSlot),
		zap.Int("window_blocks", a.rec.EffectiveWindowBlocks),
		zap.Time("expires_at", a.rec.ExpiresAt),
		zap.Bool("resumed", resumed))
	s.publish(events.NewMonitorStarted(a.snapshot(), resumed))

	go a.run()
}

func (s *Service) remove(a *actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors[a.rec.TokenMint] == a {
		delete(s.actors, a.rec.TokenMint)
	}
}

func (s *Service) lookup(tokenMint string) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actors[tokenMint]
}

// Status answers from the live monitor, then from the store. Unknown tokens
// get StatusNotFound.
func (s *Service) Status(ctx context.Context, tokenMint string) (*StatusResponse, error) {
	if a := s.lookup(tokenMint); a != nil {
		resp := statusFromRecord(a.snapshot(), s.now())
		return &resp, nil
	}

	rec, err := s.store.Get(ctx, tokenMint)
	if errors.Is(err, storage.ErrNotFound) {
		return &StatusResponse{TokenMint: tokenMint, Status: domain.StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load monitor: %w", err)
	}
	resp := statusFromRecord(rec, s.now())
	return &resp, nil
}

// Cancel expires a live monitor with reason cancelled and waits for its loop
// to exit. A monitor that reaches another terminal state first keeps it.
func (s *Service) Cancel(ctx context.Context, tokenMint string) (*StatusResponse, error) {
	a := s.lookup(tokenMint)
	if a == nil {
		return nil, fmt.Errorf("%s: %w", tokenMint, ErrNotActive)
	}

	a.cancel(errCancelled)
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resp := statusFromRecord(a.snapshot(), s.now())
	return &resp, nil
}

// Resume restarts the loops of every stored monitor that is still active.
// Records already past their expiry are expired instead. It returns the
// number of restarted monitors.
func (s *Service) Resume(ctx context.Context) (int, error) {
	recs, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active monitors: %w", err)
	}

	resumed := 0
	for _, rec := range recs {
		if _, err := solana.PublicKeyFromBase58(rec.TokenMint); err != nil {
			s.logger.Error("Skipping stored monitor with invalid token", zap.String("token", rec.TokenMint), zap.Error(err))
			continue
		}

		if s.now().After(rec.ExpiresAt) {
			err := s.store.UpdateStatus(ctx, rec.TokenMint, domain.StatusExpired,
				storage.StatusExtra{ExpiredReason: domain.ReasonWindowElapsed})
			if err != nil && !errors.Is(err, storage.ErrTerminal) {
				return resumed, fmt.Errorf("expire %s: %w", rec.TokenMint, err)
			}
			s.metrics.Outcome(string(domain.StatusExpired), string(domain.ReasonWindowElapsed))
			s.publish(events.NewMonitorExpired(rec.TokenMint, domain.ReasonWindowElapsed))
			continue
		}

		a, err := s.reserve(rec)
		if errors.Is(err, ErrMonitorActive) {
			continue
		}
		if err != nil {
			return resumed, err
		}
		s.launch(a, true)
		resumed++
	}

	s.logger.Info("Monitors resumed", zap.Int("resumed", resumed), zap.Int("stored_active", len(recs)))
	return resumed, nil
}

// Shutdown stops every loop without touching stored statuses, so Resume can
// pick them up on the next start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := len(s.actors)
	s.mu.Unlock()

	s.logger.Info("Stopping monitors", zap.Int("active", live))
	s.cancel(errShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitors: %w", ctx.Err())
	}
}

// Active returns the number of live monitors.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

func (s *Service) publish(e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(e); err != nil {
		s.logger.Debug("Event dropped", zap.String("type", string(e.Type())), zap.Error(err))
	}
}
