// internal/bundle/executor.go
package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
	"github.com/rovshanmuradov/launch-guard/internal/relay"
)

// Relay submits signed transactions as a bundle or one by one.
type Relay interface {
	SubmitAtomic(ctx context.Context, txs []*solana.Transaction) (*relay.Receipt, error)
	SubmitSingle(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	MaxBundleSize() int
}

// Chain reports whether signatures made it on chain.
type Chain interface {
	SignatureStates(ctx context.Context, sigs ...solana.Signature) ([]solbc.SignatureState, error)
	WaitForLanding(ctx context.Context, sig solana.Signature, timeout time.Duration) (uint64, error)
}

// Executor submits transaction sets atomically with bounded retries and, when
// allowed, falls back to sending them one by one in order.
type Executor struct {
	relay   Relay
	chain   Chain
	cfg     config.BundleConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewExecutor(r Relay, chain Chain, cfg config.BundleConfig, m *metrics.Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		relay:   r,
		chain:   chain,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("bundle-executor"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		sleep: sleepCtx,
	}
}

// MaxBundleSize is the largest set Submit accepts.
func (e *Executor) MaxBundleSize() int {
	return e.relay.MaxBundleSize()
}

// Submit sends one relay-sized transaction set. The returned error is non-nil
// for an invalid set, and for an atomic failure when fallback is disabled
// (wrapping ErrSubmissionFailed). A sequential submission is always reported
// through the Submission, whatever its legs did.
func (e *Executor) Submit(ctx context.Context, txs []*solana.Transaction, opts Options) (*Submission, error) {
	if err := validateSet(txs, e.relay.MaxBundleSize()); err != nil {
		return nil, err
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = e.cfg.MaxRetries
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = config.DefaultMaxRetries
	}

	sub := &Submission{
		ID:        uuid.New().String(),
		Method:    MethodAtomic,
		StartedAt: time.Now().UTC(),
	}
	logger := e.logger.With(zap.String("submission_id", sub.ID), zap.Int("tx_count", len(txs)))

	receipt, attempts, err := e.submitAtomic(ctx, txs, opts.MaxRetries, logger)
	sub.Attempts = attempts
	if err == nil {
		sub.BundleID = receipt.BundleID
		sub.Success = true
		sub.Legs = make([]LegResult, len(txs))
		for i, tx := range txs {
			s := tx.Signatures[0]
			sub.Legs[i] = LegResult{Index: i, Signature: &s, Success: true}
		}
		return e.finish(sub, logger), nil
	}

	if !opts.AllowSequentialFallback {
		logger.Error("Atomic submission failed", zap.Int("attempts", attempts), zap.Error(err))
		e.finish(sub, logger)
		return sub, fmt.Errorf("%w after %d attempts: %w", ErrSubmissionFailed, attempts, err)
	}

	logger.Warn("Atomic submission failed, falling back to sequential",
		zap.Int("attempts", attempts),
		zap.Error(err))
	e.metrics.Fallback()

	sub.Method = MethodSequential
	sub.Legs = e.submitSequential(ctx, txs, logger)
	sub.Success = sub.Legs[0].Success
	return e.finish(sub, logger), nil
}

func (e *Executor) submitAtomic(ctx context.Context, txs []*solana.Transaction, maxRetries int, logger *zap.Logger) (*relay.Receipt, int, error) {
	anchor := txs[0].Signatures[0]
	attempts := 0

	operation := func() (*relay.Receipt, error) {
		attempts++
		receipt, err := e.relay.SubmitAtomic(ctx, txs)
		if err != nil {
			e.metrics.AtomicAttempt(false)
			if errors.Is(err, relay.ErrBundleRejected) || errors.Is(err, relay.ErrBundleTooLarge) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !receipt.Accepted {
			e.metrics.AtomicAttempt(false)
			return nil, fmt.Errorf("bundle %s not accepted", receipt.BundleID)
		}

		if _, err := e.chain.WaitForLanding(ctx, anchor, e.cfg.LandingTimeout()); err != nil {
			e.metrics.AtomicAttempt(false)
			return nil, fmt.Errorf("bundle %s accepted but not landed: %w", receipt.BundleID, err)
		}
		e.metrics.AtomicAttempt(true)
		return receipt, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(maxRetries)),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debug("Retrying atomic submission",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", d),
				zap.Error(err))
		}),
	}
	if e.cfg.MaxElapsedMs > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(e.cfg.MaxElapsed()))
	}

	receipt, err := backoff.Retry(ctx, operation, opts...)
	return receipt, attempts, err
}

// submitSequential sends every transaction on its own, in input order,
// continuing past failures. A transaction that is already on chain (an
// atomic attempt that landed after we gave up on it) is not sent again.
func (e *Executor) submitSequential(ctx context.Context, txs []*solana.Transaction, logger *zap.Logger) []LegResult {
	legs := make([]LegResult, len(txs))
	for i, tx := range txs {
		legs[i] = e.submitLeg(ctx, i, tx, logger)
		e.metrics.Leg(legOutcome(legs[i]))
	}
	return legs
}

func (e *Executor) submitLeg(ctx context.Context, index int, tx *solana.Transaction, logger *zap.Logger) LegResult {
	leg := LegResult{Index: index}
	if err := ctx.Err(); err != nil {
		leg.Error = err.Error()
		return leg
	}

	own := tx.Signatures[0]
	states, err := e.chain.SignatureStates(ctx, own)
	switch {
	case err != nil:
		logger.Debug("Pre-send status check failed, sending anyway", zap.Int("index", index), zap.Error(err))
	case len(states) == 1 && states[0].Seen && !states[0].Failed:
		logger.Info("Transaction already on chain, skipping resend",
			zap.Int("index", index),
			zap.String("signature", own.String()))
		leg.Signature = &own
		leg.Success = true
		leg.AlreadyLanded = true
		return leg
	}

	sig, err := e.relay.SubmitSingle(ctx, tx)
	if err != nil {
		logger.Warn("Sequential leg failed", zap.Int("index", index), zap.Error(err))
		leg.Error = err.Error()
		return leg
	}
	leg.Signature = &sig

	if _, err := e.chain.WaitForLanding(ctx, sig, e.cfg.LandingTimeout()); err != nil {
		logger.Warn("Sequential leg not landed",
			zap.Int("index", index),
			zap.String("signature", sig.String()),
			zap.Error(err))
		leg.Error = err.Error()
		return leg
	}
	leg.Success = true
	return leg
}

func (e *Executor) finish(sub *Submission, logger *zap.Logger) *Submission {
	sub.FinishedAt = time.Now().UTC()
	e.metrics.SubmitDuration(string(sub.Method), sub.FinishedAt.Sub(sub.StartedAt).Seconds())

	logger.Info("Submission finished",
		zap.String("method", string(sub.Method)),
		zap.Bool("success", sub.Success),
		zap.Bool("partial", sub.Partial()),
		zap.Int("attempts", sub.Attempts),
		zap.String("bundle_id", sub.BundleID))
	return sub
}

func legOutcome(leg LegResult) string {
	switch {
	case leg.AlreadyLanded:
		return "already_landed"
	case leg.Success:
		return "landed"
	default:
		return "failed"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
