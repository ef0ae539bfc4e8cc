// internal/relay/jito.go
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/launch-guard/internal/config"
)

// JitoMaxBundleSize is the block engine's hard limit on transactions per bundle.
const JitoMaxBundleSize = 5

var (
	// ErrBundleRejected marks a bundle the block engine will never accept
	// (malformed, oversized, bad encoding). Retrying it is pointless.
	ErrBundleRejected = errors.New("bundle rejected by relay")

	// ErrBundleTooLarge is returned before sending when the set exceeds MaxBundleSize.
	ErrBundleTooLarge = errors.New("bundle exceeds relay size limit")

	ErrEmptyBundle = errors.New("empty bundle")
)

// Receipt is the block engine's answer to an accepted bundle.
type Receipt struct {
	Accepted bool
	BundleID string
}

// caller is the part of jsonrpc.RPCClient used for sendBundle.
type caller interface {
	CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error
}

// Sender submits one signed transaction through a regular RPC node.
type Sender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Jito submits bundles to a Jito block engine and single transactions through
// the RPC pool.
type Jito struct {
	engine      caller
	sender      Sender
	limiter     *rate.Limiter
	maxSize     int
	tipAccounts []solana.PublicKey
	tipLamports uint64
	logger      *zap.Logger
}

// NewJito builds a relay for the block engine at cfg.URL.
func NewJito(cfg config.RelayConfig, sender Sender, logger *zap.Logger) (*Jito, error) {
	tips := make([]solana.PublicKey, 0, len(cfg.TipAccounts))
	for _, acct := range cfg.TipAccounts {
		pk, err := solana.PublicKeyFromBase58(acct)
		if err != nil {
			return nil, fmt.Errorf("invalid tip account %q: %w", acct, err)
		}
		tips = append(tips, pk)
	}

	return newJito(jsonrpc.NewClient(cfg.URL), sender, cfg, tips, logger), nil
}

func newJito(engine caller, sender Sender, cfg config.RelayConfig, tips []solana.PublicKey, logger *zap.Logger) *Jito {
	maxSize := cfg.MaxBundleSize
	if maxSize <= 0 || maxSize > JitoMaxBundleSize {
		maxSize = JitoMaxBundleSize
	}
	burst := int(cfg.RateHz)
	if burst < 1 {
		burst = 1
	}
	return &Jito{
		engine:      engine,
		sender:      sender,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateHz), burst),
		maxSize:     maxSize,
		tipAccounts: tips,
		tipLamports: cfg.TipLamports,
		logger:      logger.Named("jito-relay"),
	}
}

// MaxBundleSize returns the largest transaction set SubmitAtomic accepts.
func (j *Jito) MaxBundleSize() int {
	return j.maxSize
}

// SubmitAtomic sends txs as one all-or-nothing bundle. Acceptance means the
// block engine queued it, not that it landed.
func (j *Jito) SubmitAtomic(ctx context.Context, txs []*solana.Transaction) (*Receipt, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBundle
	}
	if len(txs) > j.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBundleTooLarge, len(txs), j.maxSize)
	}

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%w: encode tx %d: %v", ErrBundleRejected, i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(raw)
	}

	if err := j.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bundleID string
	err := j.engine.CallForInto(ctx, &bundleID, "sendBundle", []interface{}{
		encoded,
		map[string]string{"encoding": "base64"},
	})
	if err != nil {
		return nil, classify(err)
	}
	if bundleID == "" {
		return nil, fmt.Errorf("%w: empty bundle id", ErrBundleRejected)
	}

	j.logger.Debug("Bundle accepted",
		zap.String("bundle_id", bundleID),
		zap.Int("tx_count", len(txs)))
	return &Receipt{Accepted: true, BundleID: bundleID}, nil
}

// SubmitSingle sends one transaction outside of a bundle.
func (j *Jito) SubmitSingle(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return j.sender.SendTransaction(ctx, tx)
}

// TipInstruction returns a transfer of the configured tip to a random tip
// account, or nil when tipping is disabled.
func (j *Jito) TipInstruction(payer solana.PublicKey) solana.Instruction {
	if j.tipLamports == 0 || len(j.tipAccounts) == 0 {
		return nil
	}
	to := j.tipAccounts[rand.IntN(len(j.tipAccounts))]
	return system.NewTransferInstruction(j.tipLamports, payer, to).Build()
}

// classify separates final rejections from errors worth retrying.
func classify(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32600, -32602:
			return fmt.Errorf("%w: %s", ErrBundleRejected, rpcErr.Message)
		}
	}
	return fmt.Errorf("send bundle: %w", err)
}
