// internal/launch/launch.go
package launch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/logger"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

var (
	ErrInvalidRequest = errors.New("invalid launch request")
	// ErrProtectionNotStarted means the launch landed but its monitor did not
	// start. The submission report is still returned.
	ErrProtectionNotStarted = errors.New("launch landed but protection not started")
)

// Request submits a launch set and optionally protects the token afterwards.
type Request struct {
	TokenMint string `json:"token_mint"`
	// Transactions are base64 encoded signed wire transactions, anchor first.
	Transactions            []string                `json:"transactions"`
	Wallets                 []string                `json:"wallets"`
	Protection              *domain.DetectionConfig `json:"protection,omitempty"`
	TotalSupply             decimal.Decimal         `json:"total_supply"`
	Decimals                uint8                   `json:"decimals"`
	AllowSequentialFallback bool                    `json:"allow_sequential_fallback"`
	MaxRetries              int                     `json:"max_retries,omitempty"`
}

type Result struct {
	Submission *bundle.Submission    `json:"submission"`
	LaunchSlot uint64                `json:"launch_slot,omitempty"`
	Monitor    *sniper.StartResponse `json:"monitor,omitempty"`
}

type Submitter interface {
	Submit(ctx context.Context, txs []*solana.Transaction, opts bundle.Options) (*bundle.Submission, error)
}

type Chain interface {
	CurrentSlot(ctx context.Context) (uint64, error)
	SignatureStates(ctx context.Context, sigs ...solana.Signature) ([]solbc.SignatureState, error)
}

type Monitors interface {
	Start(ctx context.Context, req sniper.StartRequest) (*sniper.StartResponse, error)
}

type Publisher interface {
	Publish(event events.Event) error
}

// Service runs a launch: bundle submission first, monitor registration
// once the anchor transaction landed.
type Service struct {
	submitter Submitter
	chain     Chain
	monitors  Monitors
	publisher Publisher
	logger    *zap.Logger
}

func NewService(submitter Submitter, chain Chain, monitors Monitors, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		submitter: submitter,
		chain:     chain,
		monitors:  monitors,
		publisher: publisher,
		logger:    logger.Named("launch"),
	}
}

func (s *Service) Launch(ctx context.Context, req Request) (*Result, error) {
	txs, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}

	logger := logger.WithOperation(s.logger, "launch").With(zap.String("token", req.TokenMint), zap.Int("txs", len(txs)))

	sub, err := s.submitter.Submit(ctx, txs, bundle.Options{
		MaxRetries:              req.MaxRetries,
		AllowSequentialFallback: req.AllowSequentialFallback,
	})
	if sub != nil {
		s.publish(events.NewLaunchSubmitted(req.TokenMint, sub.ID, string(sub.Method), sub.Success))
	}
	result := &Result{Submission: sub}
	if err != nil {
		return result, err
	}
	if !sub.Success {
		logger.Warn("Launch anchor did not land, protection skipped", zap.String("submission", sub.ID))
		return result, nil
	}

	slot, err := s.launchSlot(ctx, sub, logger)
	if err != nil {
		if req.Protection == nil {
			logger.Warn("Launch slot unknown", zap.Error(err))
			return result, nil
		}
		logger.Error("Failed to start protection", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrProtectionNotStarted, err)
	}
	result.LaunchSlot = slot
	if req.Protection == nil {
		return result, nil
	}

	start := sniper.StartRequest{
		TokenMint:       req.TokenMint,
		Config:          *req.Protection,
		LaunchSlot:      result.LaunchSlot,
		ExcludedWallets: excludedWallets(req.Wallets, txs),
		TotalSupply:     req.TotalSupply,
		Decimals:        req.Decimals,
	}
	mon, err := s.monitors.Start(ctx, start)
	if err != nil {
		logger.Error("Failed to start protection", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrProtectionNotStarted, err)
	}
	result.Monitor = mon
	return result, nil
}

// launchSlot is the slot the anchor landed in, or the current slot when the
// status lookup has nothing. A monitor anchored at slot zero would never
// expire by slot and would scan history from genesis, so failing both
// lookups is an error.
func (s *Service) launchSlot(ctx context.Context, sub *bundle.Submission, logger *zap.Logger) (uint64, error) {
	if anchor, ok := sub.AnchorSignature(); ok {
		states, err := s.chain.SignatureStates(ctx, anchor)
		if err == nil && len(states) == 1 && states[0].Seen && states[0].Slot > 0 {
			return states[0].Slot, nil
		}
		if err != nil {
			logger.Debug("Anchor status lookup failed", zap.Error(err))
		}
	}

	slot, err := s.chain.CurrentSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("read launch slot: %w", err)
	}
	if slot == 0 {
		return 0, errors.New("read launch slot: node reported slot 0")
	}
	return slot, nil
}

func (s *Service) publish(e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(e); err != nil {
		s.logger.Debug("Event dropped", zap.Error(err))
	}
}

func decodeRequest(req Request) ([]*solana.Transaction, error) {
	if _, err := solana.PublicKeyFromBase58(req.TokenMint); err != nil {
		return nil, fmt.Errorf("%w: token_mint: %w", ErrInvalidRequest, err)
	}
	if len(req.Transactions) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrInvalidRequest)
	}
	for _, w := range req.Wallets {
		if _, err := solana.PublicKeyFromBase58(w); err != nil {
			return nil, fmt.Errorf("%w: wallet %q: %w", ErrInvalidRequest, w, err)
		}
	}

	txs := make([]*solana.Transaction, len(req.Transactions))
	for i, encoded := range req.Transactions {
		tx, err := DecodeTransaction(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %w", ErrInvalidRequest, i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return tx, nil
}

// excludedWallets is the union of the launch wallets and every signer of the
// launch transactions, in first-seen order.
func excludedWallets(wallets []string, txs []*solana.Transaction) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for _, w := range wallets {
		add(w)
	}
	for _, tx := range txs {
		n := int(tx.Message.Header.NumRequiredSignatures)
		for i := 0; i < n && i < len(tx.Message.AccountKeys); i++ {
			add(tx.Message.AccountKeys[i].String())
		}
	}
	return out
}
