// internal/sniper/types.go
package sniper

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

var (
	// ErrMonitorActive is returned by Start while a monitor for the same
	// token is still live.
	ErrMonitorActive = errors.New("monitor already active for token")

	// ErrAlreadyTriggered is returned by Start for a token whose stored
	// monitor triggered. The record and its evidence stay as they are.
	ErrAlreadyTriggered = errors.New("monitor already triggered for token")

	// ErrNotActive is returned by Cancel for a token without a live monitor.
	ErrNotActive = errors.New("no active monitor for token")

	ErrShuttingDown = errors.New("sniper service is shutting down")

	errCancelled = errors.New("monitor cancelled")
	errShutdown  = errors.New("service shutdown")
)

var (
	hundred = decimal.NewFromInt(100)
	// minSellPercent is one basis point, the granularity of mitigation sells.
	minSellPercent = decimal.New(1, -2)
)

// ValidationError rejects a malformed start request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StartRequest registers protection for one launch.
type StartRequest struct {
	TokenMint       string                 `json:"token_mint"`
	Config          domain.DetectionConfig `json:"config"`
	LaunchSlot      uint64                 `json:"launch_slot"`
	ExcludedWallets []string               `json:"excluded_wallets"`
	// TotalSupply in UI units. Zero disables the supply percent threshold.
	TotalSupply decimal.Decimal `json:"total_supply"`
	Decimals    uint8           `json:"decimals"`
}

// StartResponse describes the monitor that was started.
type StartResponse struct {
	TokenMint             string        `json:"token_mint"`
	Status                domain.Status `json:"status"`
	ExpiresAt             time.Time     `json:"expires_at"`
	EffectiveWindowBlocks int           `json:"effective_window_blocks"`
	WindowMs              int64         `json:"window_ms"`
	HardMaxBlocks         int           `json:"hard_max_blocks"`
}

// StatusResponse answers a status query.
type StatusResponse struct {
	TokenMint       string                  `json:"token_mint"`
	Status          domain.Status           `json:"status"`
	Triggered       bool                    `json:"triggered"`
	StartTime       *time.Time              `json:"start_time,omitempty"`
	ExpiresAt       *time.Time              `json:"expires_at,omitempty"`
	RemainingMs     int64                   `json:"remaining_ms"`
	LaunchSlot      uint64                  `json:"launch_slot,omitempty"`
	EffectiveConfig *domain.DetectionConfig `json:"effective_config,omitempty"`
	TriggerEvidence *domain.TradeEvent      `json:"trigger_evidence,omitempty"`
	ExpiredReason   domain.ExpiredReason    `json:"expired_reason,omitempty"`
}

func statusFromRecord(m *domain.Monitor, now time.Time) StatusResponse {
	cfg := m.Config
	cfg.WindowBlocks = m.EffectiveWindowBlocks
	start, expires := m.CreatedAt, m.ExpiresAt

	resp := StatusResponse{
		TokenMint:       m.TokenMint,
		Status:          m.Status,
		Triggered:       m.Status == domain.StatusTriggered,
		StartTime:       &start,
		ExpiresAt:       &expires,
		LaunchSlot:      m.LaunchSlot,
		EffectiveConfig: &cfg,
		TriggerEvidence: m.Evidence,
		ExpiredReason:   m.ExpiredReason,
	}
	if m.Status == domain.StatusMonitoring && expires.After(now) {
		resp.RemainingMs = expires.Sub(now).Milliseconds()
	}
	return resp
}

func validateStart(req *StartRequest) error {
	if _, err := solana.PublicKeyFromBase58(req.TokenMint); err != nil {
		return &ValidationError{Field: "token_mint", Reason: "not a valid public key"}
	}

	cfg := req.Config
	switch {
	case !cfg.Enabled:
		return &ValidationError{Field: "config.enabled", Reason: "protection is disabled"}
	case !cfg.MaxSupplyPercent.IsPositive() || cfg.MaxSupplyPercent.GreaterThan(hundred):
		return &ValidationError{Field: "config.max_supply_percent", Reason: "must be in (0, 100]"}
	case !cfg.MaxQuoteAmount.IsPositive():
		return &ValidationError{Field: "config.max_quote_amount", Reason: "must be positive"}
	case cfg.WindowBlocks < 1:
		return &ValidationError{Field: "config.window_blocks", Reason: "must be at least 1"}
	case cfg.SellPercentage.LessThan(minSellPercent) || cfg.SellPercentage.GreaterThan(hundred):
		return &ValidationError{Field: "config.sell_percentage", Reason: "must be in [0.01, 100]"}
	case req.TotalSupply.IsNegative():
		return &ValidationError{Field: "total_supply", Reason: "must not be negative"}
	case req.LaunchSlot == 0:
		return &ValidationError{Field: "launch_slot", Reason: "must be set"}
	}

	for _, id := range cfg.MitigationWalletIDs {
		if id == "" {
			return &ValidationError{Field: "config.mitigation_wallet_ids", Reason: "empty wallet id"}
		}
	}
	for _, w := range req.ExcludedWallets {
		if _, err := solana.PublicKeyFromBase58(w); err != nil {
			return &ValidationError{Field: "excluded_wallets", Reason: fmt.Sprintf("%q is not a valid public key", w)}
		}
	}
	return nil
}
