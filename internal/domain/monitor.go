// internal/domain/monitor.go
package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a launch monitor.
type Status string

const (
	StatusMonitoring Status = "monitoring"
	StatusTriggered  Status = "triggered"
	StatusExpired    Status = "expired"
	// StatusNotFound is only ever a query answer, never stored.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusTriggered || s == StatusExpired
}

// ExpiredReason says why a monitor expired.
type ExpiredReason string

const (
	ReasonWindowElapsed ExpiredReason = "window_elapsed"
	ReasonSlotLimit     ExpiredReason = "slot_limit"
	ReasonCancelled     ExpiredReason = "cancelled"
)

// Direction of a classified trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// DetectionConfig is the per-launch sniper protection setting. Amounts are in
// UI units: tokens after decimals, quote in SOL.
type DetectionConfig struct {
	Enabled             bool            `json:"enabled"`
	MaxSupplyPercent    decimal.Decimal `json:"max_supply_percent"`
	MaxQuoteAmount      decimal.Decimal `json:"max_quote_amount"`
	WindowBlocks        int             `json:"window_blocks"`
	MitigationWalletIDs []string        `json:"mitigation_wallet_ids"`
	SellPercentage      decimal.Decimal `json:"sell_percentage"`
}

// TradeEvent is one classified trade. It is derived from a transaction and
// never changes afterwards.
type TradeEvent struct {
	Signature     string          `json:"signature"`
	Slot          uint64          `json:"slot"`
	Trader        string          `json:"trader"`
	Direction     Direction       `json:"direction"`
	QuoteAmount   decimal.Decimal `json:"quote_amount"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	SupplyPercent decimal.Decimal `json:"supply_percent"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Monitor is the record of one protected launch.
type Monitor struct {
	TokenMint             string          `json:"token_mint"`
	Config                DetectionConfig `json:"config"`
	LaunchSlot            uint64          `json:"launch_slot"`
	ExcludedWallets       []string        `json:"excluded_wallets"`
	TotalSupply           decimal.Decimal `json:"total_supply"`
	Decimals              uint8           `json:"decimals"`
	EffectiveWindowBlocks int             `json:"effective_window_blocks"`
	HardMaxBlocks         int             `json:"hard_max_blocks"`
	Status                Status          `json:"status"`
	Evidence              *TradeEvent     `json:"trigger_evidence,omitempty"`
	ExpiredReason         ExpiredReason   `json:"expired_reason,omitempty"`
	// Cursor is the newest signature whose processing finished.
	Cursor    string    `json:"cursor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (m *Monitor) Clone() *Monitor {
	if m == nil {
		return nil
	}
	c := *m
	c.ExcludedWallets = slices.Clone(m.ExcludedWallets)
	c.Config.MitigationWalletIDs = slices.Clone(m.Config.MitigationWalletIDs)
	if m.Evidence != nil {
		ev := *m.Evidence
		c.Evidence = &ev
	}
	return &c
}
