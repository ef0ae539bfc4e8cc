// internal/mitigation/sell.go
package mitigation

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

// ReasonSniperDetected tags sells fired by the sniper monitor.
const ReasonSniperDetected = "sniper_detected"

// SellRequest asks the pipeline to sell a share of each wallet's balance.
type SellRequest struct {
	TokenMint      string
	WalletIDs      []string
	SellPercentage decimal.Decimal
	Reason         string
	Evidence       domain.TradeEvent
}

// WalletOutcome is the result for one requested wallet. Skipped wallets had
// nothing to sell and were not submitted.
type WalletOutcome struct {
	WalletID  string            `json:"wallet_id"`
	Amount    uint64            `json:"amount"`
	Signature *solana.Signature `json:"signature,omitempty"`
	Success   bool              `json:"success"`
	Skipped   bool              `json:"skipped,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SellResult reports a mitigation sell. Success means at least one wallet's
// sell landed.
type SellResult struct {
	Success   bool            `json:"success"`
	PerWallet []WalletOutcome `json:"per_wallet"`
}

// Landed counts wallets whose sell landed.
func (r *SellResult) Landed() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, w := range r.PerWallet {
		if w.Success {
			n++
		}
	}
	return n
}

// SellPipeline turns a sell request into submitted transactions.
type SellPipeline interface {
	Sell(ctx context.Context, req SellRequest) (*SellResult, error)
}
