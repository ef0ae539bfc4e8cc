// internal/sniper/classify.go
package sniper

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

const lamportsPerSOL = 1_000_000_000

type ownerDelta struct {
	owner        solana.PublicKey
	pre, post    uint64
	decimals     uint8
	accountIndex uint16
}

// Classify derives the trades of one transaction for mint. A positive token
// balance delta of an owner is a buy, a negative one a sell. The quote amount
// is the owner's native balance change in SOL, looked up at the owner's
// account index and, failing that, at the token account's index.
//
// Only owners that signed the transaction are traders, which keeps the
// bonding curve's own token account out. Zero deltas and transactions without
// balances for mint produce nothing.
func Classify(tx *solbc.ParsedTransaction, mint solana.PublicKey, fallbackDecimals uint8) []domain.TradeEvent {
	if tx == nil || tx.Failed {
		return nil
	}

	var deltas []*ownerDelta
	find := func(owner solana.PublicKey) *ownerDelta {
		for _, d := range deltas {
			if d.owner.Equals(owner) {
				return d
			}
		}
		return nil
	}
	add := func(b solbc.TokenBalance, pre bool) {
		if !b.Mint.Equals(mint) {
			return
		}
		d := find(b.Owner)
		if d == nil {
			d = &ownerDelta{owner: b.Owner, decimals: b.Decimals, accountIndex: b.AccountIndex}
			deltas = append(deltas, d)
		}
		if pre {
			d.pre += b.Amount
		} else {
			d.post += b.Amount
			d.decimals = b.Decimals
		}
	}
	for _, b := range tx.PreTokenBalances {
		add(b, true)
	}
	for _, b := range tx.PostTokenBalances {
		add(b, false)
	}

	var trades []domain.TradeEvent
	for _, d := range deltas {
		if d.pre == d.post || !tx.IsSigner(d.owner) {
			continue
		}

		decimals := d.decimals
		if decimals == 0 {
			decimals = fallbackDecimals
		}

		direction := domain.DirectionBuy
		raw := decimal.NewFromUint64(d.post).Sub(decimal.NewFromUint64(d.pre))
		if raw.IsNegative() {
			direction = domain.DirectionSell
			raw = raw.Neg()
		}

		trades = append(trades, domain.TradeEvent{
			Signature:   tx.Signature.String(),
			Slot:        tx.Slot,
			Trader:      d.owner.String(),
			Direction:   direction,
			TokenAmount: raw.Shift(-int32(decimals)),
			QuoteAmount: quoteAmount(tx, d, direction),
			Timestamp:   tx.BlockTime,
		})
	}
	return trades
}

func quoteAmount(tx *solbc.ParsedTransaction, d *ownerDelta, direction domain.Direction) decimal.Decimal {
	idx := tx.AccountIndex(d.owner)
	if idx < 0 {
		idx = int(d.accountIndex)
	}
	if idx >= len(tx.PreNativeBalances) || idx >= len(tx.PostNativeBalances) {
		return decimal.Zero
	}

	pre := decimal.NewFromUint64(tx.PreNativeBalances[idx])
	post := decimal.NewFromUint64(tx.PostNativeBalances[idx])
	spent := pre.Sub(post)
	if direction == domain.DirectionSell {
		spent = spent.Neg()
	}
	if !spent.IsPositive() {
		return decimal.Zero
	}
	return spent.Div(decimal.NewFromInt(lamportsPerSOL))
}

// Evaluate reports whether trade crosses either threshold and returns the
// share of supply it represents. A zero total supply only allows the quote
// threshold to fire.
func Evaluate(trade domain.TradeEvent, cfg domain.DetectionConfig, totalSupply decimal.Decimal) (bool, decimal.Decimal) {
	percent := decimal.Zero
	bySupply := false
	if totalSupply.IsPositive() {
		percent = trade.TokenAmount.Div(totalSupply).Mul(hundred)
		bySupply = percent.GreaterThan(cfg.MaxSupplyPercent)
	}
	byQuote := trade.QuoteAmount.GreaterThan(cfg.MaxQuoteAmount)
	return bySupply || byQuote, percent
}
