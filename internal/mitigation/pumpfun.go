// internal/mitigation/pumpfun.go
package mitigation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/dex/pumpfun"
	"github.com/rovshanmuradov/launch-guard/internal/wallet"
)

const (
	basisPoints        = 10_000
	balanceConcurrency = 8
)

var (
	ErrInvalidSellPercentage = errors.New("sell percentage must be in [0.01, 100]")
	ErrNothingToSell         = errors.New("no wallet holds a sellable balance")
)

// ChainReader is the chain access the sell pipeline needs.
type ChainReader interface {
	pumpfun.AccountReader
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// BatchSubmitter submits signed transactions in relay-sized chunks.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, txs []*solana.Transaction, wallets []string, opts bundle.Options) (*bundle.BatchResult, error)
	MaxBundleSize() int
}

// Tipper returns the relay tip transfer for payer, or nil when tipping is off.
type Tipper interface {
	TipInstruction(payer solana.PublicKey) solana.Instruction
}

// WalletSource resolves wallet ids to signing keys.
type WalletSource interface {
	Get(name string) (*wallet.Wallet, error)
}

// PumpfunSellPipeline sells mitigation wallet balances on the Pump.fun
// bonding curve. Minimum output is zero: the sell has to land, not to get a
// good price.
type PumpfunSellPipeline struct {
	wallets   WalletSource
	chain     ChainReader
	submitter BatchSubmitter
	tipper    Tipper
	cfg       config.MitigationConfig
	logger    *zap.Logger

	mu           sync.Mutex
	feeRecipient *solana.PublicKey
}

func NewPumpfunSellPipeline(
	wallets WalletSource,
	chain ChainReader,
	submitter BatchSubmitter,
	tipper Tipper,
	cfg config.MitigationConfig,
	logger *zap.Logger,
) *PumpfunSellPipeline {
	return &PumpfunSellPipeline{
		wallets:   wallets,
		chain:     chain,
		submitter: submitter,
		tipper:    tipper,
		cfg:       cfg,
		logger:    logger.Named("pumpfun-sell"),
	}
}

type sellLeg struct {
	outcome int
	wallet  *wallet.Wallet
	amount  uint64
}

func (p *PumpfunSellPipeline) Sell(ctx context.Context, req SellRequest) (*SellResult, error) {
	mint, err := solana.PublicKeyFromBase58(req.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	bps, err := sellBasisPoints(req.SellPercentage)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With(zap.String("token", req.TokenMint), zap.String("reason", req.Reason))
	result := &SellResult{PerWallet: make([]WalletOutcome, len(req.WalletIDs))}

	wallets := make([]*wallet.Wallet, len(req.WalletIDs))
	for i, id := range req.WalletIDs {
		result.PerWallet[i].WalletID = id
		w, err := p.wallets.Get(id)
		if err != nil {
			result.PerWallet[i].Error = err.Error()
			continue
		}
		wallets[i] = w
	}

	balances := p.readBalances(ctx, mint, wallets, result)

	var legs []sellLeg
	for i, w := range wallets {
		if w == nil || result.PerWallet[i].Error != "" {
			continue
		}
		amount := shareOf(balances[i], bps)
		if amount == 0 {
			result.PerWallet[i].Skipped = true
			continue
		}
		result.PerWallet[i].Amount = amount
		legs = append(legs, sellLeg{outcome: i, wallet: w, amount: amount})
	}
	if len(legs) == 0 {
		logger.Warn("Nothing to sell", zap.Int("wallets", len(req.WalletIDs)))
		return result, ErrNothingToSell
	}

	txs, names, err := p.buildTransactions(ctx, mint, legs)
	if err != nil {
		return result, err
	}

	batch, err := p.submitter.SubmitBatch(ctx, txs, names, bundle.Options{AllowSequentialFallback: true})
	if err != nil {
		return result, fmt.Errorf("submit sells: %w", err)
	}
	for k, wr := range batch.Wallets {
		out := &result.PerWallet[legs[k].outcome]
		out.Signature = wr.Signature
		out.Success = wr.Success
		out.Error = wr.Error
	}
	result.Success = result.Landed() > 0

	logger.Info("Sell batch finished",
		zap.Int("submitted", len(txs)),
		zap.Int("landed", result.Landed()),
		zap.Int("chunks", len(batch.Chunks)))
	return result, nil
}

// readBalances fetches each wallet's token account balance concurrently.
// A wallet without a token account has nothing to sell.
func (p *PumpfunSellPipeline) readBalances(ctx context.Context, mint solana.PublicKey, wallets []*wallet.Wallet, result *SellResult) []uint64 {
	balances := make([]uint64, len(wallets))

	var g errgroup.Group
	g.SetLimit(balanceConcurrency)
	for i, w := range wallets {
		if w == nil {
			continue
		}
		g.Go(func() error {
			ata, err := w.ATA(mint)
			if err != nil {
				result.PerWallet[i].Error = err.Error()
				return nil
			}
			amount, err := p.chain.GetTokenAccountBalance(ctx, ata)
			if err != nil {
				if missingAccount(err) {
					return nil
				}
				result.PerWallet[i].Error = fmt.Sprintf("read balance: %v", err)
				return nil
			}
			if amount == nil {
				return nil
			}
			raw, err := strconv.ParseUint(amount.Amount, 10, 64)
			if err != nil {
				result.PerWallet[i].Error = fmt.Sprintf("parse balance %q: %v", amount.Amount, err)
				return nil
			}
			balances[i] = raw
			return nil
		})
	}
	_ = g.Wait()
	return balances
}

func (p *PumpfunSellPipeline) buildTransactions(ctx context.Context, mint solana.PublicKey, legs []sellLeg) ([]*solana.Transaction, []string, error) {
	fee, err := p.fetchFeeRecipient(ctx)
	if err != nil {
		return nil, nil, err
	}
	accounts, err := pumpfun.DeriveAccounts(mint, fee)
	if err != nil {
		return nil, nil, err
	}
	blockhash, err := p.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	size := p.submitter.MaxBundleSize()
	txs := make([]*solana.Transaction, 0, len(legs))
	names := make([]string, 0, len(legs))
	for k, leg := range legs {
		ixs := p.budgetInstructions()

		sell, err := pumpfun.BuildSellInstruction(accounts, leg.wallet.PublicKey, leg.amount, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("wallet %s: %w", leg.wallet.Name, err)
		}
		ixs = append(ixs, sell)

		// The relay takes one tip per bundle, carried by each chunk's last tx.
		lastInChunk := (size > 0 && (k+1)%size == 0) || k == len(legs)-1
		if lastInChunk && p.tipper != nil {
			if tip := p.tipper.TipInstruction(leg.wallet.PublicKey); tip != nil {
				ixs = append(ixs, tip)
			}
		}

		tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(leg.wallet.PublicKey))
		if err != nil {
			return nil, nil, fmt.Errorf("wallet %s: failed to create transaction: %w", leg.wallet.Name, err)
		}
		if err := leg.wallet.Sign(tx); err != nil {
			return nil, nil, fmt.Errorf("wallet %s: failed to sign: %w", leg.wallet.Name, err)
		}
		txs = append(txs, tx)
		names = append(names, leg.wallet.Name)
	}
	return txs, names, nil
}

func (p *PumpfunSellPipeline) budgetInstructions() []solana.Instruction {
	var ixs []solana.Instruction
	if p.cfg.ComputeUnits > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitLimitInstruction(p.cfg.ComputeUnits).Build())
	}
	if p.cfg.PriorityFeeMicros > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(p.cfg.PriorityFeeMicros).Build())
	}
	return ixs
}

func (p *PumpfunSellPipeline) fetchFeeRecipient(ctx context.Context) (solana.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.feeRecipient != nil {
		return *p.feeRecipient, nil
	}
	global, err := pumpfun.FetchGlobalAccount(ctx, p.chain)
	if err != nil {
		return solana.PublicKey{}, err
	}
	p.feeRecipient = &global.FeeRecipient
	return global.FeeRecipient, nil
}

func missingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}

// sellBasisPoints truncates pct to whole basis points. Anything under one
// basis point is rejected instead of becoming a zero sell.
func sellBasisPoints(pct decimal.Decimal) (int64, error) {
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return 0, ErrInvalidSellPercentage
	}
	bps := pct.Mul(decimal.NewFromInt(100)).IntPart()
	if bps < 1 {
		return 0, ErrInvalidSellPercentage
	}
	return bps, nil
}

// shareOf returns floor(balance * bps / 10000) without overflowing.
func shareOf(balance uint64, bps int64) uint64 {
	if balance == 0 || bps <= 0 {
		return 0
	}
	if bps >= basisPoints {
		return balance
	}
	share := decimal.NewFromUint64(balance).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(basisPoints)).
		Floor()
	return share.BigInt().Uint64()
}
