// internal/blockchain/solbc/chain.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var (
	// ErrTransactionNotFound is returned when a node does not (yet) know a
	// signature that was listed for an address. Callers treat it as transient.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrLandingTimeout is returned by WaitForLanding when the signature was
	// not confirmed in time.
	ErrLandingTimeout = errors.New("transaction not landed before timeout")
)

// defaultPageSize is the largest page getSignaturesForAddress serves.
const defaultPageSize = 1000

// RPCReader is the read side of the multi-node RPC client.
type RPCReader interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int, before, until solana.Signature) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SignatureInfo is one entry of an address's signature history.
type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	Failed    bool
}

// TokenBalance is a token account balance snapshot from transaction meta.
type TokenBalance struct {
	AccountIndex uint16
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	Amount       uint64
	Decimals     uint8
}

// ParsedTransaction holds the balance data needed to classify a trade.
type ParsedTransaction struct {
	Signature          solana.Signature
	Slot               uint64
	BlockTime          time.Time
	Failed             bool
	AccountKeys        []solana.PublicKey
	Signers            []solana.PublicKey
	PreTokenBalances   []TokenBalance
	PostTokenBalances  []TokenBalance
	PreNativeBalances  []uint64
	PostNativeBalances []uint64
}

// AccountIndex returns the position of key in the transaction account list
// or -1.
func (p *ParsedTransaction) AccountIndex(key solana.PublicKey) int {
	for i, k := range p.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}

// SignatureState is the cluster's view of one signature.
type SignatureState struct {
	Seen      bool
	Confirmed bool
	Failed    bool
	Slot      uint64
}

// ChainData answers the read-only chain queries of the monitor and executor.
type ChainData struct {
	rpc    RPCReader
	logger *zap.Logger
	// pollEvery is the cadence of WaitForLanding.
	pollEvery time.Duration
}

func NewChainData(client RPCReader, logger *zap.Logger) *ChainData {
	return &ChainData{
		rpc:       client,
		logger:    logger.Named("chain-data"),
		pollEvery: 400 * time.Millisecond,
	}
}

// CurrentSlot returns the confirmed slot height.
func (c *ChainData) CurrentSlot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx)
}

// SignaturesSince lists every signature for address newer than since, oldest
// first. The node answers newest first in pages of pageSize, so the history
// is walked backwards with before until since is reached. The walk also
// stops at the first signature below minSlot, which bounds it when since is
// zero. Signatures below minSlot are left out.
func (c *ChainData) SignaturesSince(ctx context.Context, address solana.PublicKey, since solana.Signature, minSlot uint64, pageSize int) ([]SignatureInfo, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var (
		newestFirst []SignatureInfo
		before      solana.Signature
	)
	for {
		page, err := c.rpc.GetSignaturesForAddress(ctx, address, pageSize, before, since)
		if err != nil {
			return nil, err
		}

		reachedFloor := false
		for _, s := range page {
			if s == nil {
				continue
			}
			if s.Slot < minSlot {
				reachedFloor = true
				break
			}
			newestFirst = append(newestFirst, SignatureInfo{
				Signature: s.Signature,
				Slot:      s.Slot,
				Failed:    s.Err != nil,
			})
		}
		if reachedFloor || len(page) < pageSize {
			break
		}

		oldest := page[len(page)-1]
		if oldest == nil || oldest.Signature == before {
			break
		}
		before = oldest.Signature
		c.logger.Debug("Paging signature history",
			zap.String("address", address.String()),
			zap.Int("collected", len(newestFirst)))
	}

	out := make([]SignatureInfo, len(newestFirst))
	for i, s := range newestFirst {
		out[len(newestFirst)-1-i] = s
	}
	return out, nil
}

// ParsedTransaction fetches sig and flattens its meta into balance vectors.
func (c *ChainData) ParsedTransaction(ctx context.Context, sig solana.Signature) (*ParsedTransaction, error) {
	res, err := c.rpc.GetTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", sig, ErrTransactionNotFound)
		}
		return nil, err
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil, fmt.Errorf("%s: %w", sig, ErrTransactionNotFound)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+len(res.Meta.LoadedAddresses.Writable)+len(res.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, res.Meta.LoadedAddresses.Writable...)
	keys = append(keys, res.Meta.LoadedAddresses.ReadOnly...)

	parsed := &ParsedTransaction{
		Signature:          sig,
		Slot:               res.Slot,
		Failed:             res.Meta.Err != nil,
		AccountKeys:        keys,
		Signers:            signers(tx),
		PreNativeBalances:  res.Meta.PreBalances,
		PostNativeBalances: res.Meta.PostBalances,
	}
	if res.BlockTime != nil {
		parsed.BlockTime = res.BlockTime.Time()
	}

	if parsed.PreTokenBalances, err = convertTokenBalances(res.Meta.PreTokenBalances, keys); err != nil {
		return nil, fmt.Errorf("pre token balances %s: %w", sig, err)
	}
	if parsed.PostTokenBalances, err = convertTokenBalances(res.Meta.PostTokenBalances, keys); err != nil {
		return nil, fmt.Errorf("post token balances %s: %w", sig, err)
	}
	return parsed, nil
}

func signers(tx *solana.Transaction) []solana.PublicKey {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		n = len(tx.Message.AccountKeys)
	}
	return append([]solana.PublicKey(nil), tx.Message.AccountKeys[:n]...)
}

// IsSigner reports whether key signed the transaction.
func (p *ParsedTransaction) IsSigner(key solana.PublicKey) bool {
	for _, s := range p.Signers {
		if s.Equals(key) {
			return true
		}
	}
	return false
}

func convertTokenBalances(in []rpc.TokenBalance, keys []solana.PublicKey) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
		}
		switch {
		case b.Owner != nil:
			tb.Owner = *b.Owner
		case int(b.AccountIndex) < len(keys):
			// Old nodes omit the owner; fall back to the token account itself.
			tb.Owner = keys[b.AccountIndex]
		}
		if b.UiTokenAmount != nil {
			amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("amount %q: %w", b.UiTokenAmount.Amount, err)
			}
			tb.Amount = amount
			tb.Decimals = b.UiTokenAmount.Decimals
		}
		out = append(out, tb)
	}
	return out, nil
}

// SignatureStates returns the cluster view of each signature, in order.
func (c *ChainData) SignatureStates(ctx context.Context, sigs ...solana.Signature) ([]SignatureState, error) {
	res, err := c.rpc.GetSignatureStatuses(ctx, sigs...)
	if err != nil {
		return nil, err
	}

	states := make([]SignatureState, len(sigs))
	if res == nil {
		return states, nil
	}
	for i, st := range res.Value {
		if i >= len(states) || st == nil {
			continue
		}
		states[i] = SignatureState{
			Seen:   true,
			Failed: st.Err != nil,
			Slot:   st.Slot,
			Confirmed: st.Err == nil && (st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized),
		}
	}
	return states, nil
}

// WaitForLanding polls until sig is confirmed, fails on chain, or timeout
// passes. It returns the slot the transaction landed in.
func (c *ChainData) WaitForLanding(ctx context.Context, sig solana.Signature, timeout time.Duration) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		states, err := c.SignatureStates(ctx, sig)
		if err != nil {
			c.logger.Debug("signature status lookup failed", zap.String("signature", sig.String()), zap.Error(err))
		} else if len(states) == 1 {
			st := states[0]
			if st.Failed {
				return st.Slot, fmt.Errorf("transaction %s failed on chain", sig)
			}
			if st.Confirmed {
				return st.Slot, nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, ErrLandingTimeout
			}
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
