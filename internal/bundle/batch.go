// internal/bundle/batch.go
package bundle

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Chunk splits items into ordered slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// SubmitBatch submits a set larger than one bundle as consecutive relay-sized
// chunks, waiting the configured chunk delay between them. wallets, when
// given, must line up with txs and is used to label the results. A failed
// chunk does not stop the following ones.
func (e *Executor) SubmitBatch(ctx context.Context, txs []*solana.Transaction, wallets []string, opts Options) (*BatchResult, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, ErrEmptySet)
	}
	if wallets != nil && len(wallets) != len(txs) {
		return nil, fmt.Errorf("%w: %w (%d wallets, %d txs)", ErrInvalidBundle, ErrWalletCount, len(wallets), len(txs))
	}
	for i, tx := range txs {
		if err := validateTransaction(tx); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %w", ErrInvalidBundle, i, err)
		}
	}

	size := e.relay.MaxBundleSize()
	chunks := Chunk(txs, size)
	result := &BatchResult{
		Chunks:  make([]*Submission, 0, len(chunks)),
		Wallets: make([]WalletResult, len(txs)),
		Success: true,
	}

	for c, chunk := range chunks {
		offset := c * size
		if c > 0 {
			if err := e.sleep(ctx, e.cfg.ChunkDelay()); err != nil {
				e.failRemaining(result, wallets, c, offset, err)
				return result, nil
			}
		}

		e.logger.Debug("Submitting chunk",
			zap.Int("chunk", c),
			zap.Int("of", len(chunks)),
			zap.Int("size", len(chunk)))

		sub, err := e.Submit(ctx, chunk, opts)
		if sub != nil {
			result.Chunks = append(result.Chunks, sub)
		}
		if sub == nil || !sub.Success {
			result.Success = false
		}

		for i := range chunk {
			idx := offset + i
			wr := WalletResult{Index: idx, Chunk: c}
			if wallets != nil {
				wr.Wallet = wallets[idx]
			}
			switch {
			case sub != nil && i < len(sub.Legs):
				leg := sub.Legs[i]
				wr.Signature = leg.Signature
				wr.Success = leg.Success
				wr.Error = leg.Error
			case err != nil:
				wr.Error = err.Error()
			}
			result.Wallets[idx] = wr
		}
	}
	return result, nil
}

// failRemaining marks every result from chunk c onward as not submitted.
func (e *Executor) failRemaining(result *BatchResult, wallets []string, c, offset int, cause error) {
	result.Success = false
	size := e.relay.MaxBundleSize()
	for idx := offset; idx < len(result.Wallets); idx++ {
		wr := WalletResult{Index: idx, Chunk: c + (idx-offset)/size, Error: cause.Error()}
		if wallets != nil {
			wr.Wallet = wallets[idx]
		}
		result.Wallets[idx] = wr
	}
}
