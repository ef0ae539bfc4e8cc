package bundle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	sizes := func(chunks [][]int) []int {
		out := make([]int, len(chunks))
		for i, c := range chunks {
			out[i] = len(c)
		}
		return out
	}

	items := make([]int, 12)
	for i := range items {
		items[i] = i
	}

	assert.Equal(t, []int{5, 5, 2}, sizes(Chunk(items, 5)))
	assert.Equal(t, []int{12}, sizes(Chunk(items, 20)))
	assert.Equal(t, []int{5}, sizes(Chunk(items[:5], 5)))
	assert.Nil(t, Chunk(items, 0))
	assert.Nil(t, Chunk([]int{}, 5))
	assert.Equal(t, []int{10, 11}, Chunk(items, 5)[2])
}

// Twelve transactions against a relay limit of five go out as 5, 5, 2 with
// a fixed pause between chunks; results come back in input order.
func TestSubmitBatch_ChunksAndMapsResults(t *testing.T) {
	txs := signedTxs(t, 12)
	e, r, chain, delays := newTestExecutor(t, txs, 5)
	chain.landAll = true

	wallets := make([]string, len(txs))
	for i := range wallets {
		wallets[i] = fmt.Sprintf("wallet-%02d", i)
	}

	res, err := e.SubmitBatch(context.Background(), txs, wallets, Options{})
	require.NoError(t, err)

	require.Len(t, r.atomicSets, 3)
	assert.Len(t, r.atomicSets[0], 5)
	assert.Len(t, r.atomicSets[1], 5)
	assert.Len(t, r.atomicSets[2], 2)
	assert.Equal(t, txs[10].Signatures[0], r.atomicSets[2][0])

	assert.Equal(t, []time.Duration{time.Second, time.Second}, *delays)

	assert.True(t, res.Success)
	assert.Len(t, res.Chunks, 3)
	require.Len(t, res.Wallets, 12)
	for i, w := range res.Wallets {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, wallets[i], w.Wallet)
		assert.Equal(t, i/5, w.Chunk)
		assert.True(t, w.Success)
		assert.Equal(t, txs[i].Signatures[0], *w.Signature)
	}
	assert.Equal(t, 12, res.Landed())
}

func TestSubmitBatch_FailedChunkDoesNotStopTheRest(t *testing.T) {
	txs := signedTxs(t, 7)
	e, r, _, _ := newTestExecutor(t, txs, 5)
	r.atomicErr = errors.New("timeout")
	r.failSingle = map[int]bool{5: true}

	res, err := e.SubmitBatch(context.Background(), txs, nil, Options{MaxRetries: 1, AllowSequentialFallback: true})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Len(t, res.Chunks, 2)
	assert.Equal(t, 6, res.Landed())
	assert.False(t, res.Wallets[5].Success)
	assert.Equal(t, 1, res.Wallets[5].Chunk)
	assert.True(t, res.Wallets[6].Success)
}

func TestSubmitBatch_AtomicOnlyFailure(t *testing.T) {
	txs := signedTxs(t, 6)
	e, r, _, _ := newTestExecutor(t, txs, 5)
	r.atomicErr = errors.New("timeout")

	res, err := e.SubmitBatch(context.Background(), txs, nil, Options{MaxRetries: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	for _, w := range res.Wallets {
		assert.False(t, w.Success)
		assert.Contains(t, w.Error, ErrSubmissionFailed.Error())
	}
}

func TestSubmitBatch_CancelledBetweenChunks(t *testing.T) {
	txs := signedTxs(t, 8)
	e, _, chain, _ := newTestExecutor(t, txs, 5)
	chain.landAll = true
	e.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	res, err := e.SubmitBatch(context.Background(), txs, nil, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Chunks, 1)
	assert.Equal(t, 5, res.Landed())
	assert.Equal(t, context.Canceled.Error(), res.Wallets[7].Error)
}

func TestSubmitBatch_WalletMismatch(t *testing.T) {
	txs := signedTxs(t, 3)
	e, _, _, _ := newTestExecutor(t, txs, 5)

	_, err := e.SubmitBatch(context.Background(), txs, []string{"a"}, Options{})
	assert.ErrorIs(t, err, ErrWalletCount)
}
