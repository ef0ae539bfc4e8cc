// internal/blockchain/solbc/rpc/rpc.go
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	retryAttempts = 3
	retryDelay    = 150 * time.Millisecond
	reqTimeout    = 10 * time.Second
)

// node is the subset of *solanarpc.Client the pool uses. Tests swap it out.
type node interface {
	GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetSignaturesForAddressOpts) ([]*solanarpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *solanarpc.GetTransactionOpts) (*solanarpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
}

// Client is a round-robin client over several RPC nodes. Every call is rate
// limited and retried on the next node when it fails.
type Client struct {
	nodes   []node
	urls    []string
	current int
	mu      sync.Mutex
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client for the given node URLs. ratePerSec caps the
// request rate across all nodes.
func NewClient(urls []string, ratePerSec float64, logger *zap.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}

	nodes := make([]node, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}
	return newClient(nodes, urls, ratePerSec, logger), nil
}

func newClient(nodes []node, urls []string, ratePerSec float64, logger *zap.Logger) *Client {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		nodes:   nodes,
		urls:    urls,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger.Named("rpc-client"),
	}
}

func (c *Client) next() (node, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, url := c.nodes[c.current], c.urls[c.current]
	c.current = (c.current + 1) % len(c.nodes)
	return n, url
}

// execute runs op against successive nodes until it succeeds, the attempts are
// used up or ctx ends. Errors marked with backoff.Permanent are not retried.
func execute[T any](ctx context.Context, c *Client, method string, op func(context.Context, node) (T, error)) (T, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	attempt := 0
	return backoff.Retry(timeoutCtx, func() (T, error) {
		var zero T
		attempt++
		if err := c.limiter.Wait(timeoutCtx); err != nil {
			return zero, backoff.Permanent(NewError(ErrTimeout, "", method))
		}

		n, url := c.next()
		res, err := op(timeoutCtx, n)
		if err == nil {
			return res, nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, backoff.Permanent(NewError(perm.Err, url, method))
		}

		c.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return zero, NewError(err, url, method)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(retryDelay)),
		backoff.WithMaxTries(retryAttempts),
	)
}

// GetSlot returns the current confirmed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	return execute(ctx, c, "getSlot", func(ctx context.Context, n node) (uint64, error) {
		return n.GetSlot(ctx, solanarpc.CommitmentConfirmed)
	})
}

// GetSignaturesForAddress returns at most limit signatures older than before
// and newer than until, newest first. Zero signatures leave either bound open.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int, before, until solana.Signature) ([]*solanarpc.TransactionSignature, error) {
	return execute(ctx, c, "getSignaturesForAddress", func(ctx context.Context, n node) ([]*solanarpc.TransactionSignature, error) {
		return n.GetSignaturesForAddressWithOpts(ctx, address, &solanarpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Before:     before,
			Until:      until,
			Commitment: solanarpc.CommitmentConfirmed,
		})
	})
}

// GetTransaction fetches a confirmed transaction with its meta.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
	version := uint64(0)
	return execute(ctx, c, "getTransaction", func(ctx context.Context, n node) (*solanarpc.GetTransactionResult, error) {
		return n.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     solanarpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &version,
		})
	})
}

// GetSignatureStatuses looks the signatures up, including transaction history.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	return execute(ctx, c, "getSignatureStatuses", func(ctx context.Context, n node) (*solanarpc.GetSignatureStatusesResult, error) {
		return n.GetSignatureStatuses(ctx, true, sigs...)
	})
}

// GetLatestBlockhash returns the latest finalized blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := execute(ctx, c, "getLatestBlockhash", func(ctx context.Context, n node) (*solanarpc.GetLatestBlockhashResult, error) {
		return n.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return solana.Hash{}, err
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, NewError(ErrInvalidResponse, "", "getLatestBlockhash")
	}
	return res.Value.Blockhash, nil
}

// GetTokenAccountBalance returns the raw amount held by a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*solanarpc.UiTokenAmount, error) {
	res, err := execute(ctx, c, "getTokenAccountBalance", func(ctx context.Context, n node) (*solanarpc.GetTokenAccountBalanceResult, error) {
		return n.GetTokenAccountBalance(ctx, account, solanarpc.CommitmentConfirmed)
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value == nil {
		return nil, NewError(ErrInvalidResponse, "", "getTokenAccountBalance")
	}
	return res.Value, nil
}

// GetAccountInfo fetches raw account data.
func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	return execute(ctx, c, "getAccountInfo", func(ctx context.Context, n node) (*solanarpc.GetAccountInfoResult, error) {
		return n.GetAccountInfoWithOpts(ctx, account, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
	})
}

// SendTransaction sends a signed transaction without preflight. Send errors
// are not retried on other nodes: a rejected transaction stays rejected.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return execute(ctx, c, "sendTransaction", func(ctx context.Context, n node) (solana.Signature, error) {
		sig, err := n.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: solanarpc.CommitmentConfirmed,
		})
		if err != nil && !IsTransient(err) {
			return sig, backoff.Permanent(err)
		}
		return sig, err
	})
}
