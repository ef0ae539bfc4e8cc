package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeNode struct {
	slot    uint64
	slotErr error
	sendErr error
	calls   int
}

func (f *fakeNode) GetSlot(context.Context, solanarpc.CommitmentType) (uint64, error) {
	f.calls++
	return f.slot, f.slotErr
}

func (f *fakeNode) GetSignaturesForAddressWithOpts(context.Context, solana.PublicKey, *solanarpc.GetSignaturesForAddressOpts) ([]*solanarpc.TransactionSignature, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) GetTransaction(context.Context, solana.Signature, *solanarpc.GetTransactionOpts) (*solanarpc.GetTransactionResult, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) GetLatestBlockhash(context.Context, solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) GetTokenAccountBalance(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) GetAccountInfoWithOpts(context.Context, solana.PublicKey, *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error) {
	f.calls++
	return nil, nil
}

func (f *fakeNode) SendTransactionWithOpts(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error) {
	f.calls++
	return solana.Signature{}, f.sendErr
}

func TestNewClient_NoNodes(t *testing.T) {
	_, err := NewClient(nil, 10, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoRPCNodes)
}

func TestClient_FailsOverToNextNode(t *testing.T) {
	bad := &fakeNode{slotErr: errors.New("connection refused")}
	good := &fakeNode{slot: 1234}
	c := newClient([]node{bad, good}, []string{"http://bad", "http://good"}, 1000, zaptest.NewLogger(t))

	slot, err := c.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), slot)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestClient_AllNodesFail(t *testing.T) {
	n := &fakeNode{slotErr: errors.New("connection reset by peer")}
	c := newClient([]node{n}, []string{"http://only"}, 1000, zaptest.NewLogger(t))

	_, err := c.GetSlot(context.Background())
	require.Error(t, err)

	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "getSlot", rpcErr.Method)
	assert.Equal(t, "http://only", rpcErr.NodeURL)
	assert.Equal(t, retryAttempts, n.calls)
}

func TestClient_SendRejectionIsNotRetried(t *testing.T) {
	n := &fakeNode{sendErr: &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}}
	c := newClient([]node{n, n}, []string{"http://a", "http://b"}, 1000, zaptest.NewLogger(t))

	_, err := c.SendTransaction(context.Background(), &solana.Transaction{})
	require.Error(t, err)
	assert.Equal(t, 1, n.calls)
	assert.False(t, IsTransient(err))
}

func TestClient_InvalidBlockhashResponse(t *testing.T) {
	c := newClient([]node{&fakeNode{}}, []string{"http://a"}, 1000, zaptest.NewLogger(t))

	_, err := c.GetLatestBlockhash(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", NewError(ErrTimeout, "u", "m"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"node behind", &jsonrpc.RPCError{Code: -32005}, true},
		{"simulation failure", &jsonrpc.RPCError{Code: -32002}, false},
		{"network", errors.New("dial tcp: connection refused"), true},
		{"other", errors.New("invalid params"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
