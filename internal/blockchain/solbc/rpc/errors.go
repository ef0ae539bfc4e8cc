// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoRPCNodes is returned when the client is built without any node URL.
	ErrNoRPCNodes = errors.New("no RPC nodes configured")

	// ErrRateLimit is returned when a node answers 429.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout is returned when the request budget runs out.
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidResponse is returned when a node answers with an empty or malformed result.
	ErrInvalidResponse = errors.New("invalid RPC response")
)

// Error carries the node and method that produced a failure.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the node URL and method name.
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// IsTransient reports whether err is worth retrying on another node or on a
// later poll tick. JSON-RPC errors with a server-side code are treated as
// final, everything network shaped is transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// -32005 node behind, -32004 block not available, -32603 internal
		switch rpcErr.Code {
		case -32005, -32004, -32603:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}
