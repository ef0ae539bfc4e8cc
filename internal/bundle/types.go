// internal/bundle/types.go
package bundle

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Method is how a transaction set ended up being submitted.
type Method string

const (
	MethodAtomic     Method = "atomic"
	MethodSequential Method = "sequential"
)

// Options controls one Submit call.
type Options struct {
	// MaxRetries bounds atomic attempts. Zero uses the configured default.
	MaxRetries              int  `json:"max_retries"`
	AllowSequentialFallback bool `json:"allow_sequential_fallback"`
}

// LegResult is the outcome of one transaction of the set, by input index.
type LegResult struct {
	Index     int               `json:"index"`
	Signature *solana.Signature `json:"signature"`
	Success   bool              `json:"success"`
	// AlreadyLanded is set when the transaction was found on chain before
	// being re-sent in sequential mode.
	AlreadyLanded bool   `json:"already_landed,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Submission is the immutable report of one Submit call.
type Submission struct {
	ID         string      `json:"id"`
	Method     Method      `json:"method"`
	BundleID   string      `json:"bundle_id,omitempty"`
	Legs       []LegResult `json:"legs"`
	Success    bool        `json:"success"`
	Attempts   int         `json:"attempts"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Partial reports a sequential submission whose legs had mixed results.
func (s *Submission) Partial() bool {
	if s.Method != MethodSequential {
		return false
	}
	var ok, failed bool
	for _, leg := range s.Legs {
		if leg.Success {
			ok = true
		} else {
			failed = true
		}
	}
	return ok && failed
}

// AnchorSignature returns the signature of the first leg, if it succeeded.
func (s *Submission) AnchorSignature() (solana.Signature, bool) {
	if len(s.Legs) == 0 || !s.Legs[0].Success || s.Legs[0].Signature == nil {
		return solana.Signature{}, false
	}
	return *s.Legs[0].Signature, true
}

// WalletResult maps a leg of a batch back to its input position and wallet.
type WalletResult struct {
	Wallet    string            `json:"wallet,omitempty"`
	Index     int               `json:"index"`
	Chunk     int               `json:"chunk"`
	Signature *solana.Signature `json:"signature"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
}

// BatchResult is the outcome of SubmitBatch, in input order.
type BatchResult struct {
	Chunks  []*Submission  `json:"chunks"`
	Wallets []WalletResult `json:"wallets"`
	// Success is true when every chunk succeeded.
	Success bool `json:"success"`
}

// Landed counts the legs that succeeded.
func (b *BatchResult) Landed() int {
	n := 0
	for _, w := range b.Wallets {
		if w.Success {
			n++
		}
	}
	return n
}
