// internal/bundle/errors.go
package bundle

import "errors"

var (
	// ErrSubmissionFailed is returned when every atomic attempt failed and
	// sequential fallback was not allowed.
	ErrSubmissionFailed = errors.New("bundle submission failed")

	// ErrInvalidBundle wraps every validation failure of a transaction set.
	ErrInvalidBundle = errors.New("invalid bundle")

	ErrEmptySet            = errors.New("no transactions")
	ErrTooManyTransactions = errors.New("transaction count exceeds relay bundle limit")
	ErrUnsigned            = errors.New("transaction is not signed")
	ErrInvalidBlockhash    = errors.New("transaction has no recent blockhash")
	ErrNoInstructions      = errors.New("transaction has no instructions")
	ErrWalletCount         = errors.New("wallet list does not match transaction count")
)
