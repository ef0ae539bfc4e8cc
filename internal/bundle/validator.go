// internal/bundle/validator.go
package bundle

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func validateSet(txs []*solana.Transaction, limit int) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidBundle, ErrEmptySet)
	}
	if len(txs) > limit {
		return fmt.Errorf("%w: %w (%d > %d)", ErrInvalidBundle, ErrTooManyTransactions, len(txs), limit)
	}
	for i, tx := range txs {
		if err := validateTransaction(tx); err != nil {
			return fmt.Errorf("%w: tx %d: %w", ErrInvalidBundle, i, err)
		}
	}
	return nil
}

func validateTransaction(tx *solana.Transaction) error {
	if tx == nil || len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return ErrUnsigned
	}
	if tx.Message.RecentBlockhash == (solana.Hash{}) {
		return ErrInvalidBlockhash
	}
	if len(tx.Message.Instructions) == 0 {
		return ErrNoInstructions
	}
	return nil
}
