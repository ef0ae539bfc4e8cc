// =============================================
// File: internal/dex/pumpfun/global_account.go
// =============================================
package pumpfun

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrGlobalAccountNotFound = errors.New("pump.fun global account not found")

// GlobalAccount is the borsh layout of the program's global account.
type GlobalAccount struct {
	Discriminator               [8]byte
	Initialized                 bool
	Authority                   solana.PublicKey
	FeeRecipient                solana.PublicKey
	InitialVirtualTokenReserves uint64
	InitialVirtualSolReserves   uint64
	InitialRealTokenReserves    uint64
	TokenTotalSupply            uint64
	FeeBasisPoints              uint64
}

// AccountReader fetches raw account data.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// ParseGlobalAccount decodes global account data.
func ParseGlobalAccount(data []byte) (*GlobalAccount, error) {
	var account GlobalAccount
	if err := bin.NewBorshDecoder(data).Decode(&account); err != nil {
		return nil, fmt.Errorf("decode global account (%d bytes): %w", len(data), err)
	}
	return &account, nil
}

// FetchGlobalAccount loads and decodes the global account, checking it is
// owned by the program.
func FetchGlobalAccount(ctx context.Context, client AccountReader) (*GlobalAccount, error) {
	addr, err := GlobalAddress()
	if err != nil {
		return nil, err
	}

	info, err := client.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get global account: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrGlobalAccountNotFound, addr)
	}
	if !info.Value.Owner.Equals(PumpFunProgramID) {
		return nil, fmt.Errorf("global account has incorrect owner: expected %s, got %s",
			PumpFunProgramID, info.Value.Owner)
	}
	return ParseGlobalAccount(info.Value.Data.GetBinary())
}
