// =============================
// File: internal/dex/pumpfun/config.go
// =============================
package pumpfun

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Known PumpFun protocol addresses
var (
	PumpFunProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	PumpFunEventAuth = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")

	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
)

// Accounts are the program accounts shared by every trade on one mint.
type Accounts struct {
	Program                solana.PublicKey
	Global                 solana.PublicKey
	FeeRecipient           solana.PublicKey
	EventAuthority         solana.PublicKey
	Mint                   solana.PublicKey
	BondingCurve           solana.PublicKey
	AssociatedBondingCurve solana.PublicKey
}

// GlobalAddress is the PDA of the program's global account.
func GlobalAddress() (solana.PublicKey, error) {
	global, _, err := solana.FindProgramAddress([][]byte{[]byte("global")}, PumpFunProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive global account: %w", err)
	}
	return global, nil
}

// DeriveAccounts computes the bonding curve PDA and its token account for
// mint. feeRecipient comes from the global account.
func DeriveAccounts(mint, feeRecipient solana.PublicKey) (Accounts, error) {
	global, err := GlobalAddress()
	if err != nil {
		return Accounts{}, err
	}

	curve, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpFunProgramID,
	)
	if err != nil {
		return Accounts{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}

	curveATA, _, err := solana.FindAssociatedTokenAddress(curve, mint)
	if err != nil {
		return Accounts{}, fmt.Errorf("failed to derive associated bonding curve: %w", err)
	}

	return Accounts{
		Program:                PumpFunProgramID,
		Global:                 global,
		FeeRecipient:           feeRecipient,
		EventAuthority:         PumpFunEventAuth,
		Mint:                   mint,
		BondingCurve:           curve,
		AssociatedBondingCurve: curveATA,
	}, nil
}
