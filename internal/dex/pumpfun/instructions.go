// ==============================================
// File: internal/dex/pumpfun/instructions.go
// ==============================================
package pumpfun

import (
	"encoding/binary"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// SellDiscriminator is the anchor discriminator of the sell instruction.
var SellDiscriminator = [8]byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}

var ErrZeroAmount = errors.New("sell amount is zero")

// BuildSellInstruction sells amount raw token units from owner's associated
// token account, accepting no less than minSolOutput lamports.
func BuildSellInstruction(accounts Accounts, owner solana.PublicKey, amount, minSolOutput uint64) (solana.Instruction, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	data := make([]byte, 0, 24)
	data = append(data, SellDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint64(data, minSolOutput)

	associatedUser, _, err := solana.FindAssociatedTokenAddress(owner, accounts.Mint)
	if err != nil {
		return nil, err
	}

	// Account order is fixed by the program.
	metas := []*solana.AccountMeta{
		{PublicKey: accounts.Global, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.FeeRecipient, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.BondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AssociatedBondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: associatedUser, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: AssociatedTokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.Program, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(accounts.Program, metas, data), nil
}
