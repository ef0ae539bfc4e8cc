// Package pumpfun builds Pump.fun bonding-curve instructions.
//
// Only what the mitigation sell needs lives here:
//   - config.go: program addresses and per-mint account derivation.
//   - global_account.go: decoding of the program's global account, which
//     carries the fee recipient.
//   - instructions.go: the sell instruction.
//
// Usage example:
//
//	global, err := pumpfun.FetchGlobalAccount(ctx, rpcClient)
//	if err != nil {
//	    return err
//	}
//	accounts, err := pumpfun.DeriveAccounts(mint, global.FeeRecipient)
//	if err != nil {
//	    return err
//	}
//	ix, err := pumpfun.BuildSellInstruction(accounts, owner, amount, 0)
package pumpfun
