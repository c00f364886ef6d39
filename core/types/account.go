package types

import "math/big"

// Account holds the fungible token balance backing stake deposits and
// withdrawals. The ledger debits it on deposit and credits it on withdrawal;
// everything else about token issuance lives outside this system.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureAccount returns a usable account value with a non-nil balance,
// allocating a zeroed account when the input is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
