package types

import "math/big"

// Account tracks the fungible balances held by a single principal, keyed by
// asset symbol. Balances are always non-nil after a call to Ensure.
type Account struct {
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an empty account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Ensure normalises the account so the balance map and the requested asset
// entries are non-nil. A nil receiver yields a fresh account.
func (a *Account) Ensure(assets ...string) *Account {
	if a == nil {
		a = NewAccount()
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	for _, asset := range assets {
		if a.Balances[asset] == nil {
			a.Balances[asset] = big.NewInt(0)
		}
	}
	return a
}

// Balance returns the balance held for the supplied asset. The returned value
// is never nil but may alias the stored integer; callers must not mutate it.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil || a.Balances[asset] == nil {
		return big.NewInt(0)
	}
	return a.Balances[asset]
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	for asset, amount := range a.Balances {
		if amount != nil {
			clone.Balances[asset] = new(big.Int).Set(amount)
		} else {
			clone.Balances[asset] = big.NewInt(0)
		}
	}
	return clone
}
