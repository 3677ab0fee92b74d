package taker

import "math/big"

// Position is the taker leg of one open collar, paired 1:1 with a provider
// position. It owns the settlement algorithm: at expiry the oracle price
// splits takerLocked + providerLocked between the two sides.
type Position struct {
	ID             uint64   `json:"id"`
	ProviderID     uint64   `json:"providerId"`
	Duration       int64    `json:"duration"`
	Expiration     int64    `json:"expiration"`
	StartPrice     *big.Int `json:"startPrice"`
	PutStrikeBips  uint64   `json:"putStrikeBips"`
	CallStrikeBips uint64   `json:"callStrikeBips"`
	TakerLocked    *big.Int `json:"takerLocked"`
	ProviderLocked *big.Int `json:"providerLocked"`
	Settled        bool     `json:"settled"`
	Withdrawable   *big.Int `json:"withdrawable"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.StartPrice = cloneBigInt(p.StartPrice)
	clone.TakerLocked = cloneBigInt(p.TakerLocked)
	clone.ProviderLocked = cloneBigInt(p.ProviderLocked)
	clone.Withdrawable = cloneBigInt(p.Withdrawable)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
