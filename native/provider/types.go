package provider

import "math/big"

// OfferTerms are the caller-supplied parameters for a new liquidity offer.
type OfferTerms struct {
	PutStrikeBips  uint64
	CallStrikeBips uint64
	Duration       int64
	Amount         *big.Int
	MinLocked      *big.Int
}

// Offer is a provider-side liquidity commitment. Positions mint from it until
// the available amount is exhausted or the provider withdraws it.
type Offer struct {
	ID             uint64   `json:"id"`
	Provider       [20]byte `json:"provider"`
	Available      *big.Int `json:"available"`
	PutStrikeBips  uint64   `json:"putStrikeBips"`
	CallStrikeBips uint64   `json:"callStrikeBips"`
	Duration       int64    `json:"duration"`
	MinLocked      *big.Int `json:"minLocked"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Available = cloneBigInt(o.Available)
	clone.MinLocked = cloneBigInt(o.MinLocked)
	return &clone
}

// Position is the provider leg of one open collar. It is created when a taker
// consumes the parent offer and mutates exactly once, at settlement or
// cancellation.
type Position struct {
	ID             uint64   `json:"id"`
	OfferID        uint64   `json:"offerId"`
	TakerID        uint64   `json:"takerId"`
	Duration       int64    `json:"duration"`
	Expiration     int64    `json:"expiration"`
	Locked         *big.Int `json:"locked"`
	PutStrikeBips  uint64   `json:"putStrikeBips"`
	CallStrikeBips uint64   `json:"callStrikeBips"`
	Settled        bool     `json:"settled"`
	Withdrawable   *big.Int `json:"withdrawable"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Locked = cloneBigInt(p.Locked)
	clone.Withdrawable = cloneBigInt(p.Withdrawable)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
