package rolls

import "math/big"

// Offer is a provider's standing proposal to roll one paired position to the
// current price. Single use: active flips false on execute or cancel and
// never back.
type Offer struct {
	ID                 uint64   `json:"id"`
	TakerID            uint64   `json:"takerId"`
	ProviderID         uint64   `json:"providerId"`
	Provider           [20]byte `json:"provider"`
	FeeAmount          *big.Int `json:"feeAmount"`
	FeeDeltaFactorBips int64    `json:"feeDeltaFactorBips"`
	FeeReferencePrice  *big.Int `json:"feeReferencePrice"`
	MinPrice           *big.Int `json:"minPrice"`
	MaxPrice           *big.Int `json:"maxPrice"`
	MinToProvider      *big.Int `json:"minToProvider"`
	Deadline           int64    `json:"deadline"`
	Active             bool     `json:"active"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.FeeAmount = cloneBigInt(o.FeeAmount)
	clone.FeeReferencePrice = cloneBigInt(o.FeeReferencePrice)
	clone.MinPrice = cloneBigInt(o.MinPrice)
	clone.MaxPrice = cloneBigInt(o.MaxPrice)
	clone.MinToProvider = cloneBigInt(o.MinToProvider)
	return &clone
}

// Preview is the full cash breakdown of a roll at a given price. ToTaker and
// ToProvider are signed: negative values are owed to the protocol by that
// side.
type Preview struct {
	ToTaker           *big.Int
	ToProvider        *big.Int
	RollFee           *big.Int
	NewTakerLocked    *big.Int
	NewProviderLocked *big.Int
	ProtocolFee       *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
