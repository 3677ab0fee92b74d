package escrow

import "math/big"

// OfferTerms are the caller-supplied parameters for a new supplier offer.
type OfferTerms struct {
	Amount          *big.Int
	Duration        int64
	InterestAPRBips uint64
	MaxGracePeriod  int64
	LateFeeAPRBips  uint64
	MinEscrow       *big.Int
}

// Offer is a supplier's standing commitment of underlying liquidity. Escrows
// drawn from the offer snapshot its fee terms, so later offer updates never
// change live escrows.
type Offer struct {
	ID              uint64   `json:"id"`
	Supplier        [20]byte `json:"supplier"`
	Available       *big.Int `json:"available"`
	Duration        int64    `json:"duration"`
	InterestAPRBips uint64   `json:"interestAprBips"`
	MaxGracePeriod  int64    `json:"maxGracePeriod"`
	LateFeeAPRBips  uint64   `json:"lateFeeAprBips"`
	MinEscrow       *big.Int `json:"minEscrow"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Available = cloneBigInt(o.Available)
	clone.MinEscrow = cloneBigInt(o.MinEscrow)
	return &clone
}

// Escrow is one live collateral escrow: the supplier's funds replaced the
// borrower's collateral in the loans engine, and the collateral plus the
// prepaid interest sit in the escrow vault until release or seizure.
type Escrow struct {
	ID             uint64   `json:"id"`
	OfferID        uint64   `json:"offerId"`
	Loans          [20]byte `json:"loans"`
	LoanID         uint64   `json:"loanId"`
	Escrowed       *big.Int `json:"escrowed"`
	Duration       int64    `json:"duration"`
	Expiration     int64    `json:"expiration"`
	MaxGracePeriod int64    `json:"maxGracePeriod"`
	LateFeeAPRBips uint64   `json:"lateFeeAprBips"`
	InterestHeld   *big.Int `json:"interestHeld"`
	Released       bool     `json:"released"`
	Withdrawable   *big.Int `json:"withdrawable"`
}

// Clone returns a deep copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Escrowed = cloneBigInt(e.Escrowed)
	clone.InterestHeld = cloneBigInt(e.InterestHeld)
	clone.Withdrawable = cloneBigInt(e.Withdrawable)
	return &clone
}

// ReleasePreview is the balance split computed for a release at a given
// repayment. Withdrawable + ToLoans always equals repaid + escrowed +
// interestHeld.
type ReleasePreview struct {
	Withdrawable   *big.Int
	ToLoans        *big.Int
	InterestRefund *big.Int
	LateFee        *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
