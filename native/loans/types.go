package loans

import "math/big"

// Loan aggregates one borrower-facing position: the taker leg it wraps (the
// loan id IS the taker position id), the cash debt, and the optional escrow
// covering the collateral. Ownership is tracked by NFT; the borrower field is
// only the original opener.
type Loan struct {
	ID               uint64   `json:"id"`
	Borrower         [20]byte `json:"borrower"`
	UnderlyingAmount *big.Int `json:"underlyingAmount"`
	LoanAmount       *big.Int `json:"loanAmount"`
	UsesEscrow       bool     `json:"usesEscrow"`
	EscrowID         uint64   `json:"escrowId"`
	Closed           bool     `json:"closed"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.UnderlyingAmount = cloneBigInt(l.UnderlyingAmount)
	clone.LoanAmount = cloneBigInt(l.LoanAmount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
