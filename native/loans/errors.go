package loans

import "errors"

var (
	ErrNilState               = errors.New("loans: state not configured")
	ErrNilOracle              = errors.New("loans: oracle not configured")
	ErrNilSwapper             = errors.New("loans: swapper not configured")
	ErrNoEscrowLeg            = errors.New("loans: escrow engine not configured")
	ErrNoRollsLeg             = errors.New("loans: rolls engine not configured")
	ErrLoanNotFound           = errors.New("loans: loan not found")
	ErrNotLoanOwner           = errors.New("loans: caller does not hold the loan")
	ErrLoanClosed             = errors.New("loans: loan already closed")
	ErrLoanExpired            = errors.New("loans: loan expired")
	ErrUnsupportedAsset       = errors.New("loans: unsupported asset pair")
	ErrInvalidAmount          = errors.New("loans: amount must be positive")
	ErrInvalidPrice           = errors.New("loans: invalid oracle price")
	ErrSwapDeviation          = errors.New("loans: swap deviates from oracle price")
	ErrBalanceMismatch        = errors.New("loans: balance update mismatch")
	ErrLoanBelowMinimum       = errors.New("loans: loan amount below minimum")
	ErrUnderlyingBelowMinimum = errors.New("loans: underlying out below minimum")
	ErrEscrowOfferRequired    = errors.New("loans: escrow loan requires a new escrow offer")
	ErrUnexpectedPositionID   = errors.New("loans: unexpected position id")
	ErrInsufficientBalance    = errors.New("loans: insufficient balance")
)
