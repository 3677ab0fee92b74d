package escrow

import "errors"

var (
	ErrNilState            = errors.New("escrow: state not configured")
	ErrNotAdmin            = errors.New("escrow: caller is not the admin")
	ErrOfferNotFound       = errors.New("escrow: offer not found")
	ErrEscrowNotFound      = errors.New("escrow: escrow not found")
	ErrNotOfferOwner       = errors.New("escrow: caller is not the offer supplier")
	ErrNotSupplier         = errors.New("escrow: caller does not hold the escrow")
	ErrUnauthorizedLoans   = errors.New("escrow: loans caller not allowed")
	ErrNotEscrowLoans      = errors.New("escrow: caller did not open this escrow")
	ErrUnsupportedAsset    = errors.New("escrow: unsupported underlying asset")
	ErrUnsupportedDuration = errors.New("escrow: unsupported duration")
	ErrInterestAPRTooHigh  = errors.New("escrow: interest APR too high")
	ErrLateFeeAPRTooHigh   = errors.New("escrow: late fee APR too high")
	ErrInvalidGracePeriod  = errors.New("escrow: grace period out of bounds")
	ErrInvalidAmount       = errors.New("escrow: amount must be positive")
	ErrAmountTooHigh       = errors.New("escrow: amount exceeds offer liquidity")
	ErrAmountTooLow        = errors.New("escrow: amount below offer minimum")
	ErrInsufficientFee     = errors.New("escrow: fee below minimum interest")
	ErrAlreadyReleased     = errors.New("escrow: already released")
	ErrNotReleased         = errors.New("escrow: not released")
	ErrGracePeriodActive   = errors.New("escrow: grace period has not elapsed")
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
)
