package provider

import "errors"

var (
	ErrNilState            = errors.New("provider: state not configured")
	ErrOfferNotFound       = errors.New("provider: offer not found")
	ErrPositionNotFound    = errors.New("provider: position not found")
	ErrNotOfferOwner       = errors.New("provider: caller is not the offer provider")
	ErrNotPositionOwner    = errors.New("provider: caller is not the position owner")
	ErrInvalidAmount       = errors.New("provider: amount must be positive")
	ErrAmountTooHigh       = errors.New("provider: amount too high")
	ErrAmountTooLow        = errors.New("provider: amount too low")
	ErrInvalidStrikes      = errors.New("provider: invalid strike percents")
	ErrUnsupportedDuration = errors.New("provider: unsupported duration")
	ErrUnsupportedLTV      = errors.New("provider: unsupported LTV")
	ErrUnauthorizedPair    = errors.New("provider: unauthorized asset pair")
	ErrAlreadySettled      = errors.New("provider: position already settled")
	ErrNotSettled          = errors.New("provider: position not settled")
	ErrInsufficientBalance = errors.New("provider: insufficient balance")
)
