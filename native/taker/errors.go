package taker

import "errors"

var (
	ErrNilState               = errors.New("taker: state not configured")
	ErrNilOracle              = errors.New("taker: oracle not configured")
	ErrPositionNotFound       = errors.New("taker: position not found")
	ErrInvalidAmount          = errors.New("taker: amount must be positive")
	ErrInvalidPrice           = errors.New("taker: invalid oracle price")
	ErrStrikePricesNotDistant = errors.New("taker: strike prices not different")
	ErrUnauthorizedPair       = errors.New("taker: unauthorized asset pair")
	ErrNotExpired             = errors.New("taker: position not yet expired")
	ErrAlreadySettled         = errors.New("taker: already settled")
	ErrNotSettled             = errors.New("taker: position not settled")
	ErrNotPositionOwner       = errors.New("taker: caller is not the position owner")
	ErrNotBothPositionsOwned  = errors.New("taker: caller does not control both positions")
	ErrInsufficientBalance    = errors.New("taker: insufficient balance")
)
