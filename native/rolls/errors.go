package rolls

import "errors"

var (
	ErrNilState             = errors.New("rolls: state not configured")
	ErrNilOracle            = errors.New("rolls: oracle not configured")
	ErrOfferNotFound        = errors.New("rolls: offer not found")
	ErrOfferInactive        = errors.New("rolls: offer not active")
	ErrNotProviderOwner     = errors.New("rolls: caller does not hold the provider position")
	ErrNotTakerOwner        = errors.New("rolls: caller does not hold the taker position")
	ErrNotOfferCreator      = errors.New("rolls: caller did not create the offer")
	ErrPositionSettled      = errors.New("rolls: position already settled")
	ErrInvalidPriceRange    = errors.New("rolls: invalid price range")
	ErrInvalidDeltaFactor   = errors.New("rolls: fee delta factor out of bounds")
	ErrDeadlinePassed       = errors.New("rolls: deadline passed")
	ErrPriceOutOfRange      = errors.New("rolls: price outside offer range")
	ErrTakerBelowMinimum    = errors.New("rolls: taker transfer below minimum")
	ErrProviderBelowMinimum = errors.New("rolls: provider transfer below minimum")
	ErrUnexpectedWithdrawal = errors.New("rolls: unexpected withdrawal amount")
	ErrInvalidPrice         = errors.New("rolls: invalid oracle price")
	ErrInsufficientBalance  = errors.New("rolls: insufficient balance")
)
