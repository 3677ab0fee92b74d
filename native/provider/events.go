package provider

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"collar/core/types"
)

const (
	EventTypeOfferCreated     = "provider.offer.created"
	EventTypeOfferUpdated     = "provider.offer.updated"
	EventTypePositionMinted   = "provider.position.minted"
	EventTypePositionSettled  = "provider.position.settled"
	EventTypePositionCanceled = "provider.position.canceled"
	EventTypeWithdrawal       = "provider.position.withdrawn"
)

type providerEvent struct {
	evt *types.Event
}

func (e providerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e providerEvent) Event() *types.Event { return e.evt }

// NewOfferCreatedEvent returns the canonical payload for a new offer.
func NewOfferCreatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCreated, o)
}

// NewOfferUpdatedEvent returns the payload emitted when offer liquidity
// changes.
func NewOfferUpdatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferUpdated, o)
}

// NewPositionMintedEvent returns the payload for a position minted from an
// offer, including the protocol fee charged.
func NewPositionMintedEvent(p *Position, fee *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePositionMinted, p)
	if fee != nil {
		evt.Attributes["protocolFee"] = fee.String()
	}
	return evt
}

// NewPositionSettledEvent returns the payload for a settled position with its
// signed locked-amount delta.
func NewPositionSettledEvent(p *Position, delta *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePositionSettled, p)
	if delta != nil {
		evt.Attributes["delta"] = delta.String()
	}
	return evt
}

// NewPositionCanceledEvent returns the payload for a canceled position.
func NewPositionCanceledEvent(p *Position) *types.Event {
	return newPositionEvent(EventTypePositionCanceled, p)
}

// NewWithdrawalEvent returns the payload for a provider withdrawal.
func NewWithdrawalEvent(p *Position, to [20]byte, amount *big.Int) *types.Event {
	evt := newPositionEvent(EventTypeWithdrawal, p)
	evt.Attributes["to"] = hex.EncodeToString(to[:])
	if amount != nil {
		evt.Attributes["amount"] = amount.String()
	}
	return evt
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o != nil {
		attrs["offerId"] = strconv.FormatUint(o.ID, 10)
		attrs["provider"] = hex.EncodeToString(o.Provider[:])
		attrs["available"] = o.Available.String()
		attrs["putStrikeBips"] = strconv.FormatUint(o.PutStrikeBips, 10)
		attrs["callStrikeBips"] = strconv.FormatUint(o.CallStrikeBips, 10)
		attrs["duration"] = strconv.FormatInt(o.Duration, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newPositionEvent(eventType string, p *Position) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["positionId"] = strconv.FormatUint(p.ID, 10)
		attrs["offerId"] = strconv.FormatUint(p.OfferID, 10)
		attrs["takerId"] = strconv.FormatUint(p.TakerID, 10)
		attrs["locked"] = p.Locked.String()
		attrs["expiration"] = strconv.FormatInt(p.Expiration, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
