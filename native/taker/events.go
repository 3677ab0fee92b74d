package taker

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"collar/core/types"
)

const (
	EventTypePairedPositionOpened   = "taker.position.opened"
	EventTypePositionSettled        = "taker.position.settled"
	EventTypePairedPositionCanceled = "taker.position.canceled"
	EventTypeWithdrawal             = "taker.position.withdrawn"
)

type takerEvent struct {
	evt *types.Event
}

func (e takerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e takerEvent) Event() *types.Event { return e.evt }

// NewPairedPositionOpenedEvent returns the payload for a newly opened pair,
// including the protocol fee charged on the provider leg.
func NewPairedPositionOpenedEvent(p *Position, fee *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePairedPositionOpened, p)
	if fee != nil {
		evt.Attributes["protocolFee"] = fee.String()
	}
	return evt
}

// NewPositionSettledEvent returns the payload for a priced settlement.
func NewPositionSettledEvent(p *Position, settlePrice, providerDelta *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePositionSettled, p)
	if settlePrice != nil {
		evt.Attributes["settlePrice"] = settlePrice.String()
	}
	if providerDelta != nil {
		evt.Attributes["providerDelta"] = providerDelta.String()
	}
	if p != nil {
		evt.Attributes["withdrawable"] = p.Withdrawable.String()
	}
	return evt
}

// NewPairedPositionCanceledEvent returns the payload for an unpriced cancel.
func NewPairedPositionCanceledEvent(p *Position) *types.Event {
	return newPositionEvent(EventTypePairedPositionCanceled, p)
}

// NewWithdrawalEvent returns the payload for a taker withdrawal.
func NewWithdrawalEvent(p *Position, to [20]byte, amount *big.Int) *types.Event {
	evt := newPositionEvent(EventTypeWithdrawal, p)
	evt.Attributes["to"] = hex.EncodeToString(to[:])
	if amount != nil {
		evt.Attributes["amount"] = amount.String()
	}
	return evt
}

func newPositionEvent(eventType string, p *Position) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["positionId"] = strconv.FormatUint(p.ID, 10)
		attrs["providerId"] = strconv.FormatUint(p.ProviderID, 10)
		attrs["startPrice"] = p.StartPrice.String()
		attrs["takerLocked"] = p.TakerLocked.String()
		attrs["providerLocked"] = p.ProviderLocked.String()
		attrs["expiration"] = strconv.FormatInt(p.Expiration, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
