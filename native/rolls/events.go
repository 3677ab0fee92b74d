package rolls

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"collar/core/types"
)

const (
	EventTypeOfferCreated  = "rolls.offer.created"
	EventTypeOfferCanceled = "rolls.offer.canceled"
	EventTypeRollExecuted  = "rolls.executed"
)

type rollsEvent struct {
	evt *types.Event
}

func (e rollsEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e rollsEvent) Event() *types.Event { return e.evt }

func NewOfferCreatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCreated, o)
}

func NewOfferCanceledEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCanceled, o)
}

// NewRollExecutedEvent records the executed roll with its full cash breakdown.
func NewRollExecutedEvent(o *Offer, newTakerID, newProviderID uint64, price *big.Int, pv Preview) *types.Event {
	evt := newOfferEvent(EventTypeRollExecuted, o)
	evt.Attributes["newTakerId"] = strconv.FormatUint(newTakerID, 10)
	evt.Attributes["newProviderId"] = strconv.FormatUint(newProviderID, 10)
	if price != nil {
		evt.Attributes["price"] = price.String()
	}
	if pv.ToTaker != nil {
		evt.Attributes["toTaker"] = pv.ToTaker.String()
	}
	if pv.ToProvider != nil {
		evt.Attributes["toProvider"] = pv.ToProvider.String()
	}
	if pv.RollFee != nil {
		evt.Attributes["rollFee"] = pv.RollFee.String()
	}
	return evt
}

func newOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o != nil {
		attrs["rollId"] = strconv.FormatUint(o.ID, 10)
		attrs["takerId"] = strconv.FormatUint(o.TakerID, 10)
		attrs["providerId"] = strconv.FormatUint(o.ProviderID, 10)
		attrs["provider"] = hex.EncodeToString(o.Provider[:])
		attrs["deadline"] = strconv.FormatInt(o.Deadline, 10)
		attrs["active"] = strconv.FormatBool(o.Active)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
