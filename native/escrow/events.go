package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"collar/core/types"
)

const (
	EventTypeOfferCreated    = "escrow.offer.created"
	EventTypeOfferUpdated    = "escrow.offer.updated"
	EventTypeEscrowStarted   = "escrow.started"
	EventTypeEscrowEnded     = "escrow.ended"
	EventTypeEscrowSwitched  = "escrow.switched"
	EventTypeEscrowSeized    = "escrow.seized"
	EventTypeEscrowWithdrawn = "escrow.withdrawn"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func NewOfferCreatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCreated, o)
}

func NewOfferUpdatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferUpdated, o)
}

func NewEscrowStartedEvent(esc *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowStarted, esc)
}

// NewEscrowEndedEvent records the full release split alongside the repayment.
func NewEscrowEndedEvent(esc *Escrow, repaid *big.Int, preview ReleasePreview) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowEnded, esc)
	if repaid != nil {
		evt.Attributes["repaid"] = repaid.String()
	}
	if preview.ToLoans != nil {
		evt.Attributes["toLoans"] = preview.ToLoans.String()
	}
	if preview.InterestRefund != nil {
		evt.Attributes["interestRefund"] = preview.InterestRefund.String()
	}
	if preview.LateFee != nil {
		evt.Attributes["lateFee"] = preview.LateFee.String()
	}
	return evt
}

func NewEscrowSwitchedEvent(old, replacement *Escrow, oldRefund *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowSwitched, replacement)
	if old != nil {
		evt.Attributes["oldEscrowId"] = strconv.FormatUint(old.ID, 10)
	}
	if oldRefund != nil {
		evt.Attributes["oldRefund"] = oldRefund.String()
	}
	return evt
}

func NewEscrowSeizedEvent(esc *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowSeized, esc)
}

func NewEscrowWithdrawnEvent(esc *Escrow, to [20]byte, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowWithdrawn, esc)
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
		attrs["supplier"] = hex.EncodeToString(o.Supplier[:])
		attrs["available"] = o.Available.String()
		attrs["duration"] = strconv.FormatInt(o.Duration, 10)
		attrs["interestAprBips"] = strconv.FormatUint(o.InterestAPRBips, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newEscrowEvent(eventType string, esc *Escrow) *types.Event {
	attrs := make(map[string]string)
	if esc != nil {
		attrs["escrowId"] = strconv.FormatUint(esc.ID, 10)
		attrs["offerId"] = strconv.FormatUint(esc.OfferID, 10)
		attrs["loanId"] = strconv.FormatUint(esc.LoanID, 10)
		attrs["escrowed"] = esc.Escrowed.String()
		attrs["interestHeld"] = esc.InterestHeld.String()
		attrs["expiration"] = strconv.FormatInt(esc.Expiration, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
