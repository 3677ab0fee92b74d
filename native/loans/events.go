package loans

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"collar/core/types"
)

const (
	EventTypeLoanOpened    = "loans.opened"
	EventTypeLoanClosed    = "loans.closed"
	EventTypeLoanRolled    = "loans.rolled"
	EventTypeLoanUnwrapped = "loans.unwrapped"
)

type loansEvent struct {
	evt *types.Event
}

func (e loansEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loansEvent) Event() *types.Event { return e.evt }

func NewLoanOpenedEvent(l *Loan) *types.Event {
	return newLoanEvent(EventTypeLoanOpened, l)
}

func NewLoanClosedEvent(l *Loan, underlyingOut *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanClosed, l)
	if underlyingOut != nil {
		evt.Attributes["underlyingOut"] = underlyingOut.String()
	}
	return evt
}

// NewLoanRolledEvent records the roll with the replacement loan and the
// signed cash delta paid to the borrower.
func NewLoanRolledEvent(old, rolled *Loan, toUser *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanRolled, rolled)
	if old != nil {
		evt.Attributes["oldLoanId"] = strconv.FormatUint(old.ID, 10)
	}
	if toUser != nil {
		evt.Attributes["toUser"] = toUser.String()
	}
	return evt
}

func NewLoanUnwrappedEvent(l *Loan, to [20]byte) *types.Event {
	evt := newLoanEvent(EventTypeLoanUnwrapped, l)
	evt.Attributes["to"] = hex.EncodeToString(to[:])
	return evt
}

func newLoanEvent(eventType string, l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["loanId"] = strconv.FormatUint(l.ID, 10)
		attrs["borrower"] = hex.EncodeToString(l.Borrower[:])
		attrs["underlyingAmount"] = l.UnderlyingAmount.String()
		attrs["loanAmount"] = l.LoanAmount.String()
		attrs["usesEscrow"] = strconv.FormatBool(l.UsesEscrow)
		if l.UsesEscrow {
			attrs["escrowId"] = strconv.FormatUint(l.EscrowID, 10)
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
