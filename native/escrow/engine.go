// Package escrow implements supplier-backed collateral escrows: standing
// supplier offers, the escrow lifecycle started by an authorized loans caller,
// interest and late fee accounting with time-decay refunds, and the supplier's
// last-resort seizure path.
package escrow

import (
	"math/big"
	"time"

	"collar/core/events"
	"collar/core/ledger"
	"collar/core/types"
	nativecommon "collar/native/common"
	"collar/native/feemath"
)

const moduleName = "escrow"

// ModuleName identifies this engine in policy hub pair authorizations.
const ModuleName = moduleName

// Policy is the slice of the policy hub the escrow engine consults.
type Policy interface {
	nativecommon.PauseView
	IsUnderlyingSupported(asset string) bool
	IsDurationSupported(duration int64) bool
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
	EscrowOfferGet(id uint64) (*Offer, error)
	EscrowOfferPut(offer *Offer) error
	EscrowGet(id uint64) (*Escrow, error)
	EscrowPut(esc *Escrow) error
}

// Engine manages supplier offers and escrows for one underlying asset. The
// admin address controls the loans allow-list; everything else is gated by
// offer or escrow NFT ownership.
type Engine struct {
	state        engineState
	ledger       *ledger.Ledger
	hub          Policy
	emitter      events.Emitter
	vault        [20]byte
	admin        [20]byte
	underlying   string
	allowedLoans map[[20]byte]bool
	nextOfferID  uint64
	nextEscrowID uint64
	nowFn        func() int64
}

// NewEngine constructs an escrow engine for the underlying asset.
func NewEngine(vault, admin [20]byte, underlying string, hub Policy, firstOfferID uint64) *Engine {
	if firstOfferID == 0 {
		firstOfferID = 1
	}
	return &Engine{
		ledger:       ledger.New(moduleName, 1),
		hub:          hub,
		emitter:      events.NoopEmitter{},
		vault:        vault,
		admin:        admin,
		underlying:   underlying,
		allowedLoans: make(map[[20]byte]bool),
		nextOfferID:  firstOfferID,
		nextEscrowID: 1,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock, primarily for tests and simulations.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the address holding escrowed collateral and held fees.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

// SetLoansAllowed grants or revokes a loans engine address permission to open
// and release escrows. Admin only.
func (e *Engine) SetLoansAllowed(caller, loans [20]byte, allowed bool) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	e.allowedLoans[loans] = allowed
	return nil
}

// IsLoansAllowed reports whether the address may open escrows.
func (e *Engine) IsLoansAllowed(loans [20]byte) bool { return e.allowedLoans[loans] }

// OwnerOf returns the current holder of the escrow NFT.
func (e *Engine) OwnerOf(id uint64) ([20]byte, error) { return e.ledger.OwnerOf(id) }

// TransferEscrow moves the escrow NFT, and with it the withdrawal and seizure
// rights, to a new holder.
func (e *Engine) TransferEscrow(caller, to [20]byte, id uint64) error {
	return e.ledger.Transfer(caller, to, id)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: evt})
}

func (e *Engine) now() int64 { return e.nowFn() }

// CreateOffer validates the supplier's fee terms, pulls the offered underlying
// into the vault and records the offer under a fresh id.
func (e *Engine) CreateOffer(caller [20]byte, terms OfferTerms) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, err
	}
	if !e.hub.IsUnderlyingSupported(e.underlying) {
		return 0, ErrUnsupportedAsset
	}
	if terms.Amount == nil || terms.Amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if !e.hub.IsDurationSupported(terms.Duration) {
		return 0, ErrUnsupportedDuration
	}
	if terms.InterestAPRBips > feemath.MaxInterestAPRBips {
		return 0, ErrInterestAPRTooHigh
	}
	if terms.LateFeeAPRBips > feemath.MaxLateFeeAPRBips {
		return 0, ErrLateFeeAPRTooHigh
	}
	if terms.MaxGracePeriod < feemath.MinGracePeriod || terms.MaxGracePeriod > feemath.MaxGracePeriod {
		return 0, ErrInvalidGracePeriod
	}
	if err := e.transferUnderlying(caller, e.vault, terms.Amount); err != nil {
		return 0, err
	}
	id := e.nextOfferID
	e.nextOfferID++
	offer := &Offer{
		ID:              id,
		Supplier:        caller,
		Available:       new(big.Int).Set(terms.Amount),
		Duration:        terms.Duration,
		InterestAPRBips: terms.InterestAPRBips,
		MaxGracePeriod:  terms.MaxGracePeriod,
		LateFeeAPRBips:  terms.LateFeeAPRBips,
		MinEscrow:       cloneBigInt(terms.MinEscrow),
	}
	if err := e.state.EscrowOfferPut(offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return id, nil
}

// UpdateOfferAmount changes the unfilled liquidity of an offer, transferring
// the difference in or out. Live escrows are unaffected.
func (e *Engine) UpdateOfferAmount(caller [20]byte, offerID uint64, newAmount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return err
	}
	if newAmount == nil || newAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	offer, err := e.state.EscrowOfferGet(offerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrOfferNotFound
	}
	if offer.Supplier != caller {
		return ErrNotOfferOwner
	}
	diff := new(big.Int).Sub(newAmount, offer.Available)
	switch diff.Sign() {
	case 1:
		if err := e.transferUnderlying(caller, e.vault, diff); err != nil {
			return err
		}
	case -1:
		if err := e.transferUnderlying(e.vault, caller, new(big.Int).Neg(diff)); err != nil {
			return err
		}
	}
	offer.Available = new(big.Int).Set(newAmount)
	if err := e.state.EscrowOfferPut(offer); err != nil {
		return err
	}
	e.emit(NewOfferUpdatedEvent(offer))
	return nil
}

// Offer returns a copy of the stored offer.
func (e *Engine) Offer(offerID uint64) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	offer, err := e.state.EscrowOfferGet(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer.Clone(), nil
}

// Escrow returns a copy of the stored escrow.
func (e *Engine) Escrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	esc, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, ErrEscrowNotFound
	}
	return esc.Clone(), nil
}

// StartEscrow opens an escrow against a supplier offer. The caller (an
// allow-listed loans engine) sends the borrower's collateral plus the prepaid
// interest fee, and receives the supplier's matching funds back, so the net
// cost to the caller is exactly the fee. Returns the new escrow id.
func (e *Engine) StartEscrow(caller [20]byte, offerID uint64, escrowed, fee *big.Int, loanID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, err
	}
	if !e.allowedLoans[caller] {
		return 0, ErrUnauthorizedLoans
	}
	if escrowed == nil || escrowed.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	offer, err := e.state.EscrowOfferGet(offerID)
	if err != nil {
		return 0, err
	}
	if offer == nil {
		return 0, ErrOfferNotFound
	}
	if escrowed.Cmp(offer.Available) > 0 {
		return 0, ErrAmountTooHigh
	}
	if offer.MinEscrow != nil && offer.MinEscrow.Sign() > 0 && escrowed.Cmp(offer.MinEscrow) < 0 {
		return 0, ErrAmountTooLow
	}
	minFee := feemath.InterestFee(escrowed, offer.Duration, offer.InterestAPRBips)
	if fee == nil || fee.Cmp(minFee) < 0 {
		return 0, ErrInsufficientFee
	}
	// Collateral plus fee in, supplier funds out: the caller ends up paying
	// only the fee, and the vault swaps supplier money for collateral.
	inbound := new(big.Int).Add(escrowed, fee)
	if err := e.transferUnderlying(caller, e.vault, inbound); err != nil {
		return 0, err
	}
	if err := e.transferUnderlying(e.vault, caller, escrowed); err != nil {
		return 0, err
	}
	offer.Available = new(big.Int).Sub(offer.Available, escrowed)
	if err := e.state.EscrowOfferPut(offer); err != nil {
		return 0, err
	}
	id := e.nextEscrowID
	e.nextEscrowID++
	if err := e.ledger.MintWithID(id, offer.Supplier); err != nil {
		return 0, err
	}
	now := e.now()
	esc := &Escrow{
		ID:             id,
		OfferID:        offerID,
		Loans:          caller,
		LoanID:         loanID,
		Escrowed:       new(big.Int).Set(escrowed),
		Duration:       offer.Duration,
		Expiration:     now + offer.Duration,
		MaxGracePeriod: offer.MaxGracePeriod,
		LateFeeAPRBips: offer.LateFeeAPRBips,
		InterestHeld:   new(big.Int).Set(fee),
		Withdrawable:   big.NewInt(0),
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return 0, err
	}
	e.emit(NewEscrowStartedEvent(esc))
	return id, nil
}

// LateFee returns the overdue penalty accrued on the escrow at the current
// time.
func (e *Engine) LateFee(esc *Escrow) *big.Int {
	if esc == nil {
		return big.NewInt(0)
	}
	overdue := e.now() - esc.Expiration
	return feemath.LateFee(esc.Escrowed, esc.LateFeeAPRBips, overdue, feemath.MinGracePeriod, esc.MaxGracePeriod)
}

// Owed returns the amount the loans side must repay to make the supplier
// whole: the escrowed principal plus any accrued late fee.
func (e *Engine) Owed(id uint64) (*big.Int, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(esc.Escrowed, e.LateFee(esc)), nil
}

// PreviewRelease computes the balance split for a release at the supplied
// repayment without touching state. The supplier keeps min(repaid, owed) plus
// the non-refunded interest; everything else, including the collateral held in
// the vault, flows back to the loans caller.
func (e *Engine) PreviewRelease(esc *Escrow, repaid *big.Int) ReleasePreview {
	if esc == nil {
		return ReleasePreview{
			Withdrawable:   big.NewInt(0),
			ToLoans:        big.NewInt(0),
			InterestRefund: big.NewInt(0),
			LateFee:        big.NewInt(0),
		}
	}
	if repaid == nil {
		repaid = big.NewInt(0)
	}
	lateFee := e.LateFee(esc)
	owed := new(big.Int).Add(esc.Escrowed, lateFee)
	fromLoans := new(big.Int).Set(repaid)
	if fromLoans.Cmp(owed) > 0 {
		fromLoans.Set(owed)
	}
	elapsed := e.now() - (esc.Expiration - esc.Duration)
	refund := feemath.FeeRefund(esc.InterestHeld, elapsed, esc.Duration, feemath.MaxFeeRefundBips)
	withdrawable := new(big.Int).Add(fromLoans, esc.InterestHeld)
	withdrawable.Sub(withdrawable, refund)
	toLoans := new(big.Int).Sub(repaid, fromLoans)
	toLoans.Add(toLoans, esc.Escrowed)
	toLoans.Add(toLoans, refund)
	return ReleasePreview{
		Withdrawable:   withdrawable,
		ToLoans:        toLoans,
		InterestRefund: refund,
		LateFee:        lateFee,
	}
}

// EndEscrow releases the escrow against a repayment from the loans caller
// that opened it. The repayment is pulled in, the collateral plus any
// repayment surplus and interest refund flow back out, and the supplier's
// share becomes withdrawable. Returns the amount sent back to the caller.
func (e *Engine) EndEscrow(caller [20]byte, id uint64, repaid *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return nil, err
	}
	esc, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, ErrEscrowNotFound
	}
	if esc.Released {
		return nil, ErrAlreadyReleased
	}
	if caller != esc.Loans {
		return nil, ErrNotEscrowLoans
	}
	if repaid == nil {
		repaid = big.NewInt(0)
	}
	if repaid.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.transferUnderlying(caller, e.vault, repaid); err != nil {
		return nil, err
	}
	preview := e.PreviewRelease(esc, repaid)
	if err := e.transferUnderlying(e.vault, caller, preview.ToLoans); err != nil {
		return nil, err
	}
	esc.Released = true
	esc.Withdrawable = preview.Withdrawable
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewEscrowEndedEvent(esc, repaid, preview))
	return preview.ToLoans, nil
}

// SwitchEscrow atomically releases an escrow at zero repayment and opens a
// replacement from a different offer, keeping the collateral in the vault
// throughout. The old supplier's principal is repaid out of the new offer's
// consumed liquidity, and the old interest refund is netted against the new
// fee in a single transfer with the caller. Returns the new escrow id and the
// old escrow's interest refund.
func (e *Engine) SwitchEscrow(caller [20]byte, oldID, newOfferID uint64, newFee *big.Int, newLoanID uint64) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, nil, err
	}
	old, err := e.state.EscrowGet(oldID)
	if err != nil {
		return 0, nil, err
	}
	if old == nil {
		return 0, nil, ErrEscrowNotFound
	}
	if old.Released {
		return 0, nil, ErrAlreadyReleased
	}
	if caller != old.Loans {
		return 0, nil, ErrNotEscrowLoans
	}
	offer, err := e.state.EscrowOfferGet(newOfferID)
	if err != nil {
		return 0, nil, err
	}
	if offer == nil {
		return 0, nil, ErrOfferNotFound
	}
	if old.Escrowed.Cmp(offer.Available) > 0 {
		return 0, nil, ErrAmountTooHigh
	}
	if offer.MinEscrow != nil && offer.MinEscrow.Sign() > 0 && old.Escrowed.Cmp(offer.MinEscrow) < 0 {
		return 0, nil, ErrAmountTooLow
	}
	minFee := feemath.InterestFee(old.Escrowed, offer.Duration, offer.InterestAPRBips)
	if newFee == nil || newFee.Cmp(minFee) < 0 {
		return 0, nil, ErrInsufficientFee
	}
	elapsed := e.now() - (old.Expiration - old.Duration)
	oldRefund := feemath.FeeRefund(old.InterestHeld, elapsed, old.Duration, feemath.MaxFeeRefundBips)
	// Net the new fee against the old refund so the caller moves funds once.
	net := new(big.Int).Sub(newFee, oldRefund)
	switch net.Sign() {
	case 1:
		if err := e.transferUnderlying(caller, e.vault, net); err != nil {
			return 0, nil, err
		}
	case -1:
		if err := e.transferUnderlying(e.vault, caller, new(big.Int).Neg(net)); err != nil {
			return 0, nil, err
		}
	}
	// The new offer's consumed liquidity stays in the vault and repays the
	// old supplier's principal.
	offer.Available = new(big.Int).Sub(offer.Available, old.Escrowed)
	if err := e.state.EscrowOfferPut(offer); err != nil {
		return 0, nil, err
	}
	old.Released = true
	old.Withdrawable = new(big.Int).Add(old.Escrowed, old.InterestHeld)
	old.Withdrawable.Sub(old.Withdrawable, oldRefund)
	if err := e.state.EscrowPut(old); err != nil {
		return 0, nil, err
	}
	id := e.nextEscrowID
	e.nextEscrowID++
	if err := e.ledger.MintWithID(id, offer.Supplier); err != nil {
		return 0, nil, err
	}
	now := e.now()
	esc := &Escrow{
		ID:             id,
		OfferID:        newOfferID,
		Loans:          caller,
		LoanID:         newLoanID,
		Escrowed:       new(big.Int).Set(old.Escrowed),
		Duration:       offer.Duration,
		Expiration:     now + offer.Duration,
		MaxGracePeriod: offer.MaxGracePeriod,
		LateFeeAPRBips: offer.LateFeeAPRBips,
		InterestHeld:   new(big.Int).Set(newFee),
		Withdrawable:   big.NewInt(0),
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return 0, nil, err
	}
	e.emit(NewEscrowSwitchedEvent(old, esc, oldRefund))
	return id, oldRefund, nil
}

// SeizeEscrow is the supplier's last-resort recovery: after the grace period
// elapses un-released, the current escrow NFT holder takes the collateral and
// the full held interest. Loses the race against a normal release.
func (e *Engine) SeizeEscrow(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	esc, err := e.state.EscrowGet(id)
	if err != nil {
		return err
	}
	if esc == nil {
		return ErrEscrowNotFound
	}
	if esc.Released {
		return ErrAlreadyReleased
	}
	if !e.ledger.IsApprovedOrOwner(caller, id) {
		return ErrNotSupplier
	}
	if e.now() < esc.Expiration+esc.MaxGracePeriod {
		return ErrGracePeriodActive
	}
	esc.Released = true
	esc.Withdrawable = new(big.Int).Add(esc.Escrowed, esc.InterestHeld)
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewEscrowSeizedEvent(esc))
	return nil
}

// CappedGracePeriod converts the fee the borrower has made available into the
// overdue time it buys on this escrow, bounded by the offer's grace terms.
func (e *Engine) CappedGracePeriod(id uint64, feeAvailable *big.Int) (int64, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return 0, err
	}
	return feemath.CappedGracePeriod(feeAvailable, esc.Escrowed, esc.LateFeeAPRBips, feemath.MinGracePeriod, esc.MaxGracePeriod), nil
}

// WithdrawReleased pays out a released escrow to the NFT holder and burns the
// NFT.
func (e *Engine) WithdrawReleased(caller [20]byte, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	esc, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, ErrEscrowNotFound
	}
	if !esc.Released {
		return nil, ErrNotReleased
	}
	if !e.ledger.IsApprovedOrOwner(caller, id) {
		return nil, ErrNotSupplier
	}
	amount := cloneBigInt(esc.Withdrawable)
	if amount.Sign() > 0 {
		if err := e.transferUnderlying(e.vault, caller, amount); err != nil {
			return nil, err
		}
	}
	esc.Withdrawable = big.NewInt(0)
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.ledger.Burn(id); err != nil {
		return nil, err
	}
	e.emit(NewEscrowWithdrawnEvent(esc, caller, amount))
	return amount, nil
}

func (e *Engine) transferUnderlying(from, to [20]byte, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Ensure(e.underlying)
	toAcc = toAcc.Ensure(e.underlying)
	if fromAcc.Balances[e.underlying].Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balances[e.underlying] = new(big.Int).Sub(fromAcc.Balances[e.underlying], amount)
	toAcc.Balances[e.underlying] = new(big.Int).Add(toAcc.Balances[e.underlying], amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
