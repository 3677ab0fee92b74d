// Package provider implements the offer book and the provider side of paired
// collar positions: liquidity offers, protocol fee collection at mint, and
// the settlement/cancellation/withdrawal lifecycle of locked liquidity.
package provider

import (
	"math/big"
	"sync"
	"time"

	"collar/core/events"
	"collar/core/ledger"
	"collar/core/types"
	nativecommon "collar/native/common"
	"collar/native/feemath"
)

const moduleName = "provider"

// ModuleName identifies this engine in policy hub pair authorizations.
const ModuleName = moduleName

// Policy is the slice of the policy hub the provider engine consults.
type Policy interface {
	nativecommon.PauseView
	IsPairAuthorized(underlying, cash, target string) bool
	IsDurationSupported(duration int64) bool
	IsLTVSupported(ltvBips uint64) bool
	ProtocolFeeAPR() uint64
	FeeRecipient() [20]byte
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
	ProviderOfferGet(id uint64) (*Offer, error)
	ProviderOfferPut(offer *Offer) error
	ProviderPositionGet(id uint64) (*Position, error)
	ProviderPositionPut(pos *Position) error
}

// Engine manages provider offers and positions for one asset pair.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	ledger      *ledger.Ledger
	hub         Policy
	emitter     events.Emitter
	vault       [20]byte
	underlying  string
	cash        string
	nextOfferID uint64
	nowFn       func() int64
}

// NewEngine constructs a provider engine for the asset pair. The vault
// address holds all cash locked under offers and positions; offer ids start
// at firstOfferID.
func NewEngine(vault [20]byte, underlying, cash string, hub Policy, firstOfferID uint64) *Engine {
	if firstOfferID == 0 {
		firstOfferID = 1
	}
	return &Engine{
		ledger:      ledger.New(moduleName, 1),
		hub:         hub,
		emitter:     events.NoopEmitter{},
		vault:       vault,
		underlying:  underlying,
		cash:        cash,
		nextOfferID: firstOfferID,
		nowFn:       func() int64 { return time.Now().Unix() },
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

// VaultAddress returns the address holding the engine's locked cash.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

// IsApprovedOrOwner reports whether the address may act on the position NFT.
func (e *Engine) IsApprovedOrOwner(addr [20]byte, id uint64) bool {
	return e.ledger.IsApprovedOrOwner(addr, id)
}

// OwnerOf returns the current holder of the position NFT.
func (e *Engine) OwnerOf(id uint64) ([20]byte, error) { return e.ledger.OwnerOf(id) }

// Approve delegates position control to a spender.
func (e *Engine) Approve(caller [20]byte, id uint64, spender [20]byte) error {
	return e.ledger.Approve(caller, id, spender)
}

// TransferPosition moves the position NFT to a new holder.
func (e *Engine) TransferPosition(caller, to [20]byte, id uint64) error {
	return e.ledger.Transfer(caller, to, id)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(providerEvent{evt: evt})
}

func (e *Engine) now() int64 { return e.nowFn() }

// CreateOffer validates the terms against the policy hub, pulls the offered
// cash into the vault and records the offer under a fresh id.
func (e *Engine) CreateOffer(caller [20]byte, terms OfferTerms) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, err
	}
	if terms.Amount == nil || terms.Amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if !feemath.ValidStrikes(terms.PutStrikeBips, terms.CallStrikeBips) {
		return 0, ErrInvalidStrikes
	}
	if !e.hub.IsDurationSupported(terms.Duration) {
		return 0, ErrUnsupportedDuration
	}
	if !e.hub.IsLTVSupported(terms.PutStrikeBips) {
		return 0, ErrUnsupportedLTV
	}
	if err := e.transferCash(caller, e.vault, terms.Amount); err != nil {
		return 0, err
	}
	e.mu.Lock()
	id := e.nextOfferID
	e.nextOfferID++
	e.mu.Unlock()
	offer := &Offer{
		ID:             id,
		Provider:       caller,
		Available:      new(big.Int).Set(terms.Amount),
		PutStrikeBips:  terms.PutStrikeBips,
		CallStrikeBips: terms.CallStrikeBips,
		Duration:       terms.Duration,
		MinLocked:      cloneBigInt(terms.MinLocked),
	}
	if err := e.state.ProviderOfferPut(offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return id, nil
}

// UpdateOfferAmount changes the unfilled liquidity of an offer, transferring
// the difference in or out. Strike terms and already-minted positions are
// unaffected.
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
	offer, err := e.state.ProviderOfferGet(offerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrOfferNotFound
	}
	if offer.Provider != caller {
		return ErrNotOfferOwner
	}
	diff := new(big.Int).Sub(newAmount, offer.Available)
	switch diff.Sign() {
	case 1:
		if err := e.transferCash(caller, e.vault, diff); err != nil {
			return err
		}
	case -1:
		if err := e.transferCash(e.vault, caller, new(big.Int).Neg(diff)); err != nil {
			return err
		}
	}
	offer.Available = new(big.Int).Set(newAmount)
	if err := e.state.ProviderOfferPut(offer); err != nil {
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
	offer, err := e.state.ProviderOfferGet(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer.Clone(), nil
}

// Position returns a copy of the stored position.
func (e *Engine) Position(id uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.ProviderPositionGet(id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// MintFromOffer consumes offer liquidity for a new paired position opened by
// the taker engine. The protocol fee is computed here, deducted from the
// offer alongside the locked amount, and forwarded to the hub fee recipient
// (the forward is skipped entirely when no recipient is configured). Returns
// the new position id and the charged fee.
func (e *Engine) MintFromOffer(offerID uint64, amount *big.Int, takerID uint64) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, nil, err
	}
	if !e.hub.IsPairAuthorized(e.underlying, e.cash, moduleName) {
		return 0, nil, ErrUnauthorizedPair
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, nil, ErrInvalidAmount
	}
	offer, err := e.state.ProviderOfferGet(offerID)
	if err != nil {
		return 0, nil, err
	}
	if offer == nil {
		return 0, nil, ErrOfferNotFound
	}
	fee, err := feemath.ProtocolFee(amount, offer.Duration, offer.CallStrikeBips, e.hub.ProtocolFeeAPR())
	if err != nil {
		return 0, nil, err
	}
	needed := new(big.Int).Add(amount, fee)
	if needed.Cmp(offer.Available) > 0 {
		return 0, nil, ErrAmountTooHigh
	}
	if offer.MinLocked != nil && offer.MinLocked.Sign() > 0 && amount.Cmp(offer.MinLocked) < 0 {
		return 0, nil, ErrAmountTooLow
	}
	offer.Available = new(big.Int).Sub(offer.Available, needed)
	if recipient := e.hub.FeeRecipient(); recipient != ([20]byte{}) && fee.Sign() > 0 {
		if err := e.transferCash(e.vault, recipient, fee); err != nil {
			return 0, nil, err
		}
	}
	id, err := e.ledger.Mint(offer.Provider)
	if err != nil {
		return 0, nil, err
	}
	now := e.now()
	pos := &Position{
		ID:             id,
		OfferID:        offerID,
		TakerID:        takerID,
		Duration:       offer.Duration,
		Expiration:     now + offer.Duration,
		Locked:         new(big.Int).Set(amount),
		PutStrikeBips:  offer.PutStrikeBips,
		CallStrikeBips: offer.CallStrikeBips,
		Withdrawable:   big.NewInt(0),
	}
	if err := e.state.ProviderOfferPut(offer); err != nil {
		return 0, nil, err
	}
	if err := e.state.ProviderPositionPut(pos); err != nil {
		return 0, nil, err
	}
	e.emit(NewPositionMintedEvent(pos, fee))
	return id, fee, nil
}

// SettlePosition converts the locked amount into a withdrawable balance after
// the taker engine has moved the settlement funds. delta is the signed
// change applied to the locked amount.
func (e *Engine) SettlePosition(id uint64, delta *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	pos, err := e.state.ProviderPositionGet(id)
	if err != nil {
		return err
	}
	if pos == nil {
		return ErrPositionNotFound
	}
	if pos.Settled {
		return ErrAlreadySettled
	}
	withdrawable := new(big.Int).Add(pos.Locked, delta)
	if withdrawable.Sign() < 0 {
		return ErrInvalidAmount
	}
	pos.Settled = true
	pos.Withdrawable = withdrawable
	if err := e.state.ProviderPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewPositionSettledEvent(pos, delta))
	return nil
}

// CancelPosition marks the position settled with nothing withdrawable. The
// taker engine has already refunded the locked amount to the taker side.
func (e *Engine) CancelPosition(id uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	pos, err := e.state.ProviderPositionGet(id)
	if err != nil {
		return err
	}
	if pos == nil {
		return ErrPositionNotFound
	}
	if pos.Settled {
		return ErrAlreadySettled
	}
	pos.Settled = true
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.ProviderPositionPut(pos); err != nil {
		return err
	}
	e.emit(NewPositionCanceledEvent(pos))
	return nil
}

// Withdraw pays out a settled position to the NFT holder and burns the NFT.
func (e *Engine) Withdraw(caller [20]byte, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.ProviderPositionGet(id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if !pos.Settled {
		return nil, ErrNotSettled
	}
	if !e.ledger.IsApprovedOrOwner(caller, id) {
		return nil, ErrNotPositionOwner
	}
	amount := cloneBigInt(pos.Withdrawable)
	if amount.Sign() > 0 {
		if err := e.transferCash(e.vault, caller, amount); err != nil {
			return nil, err
		}
	}
	pos.Withdrawable = big.NewInt(0)
	if err := e.state.ProviderPositionPut(pos); err != nil {
		return nil, err
	}
	if err := e.ledger.Burn(id); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawalEvent(pos, caller, amount))
	return amount, nil
}

func (e *Engine) transferCash(from, to [20]byte, amount *big.Int) error {
	return transferAsset(e.state, e.cash, from, to, amount)
}

func transferAsset(state engineState, asset string, from, to [20]byte, amount *big.Int) error {
	if state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Ensure(asset)
	toAcc = toAcc.Ensure(asset)
	if fromAcc.Balances[asset].Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balances[asset] = new(big.Int).Sub(fromAcc.Balances[asset], amount)
	toAcc.Balances[asset] = new(big.Int).Add(toAcc.Balances[asset], amount)
	if err := state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return state.PutAccount(to, toAcc)
}
