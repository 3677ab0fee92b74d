// Package taker implements the taker side of paired collar positions and the
// settlement state machine: Open -> Settled, or Open -> Canceled when both
// legs are jointly controlled by the canceller.
package taker

import (
	"math/big"
	"time"

	"collar/core/events"
	"collar/core/ledger"
	"collar/core/types"
	nativecommon "collar/native/common"
	"collar/native/feemath"
	"collar/native/provider"
)

const moduleName = "taker"

// ModuleName identifies this engine in policy hub pair authorizations.
const ModuleName = moduleName

// PriceOracle supplies the settlement reference price. Errors propagate to
// the caller unchanged; a failing oracle aborts the whole operation.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

// Policy is the slice of the policy hub the taker engine consults.
type Policy interface {
	nativecommon.PauseView
	IsPairAuthorized(underlying, cash, target string) bool
	ProtocolFeeAPR() uint64
}

// ProviderLeg is the provider engine surface the taker engine composes with.
type ProviderLeg interface {
	Offer(id uint64) (*provider.Offer, error)
	MintFromOffer(offerID uint64, amount *big.Int, takerID uint64) (uint64, *big.Int, error)
	SettlePosition(id uint64, delta *big.Int) error
	CancelPosition(id uint64) error
	IsApprovedOrOwner(addr [20]byte, id uint64) bool
	VaultAddress() [20]byte
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
	TakerPositionGet(id uint64) (*Position, error)
	TakerPositionPut(pos *Position) error
}

// Engine manages taker positions for one asset pair.
type Engine struct {
	state      engineState
	ledger     *ledger.Ledger
	hub        Policy
	oracle     PriceOracle
	provider   ProviderLeg
	emitter    events.Emitter
	vault      [20]byte
	underlying string
	cash       string
	nowFn      func() int64
}

// NewEngine constructs a taker engine for the asset pair.
func NewEngine(vault [20]byte, underlying, cash string, hub Policy, oracle PriceOracle, providerLeg ProviderLeg) *Engine {
	return &Engine{
		ledger:     ledger.New(moduleName, 1),
		hub:        hub,
		oracle:     oracle,
		provider:   providerLeg,
		emitter:    events.NoopEmitter{},
		vault:      vault,
		underlying: underlying,
		cash:       cash,
		nowFn:      func() int64 { return time.Now().Unix() },
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

// NextPositionID returns the id the next opened position will be assigned.
func (e *Engine) NextPositionID() uint64 { return e.ledger.NextID() }

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

// Position returns a copy of the stored position.
func (e *Engine) Position(id uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.TakerPositionGet(id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	return pos.Clone(), nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(takerEvent{evt: evt})
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) currentPrice() (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// OpenPairedPosition locks the taker's cash, consumes the provider offer for
// the symmetric provider amount and mints both position NFTs. Returns the
// taker and provider position ids.
func (e *Engine) OpenPairedPosition(caller [20]byte, takerLocked *big.Int, offerID uint64) (uint64, uint64, error) {
	if e == nil || e.state == nil {
		return 0, 0, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, 0, err
	}
	if !e.hub.IsPairAuthorized(e.underlying, e.cash, moduleName) {
		return 0, 0, ErrUnauthorizedPair
	}
	if takerLocked == nil || takerLocked.Sign() <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	offer, err := e.provider.Offer(offerID)
	if err != nil {
		return 0, 0, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return 0, 0, err
	}
	// Guard against collars whose strike prices collapse onto the start
	// price at the current quote.
	putPrice := feemath.StrikePrice(price, offer.PutStrikeBips)
	callPrice := feemath.StrikePrice(price, offer.CallStrikeBips)
	if putPrice.Cmp(price) >= 0 || callPrice.Cmp(price) <= 0 {
		return 0, 0, ErrStrikePricesNotDistant
	}
	providerLocked, err := feemath.ProviderLocked(takerLocked, offer.PutStrikeBips, offer.CallStrikeBips)
	if err != nil {
		return 0, 0, err
	}
	if providerLocked.Sign() <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	// Validate both legs before any funds move. The offer must cover the
	// provider amount plus the protocol fee MintFromOffer will deduct, and
	// the caller must be able to fund the taker leg; a rejected open leaves
	// every balance and both ledgers exactly as they were.
	fee, err := feemath.ProtocolFee(providerLocked, offer.Duration, offer.CallStrikeBips, e.hub.ProtocolFeeAPR())
	if err != nil {
		return 0, 0, err
	}
	if new(big.Int).Add(providerLocked, fee).Cmp(offer.Available) > 0 {
		return 0, 0, provider.ErrAmountTooHigh
	}
	if offer.MinLocked != nil && offer.MinLocked.Sign() > 0 && providerLocked.Cmp(offer.MinLocked) < 0 {
		return 0, 0, provider.ErrAmountTooLow
	}
	callerAcct, err := e.state.GetAccount(caller)
	if err != nil {
		return 0, 0, err
	}
	if callerAcct.Balance(e.cash).Cmp(takerLocked) < 0 {
		return 0, 0, ErrInsufficientBalance
	}
	// The provider leg records the taker id it pairs with, so consume the
	// offer against the id the ledger will assign next and only then move
	// the taker's cash and mint the taker NFT.
	takerID := e.ledger.NextID()
	providerID, fee, err := e.provider.MintFromOffer(offerID, providerLocked, takerID)
	if err != nil {
		return 0, 0, err
	}
	if err := e.transferCash(caller, e.vault, takerLocked); err != nil {
		return 0, 0, err
	}
	if _, err := e.ledger.Mint(caller); err != nil {
		return 0, 0, err
	}
	now := e.now()
	pos := &Position{
		ID:             takerID,
		ProviderID:     providerID,
		Duration:       offer.Duration,
		Expiration:     now + offer.Duration,
		StartPrice:     new(big.Int).Set(price),
		PutStrikeBips:  offer.PutStrikeBips,
		CallStrikeBips: offer.CallStrikeBips,
		TakerLocked:    new(big.Int).Set(takerLocked),
		ProviderLocked: providerLocked,
		Withdrawable:   big.NewInt(0),
	}
	if err := e.state.TakerPositionPut(pos); err != nil {
		return 0, 0, err
	}
	e.emit(NewPairedPositionOpenedEvent(pos, fee))
	return takerID, providerID, nil
}

// PreviewSettlement computes the settlement split for a position at the
// supplied price without touching state.
func (e *Engine) PreviewSettlement(pos *Position, settlePrice *big.Int) (takerBalance, providerDelta *big.Int) {
	if pos == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return feemath.Settlement(pos.TakerLocked, pos.ProviderLocked, pos.StartPrice, settlePrice, pos.PutStrikeBips, pos.CallStrikeBips)
}

// SettlePairedPosition settles an expired position against the oracle. The
// current price is used even when settlement happens well after expiry; late
// settlement deliberately does not look up a historical quote.
func (e *Engine) SettlePairedPosition(id uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return err
	}
	pos, err := e.state.TakerPositionGet(id)
	if err != nil {
		return err
	}
	if pos == nil {
		return ErrPositionNotFound
	}
	if pos.Settled {
		return ErrAlreadySettled
	}
	if e.now() < pos.Expiration {
		return ErrNotExpired
	}
	price, err := e.currentPrice()
	if err != nil {
		return err
	}
	takerBalance, providerDelta := feemath.Settlement(pos.TakerLocked, pos.ProviderLocked, pos.StartPrice, price, pos.PutStrikeBips, pos.CallStrikeBips)
	switch providerDelta.Sign() {
	case -1:
		if err := e.transferCash(e.provider.VaultAddress(), e.vault, new(big.Int).Neg(providerDelta)); err != nil {
			return err
		}
	case 1:
		if err := e.transferCash(e.vault, e.provider.VaultAddress(), providerDelta); err != nil {
			return err
		}
	}
	pos.Settled = true
	pos.Withdrawable = takerBalance
	if err := e.state.TakerPositionPut(pos); err != nil {
		return err
	}
	if err := e.provider.SettlePosition(pos.ProviderID, providerDelta); err != nil {
		return err
	}
	e.emit(NewPositionSettledEvent(pos, price, providerDelta))
	return nil
}

// CancelPairedPosition unwinds an unsettled position without price logic,
// refunding both locked amounts to the taker side. The caller must control
// both the taker and the provider NFT.
func (e *Engine) CancelPairedPosition(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	pos, err := e.state.TakerPositionGet(id)
	if err != nil {
		return err
	}
	if pos == nil {
		return ErrPositionNotFound
	}
	if pos.Settled {
		return ErrAlreadySettled
	}
	if !e.ledger.IsApprovedOrOwner(caller, id) || !e.provider.IsApprovedOrOwner(caller, pos.ProviderID) {
		return ErrNotBothPositionsOwned
	}
	if err := e.transferCash(e.provider.VaultAddress(), e.vault, pos.ProviderLocked); err != nil {
		return err
	}
	pos.Settled = true
	pos.Withdrawable = new(big.Int).Add(pos.TakerLocked, pos.ProviderLocked)
	if err := e.state.TakerPositionPut(pos); err != nil {
		return err
	}
	if err := e.provider.CancelPosition(pos.ProviderID); err != nil {
		return err
	}
	e.emit(NewPairedPositionCanceledEvent(pos))
	return nil
}

// WithdrawFromSettled pays out a settled position to the NFT holder and
// burns the NFT.
func (e *Engine) WithdrawFromSettled(caller [20]byte, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.state.TakerPositionGet(id)
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
	if err := e.state.TakerPositionPut(pos); err != nil {
		return nil, err
	}
	if err := e.ledger.Burn(id); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawalEvent(pos, caller, amount))
	return amount, nil
}

func (e *Engine) transferCash(from, to [20]byte, amount *big.Int) error {
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
	fromAcc = fromAcc.Ensure(e.cash)
	toAcc = toAcc.Ensure(e.cash)
	if fromAcc.Balances[e.cash].Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balances[e.cash] = new(big.Int).Sub(fromAcc.Balances[e.cash], amount)
	toAcc.Balances[e.cash] = new(big.Int).Add(toAcc.Balances[e.cash], amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
