// Package rolls implements position rebalancing: a provider escrows their
// position NFT behind a priced roll offer, and the taker executes it to move
// the pair to the current price in one atomic cancel-and-reopen, with the
// cash deltas netted against both sides.
package rolls

import (
	"math/big"
	"time"

	"collar/core/events"
	"collar/core/types"
	nativecommon "collar/native/common"
	"collar/native/feemath"
	"collar/native/provider"
	"collar/native/taker"
)

const moduleName = "rolls"

// ModuleName identifies this engine in policy hub pair authorizations.
const ModuleName = moduleName

// PriceOracle supplies the roll reference and execution prices.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

// Policy is the slice of the policy hub the rolls engine consults.
type Policy interface {
	nativecommon.PauseView
	ProtocolFeeAPR() uint64
}

// TakerLeg is the taker engine surface the rolls engine composes with.
type TakerLeg interface {
	Position(id uint64) (*taker.Position, error)
	OpenPairedPosition(caller [20]byte, takerLocked *big.Int, offerID uint64) (uint64, uint64, error)
	CancelPairedPosition(caller [20]byte, id uint64) error
	WithdrawFromSettled(caller [20]byte, id uint64) (*big.Int, error)
	TransferPosition(caller, to [20]byte, id uint64) error
	IsApprovedOrOwner(addr [20]byte, id uint64) bool
}

// ProviderLeg is the provider engine surface the rolls engine composes with.
type ProviderLeg interface {
	CreateOffer(caller [20]byte, terms provider.OfferTerms) (uint64, error)
	Withdraw(caller [20]byte, id uint64) (*big.Int, error)
	TransferPosition(caller, to [20]byte, id uint64) error
	IsApprovedOrOwner(addr [20]byte, id uint64) bool
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
	RollOfferGet(id uint64) (*Offer, error)
	RollOfferPut(offer *Offer) error
}

// Engine manages roll offers for one asset pair. The vault temporarily holds
// both position NFTs and the cancellation proceeds while a roll executes.
type Engine struct {
	state       engineState
	hub         Policy
	oracle      PriceOracle
	taker       TakerLeg
	provider    ProviderLeg
	emitter     events.Emitter
	vault       [20]byte
	cash        string
	nextOfferID uint64
	nowFn       func() int64
}

// NewEngine constructs a rolls engine for the asset pair.
func NewEngine(vault [20]byte, cash string, hub Policy, oracle PriceOracle, takerLeg TakerLeg, providerLeg ProviderLeg, firstOfferID uint64) *Engine {
	if firstOfferID == 0 {
		firstOfferID = 1
	}
	return &Engine{
		hub:         hub,
		oracle:      oracle,
		taker:       takerLeg,
		provider:    providerLeg,
		emitter:     events.NoopEmitter{},
		vault:       vault,
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

// VaultAddress returns the address holding NFTs and cash in flight.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(rollsEvent{evt: evt})
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

// Offer returns a copy of the stored roll offer.
func (e *Engine) Offer(id uint64) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	offer, err := e.state.RollOfferGet(id)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer.Clone(), nil
}

// CreateOffer escrows the caller's provider position NFT behind a new roll
// offer. The fee reference price is pinned to the current oracle quote so
// later execution can adjust the fee for the move since the offer was made.
func (e *Engine) CreateOffer(caller [20]byte, takerID uint64, feeAmount *big.Int, feeDeltaFactorBips int64, minPrice, maxPrice, minToProvider *big.Int, deadline int64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, err
	}
	pos, err := e.taker.Position(takerID)
	if err != nil {
		return 0, err
	}
	if pos.Settled {
		return 0, ErrPositionSettled
	}
	if !e.provider.IsApprovedOrOwner(caller, pos.ProviderID) {
		return 0, ErrNotProviderOwner
	}
	if minPrice == nil || maxPrice == nil || minPrice.Sign() <= 0 || maxPrice.Cmp(minPrice) <= 0 {
		return 0, ErrInvalidPriceRange
	}
	if feeDeltaFactorBips > feemath.BipsBase || feeDeltaFactorBips < -feemath.BipsBase {
		return 0, ErrInvalidDeltaFactor
	}
	if deadline <= e.now() {
		return 0, ErrDeadlinePassed
	}
	refPrice, err := e.currentPrice()
	if err != nil {
		return 0, err
	}
	if err := e.provider.TransferPosition(caller, e.vault, pos.ProviderID); err != nil {
		return 0, err
	}
	id := e.nextOfferID
	e.nextOfferID++
	offer := &Offer{
		ID:                 id,
		TakerID:            takerID,
		ProviderID:         pos.ProviderID,
		Provider:           caller,
		FeeAmount:          cloneBigInt(feeAmount),
		FeeDeltaFactorBips: feeDeltaFactorBips,
		FeeReferencePrice:  refPrice,
		MinPrice:           new(big.Int).Set(minPrice),
		MaxPrice:           new(big.Int).Set(maxPrice),
		MinToProvider:      cloneBigInt(minToProvider),
		Deadline:           deadline,
		Active:             true,
	}
	if err := e.state.RollOfferPut(offer); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return id, nil
}

// CancelOffer returns the escrowed provider NFT and deactivates the offer.
func (e *Engine) CancelOffer(caller [20]byte, id uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	offer, err := e.state.RollOfferGet(id)
	if err != nil {
		return err
	}
	if offer == nil {
		return ErrOfferNotFound
	}
	if !offer.Active {
		return ErrOfferInactive
	}
	if caller != offer.Provider {
		return ErrNotOfferCreator
	}
	if err := e.provider.TransferPosition(e.vault, offer.Provider, offer.ProviderID); err != nil {
		return err
	}
	offer.Active = false
	if err := e.state.RollOfferPut(offer); err != nil {
		return err
	}
	e.emit(NewOfferCanceledEvent(offer))
	return nil
}

// PreviewRoll computes the full cash breakdown of executing the offer at the
// supplied price without touching state.
func (e *Engine) PreviewRoll(id uint64, price *big.Int) (Preview, error) {
	offer, err := e.Offer(id)
	if err != nil {
		return Preview{}, err
	}
	pos, err := e.taker.Position(offer.TakerID)
	if err != nil {
		return Preview{}, err
	}
	return e.preview(offer, pos, price)
}

func (e *Engine) preview(offer *Offer, pos *taker.Position, price *big.Int) (Preview, error) {
	rollFee, err := feemath.RollFee(offer.FeeAmount, offer.FeeDeltaFactorBips, offer.FeeReferencePrice, price)
	if err != nil {
		return Preview{}, err
	}
	// The new taker side scales with the price move; the provider side is
	// rederived from the strike symmetry.
	newTakerLocked := new(big.Int).Mul(pos.TakerLocked, price)
	newTakerLocked.Quo(newTakerLocked, pos.StartPrice)
	newProviderLocked, err := feemath.ProviderLocked(newTakerLocked, pos.PutStrikeBips, pos.CallStrikeBips)
	if err != nil {
		return Preview{}, err
	}
	protocolFee, err := feemath.ProtocolFee(newProviderLocked, pos.Duration, pos.CallStrikeBips, e.hub.ProtocolFeeAPR())
	if err != nil {
		return Preview{}, err
	}
	takerSettled, providerDelta := feemath.Settlement(pos.TakerLocked, pos.ProviderLocked, pos.StartPrice, price, pos.PutStrikeBips, pos.CallStrikeBips)
	providerSettled := new(big.Int).Add(pos.ProviderLocked, providerDelta)
	toTaker := new(big.Int).Sub(takerSettled, newTakerLocked)
	toTaker.Sub(toTaker, rollFee)
	toProvider := new(big.Int).Sub(providerSettled, newProviderLocked)
	toProvider.Add(toProvider, rollFee)
	toProvider.Sub(toProvider, protocolFee)
	return Preview{
		ToTaker:           toTaker,
		ToProvider:        toProvider,
		RollFee:           rollFee,
		NewTakerLocked:    newTakerLocked,
		NewProviderLocked: newProviderLocked,
		ProtocolFee:       protocolFee,
	}, nil
}

// ExecuteRoll cancels the old pair, reopens it at the current price and nets
// the cash deltas with both sides. Only the taker NFT holder may execute.
// Returns the new taker and provider position ids and the signed taker delta.
func (e *Engine) ExecuteRoll(caller [20]byte, id uint64, minToTaker *big.Int) (uint64, uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, 0, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, 0, nil, err
	}
	offer, err := e.state.RollOfferGet(id)
	if err != nil {
		return 0, 0, nil, err
	}
	if offer == nil {
		return 0, 0, nil, ErrOfferNotFound
	}
	if !offer.Active {
		return 0, 0, nil, ErrOfferInactive
	}
	if e.now() > offer.Deadline {
		return 0, 0, nil, ErrDeadlinePassed
	}
	if !e.taker.IsApprovedOrOwner(caller, offer.TakerID) {
		return 0, 0, nil, ErrNotTakerOwner
	}
	pos, err := e.taker.Position(offer.TakerID)
	if err != nil {
		return 0, 0, nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return 0, 0, nil, err
	}
	if price.Cmp(offer.MinPrice) < 0 || price.Cmp(offer.MaxPrice) > 0 {
		return 0, 0, nil, ErrPriceOutOfRange
	}
	pv, err := e.preview(offer, pos, price)
	if err != nil {
		return 0, 0, nil, err
	}
	if minToTaker != nil && pv.ToTaker.Cmp(minToTaker) < 0 {
		return 0, 0, nil, ErrTakerBelowMinimum
	}
	if offer.MinToProvider != nil && pv.ToProvider.Cmp(offer.MinToProvider) < 0 {
		return 0, 0, nil, ErrProviderBelowMinimum
	}
	// Take custody of the taker NFT, then unwind the pair under joint
	// custody. The cancellation must hand back exactly the two locked
	// amounts; anything else means the position state drifted.
	if err := e.taker.TransferPosition(caller, e.vault, offer.TakerID); err != nil {
		return 0, 0, nil, err
	}
	if err := e.taker.CancelPairedPosition(e.vault, offer.TakerID); err != nil {
		return 0, 0, nil, err
	}
	got, err := e.taker.WithdrawFromSettled(e.vault, offer.TakerID)
	if err != nil {
		return 0, 0, nil, err
	}
	expected := new(big.Int).Add(pos.TakerLocked, pos.ProviderLocked)
	if got.Cmp(expected) != 0 {
		return 0, 0, nil, ErrUnexpectedWithdrawal
	}
	if _, err := e.provider.Withdraw(e.vault, offer.ProviderID); err != nil {
		return 0, 0, nil, err
	}
	// Collect what either side owes before funding the new pair, so the
	// vault never runs dry mid-sequence.
	if pv.ToTaker.Sign() < 0 {
		if err := e.transferCash(caller, e.vault, new(big.Int).Neg(pv.ToTaker)); err != nil {
			return 0, 0, nil, err
		}
	}
	if pv.ToProvider.Sign() < 0 {
		if err := e.transferCash(offer.Provider, e.vault, new(big.Int).Neg(pv.ToProvider)); err != nil {
			return 0, 0, nil, err
		}
	}
	// A throwaway provider offer sized to exactly cover the new provider
	// leg plus the protocol fee; minting consumes it fully.
	tempOfferID, err := e.provider.CreateOffer(e.vault, provider.OfferTerms{
		PutStrikeBips:  pos.PutStrikeBips,
		CallStrikeBips: pos.CallStrikeBips,
		Duration:       pos.Duration,
		Amount:         new(big.Int).Add(pv.NewProviderLocked, pv.ProtocolFee),
	})
	if err != nil {
		return 0, 0, nil, err
	}
	newTakerID, newProviderID, err := e.taker.OpenPairedPosition(e.vault, pv.NewTakerLocked, tempOfferID)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := e.taker.TransferPosition(e.vault, caller, newTakerID); err != nil {
		return 0, 0, nil, err
	}
	if err := e.provider.TransferPosition(e.vault, offer.Provider, newProviderID); err != nil {
		return 0, 0, nil, err
	}
	if pv.ToTaker.Sign() > 0 {
		if err := e.transferCash(e.vault, caller, pv.ToTaker); err != nil {
			return 0, 0, nil, err
		}
	}
	if pv.ToProvider.Sign() > 0 {
		if err := e.transferCash(e.vault, offer.Provider, pv.ToProvider); err != nil {
			return 0, 0, nil, err
		}
	}
	offer.Active = false
	if err := e.state.RollOfferPut(offer); err != nil {
		return 0, 0, nil, err
	}
	e.emit(NewRollExecutedEvent(offer, newTakerID, newProviderID, price, pv))
	return newTakerID, newProviderID, pv.ToTaker, nil
}

func (e *Engine) transferCash(from, to [20]byte, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
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
