// Package loans is the borrower-facing orchestration layer: it composes the
// swapper, the taker/provider pair, and optionally an escrow into a single
// loan object. Opening swaps collateral to cash, locks the non-loan part in a
// collar and forwards the rest to the borrower; closing unwinds the whole
// stack back to the underlying asset.
package loans

import (
	"math/big"
	"time"

	"collar/core/events"
	"collar/core/ledger"
	"collar/core/types"
	nativecommon "collar/native/common"
	"collar/native/feemath"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/taker"
)

const moduleName = "loans"

// ModuleName identifies this engine in policy hub pair authorizations.
const ModuleName = moduleName

// PriceOracle supplies the reference price for swap deviation checks.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

// Swapper converts between the underlying and cash assets on behalf of an
// account. Implementations report the exact output amount; the engine
// cross-checks it against observed balance changes.
type Swapper interface {
	Swap(from [20]byte, assetIn, assetOut string, amountIn, minAmountOut *big.Int) (*big.Int, error)
}

// Policy is the slice of the policy hub the loans engine consults.
type Policy interface {
	nativecommon.PauseView
	IsUnderlyingSupported(asset string) bool
	IsCashSupported(asset string) bool
	MaxSwapDeviationBips() uint64
}

// TakerLeg is the taker engine surface the loans engine composes with.
type TakerLeg interface {
	NextPositionID() uint64
	Position(id uint64) (*taker.Position, error)
	OpenPairedPosition(caller [20]byte, takerLocked *big.Int, offerID uint64) (uint64, uint64, error)
	SettlePairedPosition(id uint64) error
	WithdrawFromSettled(caller [20]byte, id uint64) (*big.Int, error)
	TransferPosition(caller, to [20]byte, id uint64) error
}

// ProviderBook is the read-only offer view used to size the loan.
type ProviderBook interface {
	Offer(id uint64) (*provider.Offer, error)
}

// EscrowLeg is the escrow engine surface used for escrow-backed loans.
type EscrowLeg interface {
	StartEscrow(caller [20]byte, offerID uint64, escrowed, fee *big.Int, loanID uint64) (uint64, error)
	EndEscrow(caller [20]byte, id uint64, repaid *big.Int) (*big.Int, error)
	SwitchEscrow(caller [20]byte, oldID, newOfferID uint64, newFee *big.Int, newLoanID uint64) (uint64, *big.Int, error)
	Owed(id uint64) (*big.Int, error)
}

// RollsLeg is the rolls engine surface used to roll a loan's collar.
type RollsLeg interface {
	PreviewRoll(id uint64, price *big.Int) (rolls.Preview, error)
	ExecuteRoll(caller [20]byte, id uint64, minToTaker *big.Int) (uint64, uint64, *big.Int, error)
}

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
	LoanGet(id uint64) (*Loan, error)
	LoanPut(loan *Loan) error
}

// Engine manages loans for one asset pair. The vault holds the taker NFTs of
// all open loans and any cash or underlying in flight.
type Engine struct {
	state      engineState
	ledger     *ledger.Ledger
	hub        Policy
	oracle     PriceOracle
	swapper    Swapper
	taker      TakerLeg
	book       ProviderBook
	escrow     EscrowLeg
	rolls      RollsLeg
	emitter    events.Emitter
	vault      [20]byte
	underlying string
	cash       string
	nowFn      func() int64
}

// NewEngine constructs a loans engine for the asset pair. The escrow and
// rolls legs are optional and wired with SetEscrowLeg/SetRollsLeg.
func NewEngine(vault [20]byte, underlying, cash string, hub Policy, oracle PriceOracle, swapper Swapper, takerLeg TakerLeg, book ProviderBook) *Engine {
	return &Engine{
		ledger:     ledger.New(moduleName, 1),
		hub:        hub,
		oracle:     oracle,
		swapper:    swapper,
		taker:      takerLeg,
		book:       book,
		emitter:    events.NoopEmitter{},
		vault:      vault,
		underlying: underlying,
		cash:       cash,
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEscrowLeg wires the escrow engine for escrow-backed loans.
func (e *Engine) SetEscrowLeg(leg EscrowLeg) { e.escrow = leg }

// SetRollsLeg wires the rolls engine for loan rolling.
func (e *Engine) SetRollsLeg(leg RollsLeg) { e.rolls = leg }

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

// VaultAddress returns the address holding loan NFTs and funds in flight.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

// OwnerOf returns the current holder of the loan NFT.
func (e *Engine) OwnerOf(id uint64) ([20]byte, error) { return e.ledger.OwnerOf(id) }

// TransferLoan moves the loan NFT, and with it all borrower rights, to a new
// holder.
func (e *Engine) TransferLoan(caller, to [20]byte, id uint64) error {
	return e.ledger.Transfer(caller, to, id)
}

// Loan returns a copy of the stored loan.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(loansEvent{evt: evt})
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

// swapChecked runs a swap from the vault and verifies both the reported
// output against the observed balance change and the fill against the oracle
// price. A swapper that lies about its output or fills too far from the
// oracle aborts the whole operation.
func (e *Engine) swapChecked(assetIn, assetOut string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	if e.swapper == nil {
		return nil, ErrNilSwapper
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	inBefore, err := e.balanceOfVault(assetIn)
	if err != nil {
		return nil, err
	}
	outBefore, err := e.balanceOfVault(assetOut)
	if err != nil {
		return nil, err
	}
	out, err := e.swapper.Swap(e.vault, assetIn, assetOut, amountIn, minAmountOut)
	if err != nil {
		return nil, err
	}
	inAfter, err := e.balanceOfVault(assetIn)
	if err != nil {
		return nil, err
	}
	outAfter, err := e.balanceOfVault(assetOut)
	if err != nil {
		return nil, err
	}
	spent := new(big.Int).Sub(inBefore, inAfter)
	gained := new(big.Int).Sub(outAfter, outBefore)
	if spent.Cmp(amountIn) != 0 || gained.Cmp(out) != 0 {
		return nil, ErrBalanceMismatch
	}
	var ref *big.Int
	if assetIn == e.underlying {
		ref = feemath.ConvertToCash(amountIn, price)
	} else {
		ref = feemath.ConvertToUnderlying(amountIn, price)
	}
	if ref.Sign() > 0 {
		dev := new(big.Int).Sub(out, ref)
		dev.Abs(dev)
		dev.Mul(dev, big.NewInt(feemath.BipsBase))
		dev.Quo(dev, ref)
		if dev.Uint64() > e.hub.MaxSwapDeviationBips() {
			return nil, ErrSwapDeviation
		}
	}
	return out, nil
}

// OpenLoan swaps the borrower's collateral to cash, locks the non-loan share
// in a collar against the provider offer and forwards the loan amount. The
// loan-to-value IS the offer's put strike percent. With a non-zero escrow
// offer the collateral is covered by a supplier escrow for the escrow fee.
// Returns the loan id and the loan amount.
func (e *Engine) OpenLoan(borrower [20]byte, underlyingAmount, minLoanAmount, minSwapOut *big.Int, providerOfferID, escrowOfferID uint64, escrowFee *big.Int) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, nil, err
	}
	if !e.hub.IsUnderlyingSupported(e.underlying) || !e.hub.IsCashSupported(e.cash) {
		return 0, nil, ErrUnsupportedAsset
	}
	if underlyingAmount == nil || underlyingAmount.Sign() <= 0 {
		return 0, nil, ErrInvalidAmount
	}
	offer, err := e.book.Offer(providerOfferID)
	if err != nil {
		return 0, nil, err
	}
	// The borrower must cover the collateral plus any escrow fee up front,
	// so a rejected open never moves funds partway.
	usesEscrow := escrowOfferID != 0
	if usesEscrow && e.escrow == nil {
		return 0, nil, ErrNoEscrowLeg
	}
	needed := new(big.Int).Set(underlyingAmount)
	if usesEscrow && escrowFee != nil && escrowFee.Sign() > 0 {
		needed.Add(needed, escrowFee)
	}
	borrowerAcct, err := e.state.GetAccount(borrower)
	if err != nil {
		return 0, nil, err
	}
	if borrowerAcct.Balance(e.underlying).Cmp(needed) < 0 {
		return 0, nil, ErrInsufficientBalance
	}
	if err := e.transfer(borrower, e.vault, e.underlying, underlyingAmount); err != nil {
		return 0, nil, err
	}
	// The escrow is keyed by the taker position id the collar will get.
	predictedID := e.taker.NextPositionID()
	var escrowID uint64
	if usesEscrow {
		if err := e.transfer(borrower, e.vault, e.underlying, escrowFee); err != nil {
			return 0, nil, err
		}
		escrowID, err = e.escrow.StartEscrow(e.vault, escrowOfferID, underlyingAmount, escrowFee, predictedID)
		if err != nil {
			return 0, nil, err
		}
	}
	swapOut, err := e.swapChecked(e.underlying, e.cash, underlyingAmount, minSwapOut)
	if err != nil {
		return 0, nil, err
	}
	loanAmount := new(big.Int).Mul(swapOut, new(big.Int).SetUint64(offer.PutStrikeBips))
	loanAmount.Quo(loanAmount, big.NewInt(feemath.BipsBase))
	if minLoanAmount != nil && loanAmount.Cmp(minLoanAmount) < 0 {
		return 0, nil, ErrLoanBelowMinimum
	}
	takerLocked := new(big.Int).Sub(swapOut, loanAmount)
	takerID, _, err := e.taker.OpenPairedPosition(e.vault, takerLocked, providerOfferID)
	if err != nil {
		return 0, nil, err
	}
	if takerID != predictedID {
		return 0, nil, ErrUnexpectedPositionID
	}
	if err := e.transfer(e.vault, borrower, e.cash, loanAmount); err != nil {
		return 0, nil, err
	}
	if err := e.ledger.MintWithID(takerID, borrower); err != nil {
		return 0, nil, err
	}
	loan := &Loan{
		ID:               takerID,
		Borrower:         borrower,
		UnderlyingAmount: new(big.Int).Set(underlyingAmount),
		LoanAmount:       loanAmount,
		UsesEscrow:       usesEscrow,
		EscrowID:         escrowID,
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, nil, err
	}
	e.emit(NewLoanOpenedEvent(loan))
	return takerID, loanAmount, nil
}

// CloseLoan settles the collar (settling the position first if nobody has),
// repays the debt, swaps everything back to the underlying asset, releases
// any escrow and returns the net underlying to the caller.
func (e *Engine) CloseLoan(caller [20]byte, loanID uint64, minUnderlyingOut *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.Closed {
		return nil, ErrLoanClosed
	}
	if !e.ledger.IsApprovedOrOwner(caller, loanID) {
		return nil, ErrNotLoanOwner
	}
	pos, err := e.taker.Position(loanID)
	if err != nil {
		return nil, err
	}
	if !pos.Settled {
		if err := e.taker.SettlePairedPosition(loanID); err != nil {
			return nil, err
		}
	}
	cashOut, err := e.taker.WithdrawFromSettled(e.vault, loanID)
	if err != nil {
		return nil, err
	}
	// The borrower repays the debt; everything is then one cash pot.
	if err := e.transfer(caller, e.vault, e.cash, loan.LoanAmount); err != nil {
		return nil, err
	}
	total := new(big.Int).Add(cashOut, loan.LoanAmount)
	var underlyingOut *big.Int
	if total.Sign() > 0 {
		underlyingOut, err = e.swapChecked(e.cash, e.underlying, total, nil)
		if err != nil {
			return nil, err
		}
	} else {
		underlyingOut = big.NewInt(0)
	}
	if loan.UsesEscrow {
		if e.escrow == nil {
			return nil, ErrNoEscrowLeg
		}
		owed, err := e.escrow.Owed(loan.EscrowID)
		if err != nil {
			return nil, err
		}
		repaid := new(big.Int).Set(underlyingOut)
		if repaid.Cmp(owed) > 0 {
			repaid.Set(owed)
		}
		toLoans, err := e.escrow.EndEscrow(e.vault, loan.EscrowID, repaid)
		if err != nil {
			return nil, err
		}
		underlyingOut.Sub(underlyingOut, repaid)
		underlyingOut.Add(underlyingOut, toLoans)
	}
	if minUnderlyingOut != nil && underlyingOut.Cmp(minUnderlyingOut) < 0 {
		return nil, ErrUnderlyingBelowMinimum
	}
	if err := e.transfer(e.vault, caller, e.underlying, underlyingOut); err != nil {
		return nil, err
	}
	loan.Closed = true
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if err := e.ledger.Burn(loanID); err != nil {
		return nil, err
	}
	e.emit(NewLoanClosedEvent(loan, underlyingOut))
	return underlyingOut, nil
}

// RollLoan executes a roll offer on the loan's collar and, for escrow loans,
// switches the escrow to a new supplier offer, composing both into one
// user-facing operation. The debt scales with the price move. Returns the new
// loan id and the signed cash delta paid to (or pulled from) the caller.
func (e *Engine) RollLoan(caller [20]byte, loanID, rollID uint64, minToUser *big.Int, newEscrowOfferID uint64, newEscrowFee *big.Int) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.hub, moduleName); err != nil {
		return 0, nil, err
	}
	if e.rolls == nil {
		return 0, nil, ErrNoRollsLeg
	}
	loan, err := e.state.LoanGet(loanID)
	if err != nil {
		return 0, nil, err
	}
	if loan == nil {
		return 0, nil, ErrLoanNotFound
	}
	if loan.Closed {
		return 0, nil, ErrLoanClosed
	}
	if !e.ledger.IsApprovedOrOwner(caller, loanID) {
		return 0, nil, ErrNotLoanOwner
	}
	if loan.UsesEscrow && newEscrowOfferID == 0 {
		return 0, nil, ErrEscrowOfferRequired
	}
	oldPos, err := e.taker.Position(loanID)
	if err != nil {
		return 0, nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return 0, nil, err
	}
	// The vault fronts nothing: whatever the roll will pull is collected
	// from the caller first, and whatever it pays out is forwarded after.
	pv, err := e.rolls.PreviewRoll(rollID, price)
	if err != nil {
		return 0, nil, err
	}
	if minToUser != nil && pv.ToTaker.Cmp(minToUser) < 0 {
		return 0, nil, rolls.ErrTakerBelowMinimum
	}
	if pv.ToTaker.Sign() < 0 {
		if err := e.transfer(caller, e.vault, e.cash, new(big.Int).Neg(pv.ToTaker)); err != nil {
			return 0, nil, err
		}
	}
	newTakerID, _, toTaker, err := e.rolls.ExecuteRoll(e.vault, rollID, minToUser)
	if err != nil {
		return 0, nil, err
	}
	if toTaker.Sign() > 0 {
		if err := e.transfer(e.vault, caller, e.cash, toTaker); err != nil {
			return 0, nil, err
		}
	}
	newPos, err := e.taker.Position(newTakerID)
	if err != nil {
		return 0, nil, err
	}
	newLoanAmount := new(big.Int).Mul(loan.LoanAmount, newPos.StartPrice)
	newLoanAmount.Quo(newLoanAmount, oldPos.StartPrice)
	var newEscrowID uint64
	if loan.UsesEscrow {
		if e.escrow == nil {
			return 0, nil, ErrNoEscrowLeg
		}
		if err := e.transfer(caller, e.vault, e.underlying, newEscrowFee); err != nil {
			return 0, nil, err
		}
		var oldRefund *big.Int
		newEscrowID, oldRefund, err = e.escrow.SwitchEscrow(e.vault, loan.EscrowID, newEscrowOfferID, newEscrowFee, newTakerID)
		if err != nil {
			return 0, nil, err
		}
		if err := e.transfer(e.vault, caller, e.underlying, oldRefund); err != nil {
			return 0, nil, err
		}
	}
	owner, err := e.ledger.OwnerOf(loanID)
	if err != nil {
		return 0, nil, err
	}
	loan.Closed = true
	if err := e.state.LoanPut(loan); err != nil {
		return 0, nil, err
	}
	if err := e.ledger.Burn(loanID); err != nil {
		return 0, nil, err
	}
	rolled := &Loan{
		ID:               newTakerID,
		Borrower:         loan.Borrower,
		UnderlyingAmount: cloneBigInt(loan.UnderlyingAmount),
		LoanAmount:       newLoanAmount,
		UsesEscrow:       loan.UsesEscrow,
		EscrowID:         newEscrowID,
	}
	if err := e.state.LoanPut(rolled); err != nil {
		return 0, nil, err
	}
	if err := e.ledger.MintWithID(newTakerID, owner); err != nil {
		return 0, nil, err
	}
	e.emit(NewLoanRolledEvent(loan, rolled, toTaker))
	return newTakerID, toTaker, nil
}

// UnwrapAndCancelLoan releases the loan wrapper: the taker NFT goes to the
// caller, any escrow is released with a pro-rated refund and the collateral
// returns to the caller. After expiry this is only allowed for non-escrow
// loans; escrow loans must close or be seized.
func (e *Engine) UnwrapAndCancelLoan(caller [20]byte, loanID uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	loan, err := e.state.LoanGet(loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return ErrLoanNotFound
	}
	if loan.Closed {
		return ErrLoanClosed
	}
	if !e.ledger.IsApprovedOrOwner(caller, loanID) {
		return ErrNotLoanOwner
	}
	pos, err := e.taker.Position(loanID)
	if err != nil {
		return err
	}
	if loan.UsesEscrow {
		if e.now() >= pos.Expiration {
			return ErrLoanExpired
		}
		if e.escrow == nil {
			return ErrNoEscrowLeg
		}
		// The caller repays the supplier's principal and gets the
		// collateral back plus the pro-rated interest refund.
		owed, err := e.escrow.Owed(loan.EscrowID)
		if err != nil {
			return err
		}
		if err := e.transfer(caller, e.vault, e.underlying, owed); err != nil {
			return err
		}
		toLoans, err := e.escrow.EndEscrow(e.vault, loan.EscrowID, owed)
		if err != nil {
			return err
		}
		if err := e.transfer(e.vault, caller, e.underlying, toLoans); err != nil {
			return err
		}
	}
	if err := e.taker.TransferPosition(e.vault, caller, loanID); err != nil {
		return err
	}
	loan.Closed = true
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	if err := e.ledger.Burn(loanID); err != nil {
		return err
	}
	e.emit(NewLoanUnwrappedEvent(loan, caller))
	return nil
}

func (e *Engine) balanceOfVault(asset string) (*big.Int, error) {
	acc, err := e.state.GetAccount(e.vault)
	if err != nil {
		return nil, err
	}
	return acc.Balance(asset), nil
}

func (e *Engine) transfer(from, to [20]byte, asset string, amount *big.Int) error {
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
	fromAcc = fromAcc.Ensure(asset)
	toAcc = toAcc.Ensure(asset)
	if fromAcc.Balances[asset].Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balances[asset] = new(big.Int).Sub(fromAcc.Balances[asset], amount)
	toAcc.Balances[asset] = new(big.Int).Add(toAcc.Balances[asset], amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
