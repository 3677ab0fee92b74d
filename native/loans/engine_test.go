package loans

import (
	"math/big"
	"testing"

	"collar/core/types"
	"collar/native/confighub"
	"collar/native/escrow"
	"collar/native/feemath"
	"collar/native/oracle"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/swap"
	"collar/native/taker"
)

const (
	underlying = "WETH"
	cash       = "USDC"
	day        = int64(24 * 60 * 60)
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

var (
	hubOwner      = addr(0xD0)
	takerVault    = addr(0xD1)
	providerVault = addr(0xD2)
	escrowVault   = addr(0xD3)
	rollsVault    = addr(0xD4)
	loansVault    = addr(0xD5)
	swapPool      = addr(0xD6)
	alice         = addr(1) // borrower
	bob           = addr(2) // provider
	carol         = addr(3) // escrow supplier
)

// scaled returns price units for a quote of n cash per underlying unit.
func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), feemath.PriceScale)
}

type mockState struct {
	accounts      map[[20]byte]*types.Account
	provOffers    map[uint64]*provider.Offer
	provPositions map[uint64]*provider.Position
	takerPos      map[uint64]*taker.Position
	escrowOffers  map[uint64]*escrow.Offer
	escrows       map[uint64]*escrow.Escrow
	rollOffers    map[uint64]*rolls.Offer
	loans         map[uint64]*Loan
}

func newMockState() *mockState {
	return &mockState{
		accounts:      make(map[[20]byte]*types.Account),
		provOffers:    make(map[uint64]*provider.Offer),
		provPositions: make(map[uint64]*provider.Position),
		takerPos:      make(map[uint64]*taker.Position),
		escrowOffers:  make(map[uint64]*escrow.Offer),
		escrows:       make(map[uint64]*escrow.Escrow),
		rollOffers:    make(map[uint64]*rolls.Offer),
		loans:         make(map[uint64]*Loan),
	}
}

func (m *mockState) GetAccount(a [20]byte) (*types.Account, error) {
	if acc, ok := m.accounts[a]; ok {
		return acc, nil
	}
	return types.NewAccount(), nil
}

func (m *mockState) PutAccount(a [20]byte, acc *types.Account) error {
	m.accounts[a] = acc
	return nil
}

func (m *mockState) ProviderOfferGet(id uint64) (*provider.Offer, error) {
	return m.provOffers[id], nil
}

func (m *mockState) ProviderOfferPut(o *provider.Offer) error {
	m.provOffers[o.ID] = o
	return nil
}

func (m *mockState) ProviderPositionGet(id uint64) (*provider.Position, error) {
	return m.provPositions[id], nil
}

func (m *mockState) ProviderPositionPut(p *provider.Position) error {
	m.provPositions[p.ID] = p
	return nil
}

func (m *mockState) TakerPositionGet(id uint64) (*taker.Position, error) {
	return m.takerPos[id], nil
}

func (m *mockState) TakerPositionPut(p *taker.Position) error {
	m.takerPos[p.ID] = p
	return nil
}

func (m *mockState) EscrowOfferGet(id uint64) (*escrow.Offer, error) {
	return m.escrowOffers[id], nil
}

func (m *mockState) EscrowOfferPut(o *escrow.Offer) error {
	m.escrowOffers[o.ID] = o
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*escrow.Escrow, error) {
	return m.escrows[id], nil
}

func (m *mockState) EscrowPut(esc *escrow.Escrow) error {
	m.escrows[esc.ID] = esc
	return nil
}

func (m *mockState) RollOfferGet(id uint64) (*rolls.Offer, error) {
	return m.rollOffers[id], nil
}

func (m *mockState) RollOfferPut(o *rolls.Offer) error {
	m.rollOffers[o.ID] = o
	return nil
}

func (m *mockState) LoanGet(id uint64) (*Loan, error) {
	return m.loans[id], nil
}

func (m *mockState) LoanPut(l *Loan) error {
	m.loans[l.ID] = l
	return nil
}

func (m *mockState) fund(a [20]byte, asset string, amount int64) {
	acc, _ := m.GetAccount(a)
	acc = acc.Ensure(asset)
	acc.Balances[asset] = big.NewInt(amount)
	m.accounts[a] = acc
}

func (m *mockState) balance(a [20]byte, asset string) *big.Int {
	acc, _ := m.GetAccount(a)
	return acc.Balance(asset)
}

type harness struct {
	state    *mockState
	hub      *confighub.Engine
	oracle   *oracle.Manual
	swapper  *swap.OracleSwapper
	provider *provider.Engine
	taker    *taker.Engine
	escrow   *escrow.Engine
	rolls    *rolls.Engine
	loans    *Engine
	now      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub, err := confighub.NewEngine(hubOwner, confighub.Params{
		MinDuration:          day,
		MaxDuration:          365 * day,
		MinLTVBips:           1000,
		MaxLTVBips:           9900,
		MaxSwapDeviationBips: 500,
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	if err := hub.SetUnderlyingSupport(hubOwner, underlying, true); err != nil {
		t.Fatalf("support underlying: %v", err)
	}
	if err := hub.SetCashSupport(hubOwner, cash, true); err != nil {
		t.Fatalf("support cash: %v", err)
	}
	for _, target := range []string{provider.ModuleName, taker.ModuleName} {
		if err := hub.SetPairAuthorized(hubOwner, underlying, cash, target, true); err != nil {
			t.Fatalf("authorize pair: %v", err)
		}
	}
	h := &harness{
		state:  newMockState(),
		hub:    hub,
		oracle: oracle.NewManual(scaled(1000)),
		now:    1_700_000_000,
	}
	nowFn := func() int64 { return h.now }

	h.swapper = swap.NewOracleSwapper(swapPool, underlying, cash, h.oracle)
	h.swapper.SetState(h.state)
	h.provider = provider.NewEngine(providerVault, underlying, cash, hub, 1)
	h.provider.SetState(h.state)
	h.provider.SetNowFunc(nowFn)
	h.taker = taker.NewEngine(takerVault, underlying, cash, hub, h.oracle, h.provider)
	h.taker.SetState(h.state)
	h.taker.SetNowFunc(nowFn)
	h.escrow = escrow.NewEngine(escrowVault, hubOwner, underlying, hub, 1)
	h.escrow.SetState(h.state)
	h.escrow.SetNowFunc(nowFn)
	h.rolls = rolls.NewEngine(rollsVault, cash, hub, h.oracle, h.taker, h.provider, 1)
	h.rolls.SetState(h.state)
	h.rolls.SetNowFunc(nowFn)
	h.loans = NewEngine(loansVault, underlying, cash, hub, h.oracle, h.swapper, h.taker, h.provider)
	h.loans.SetState(h.state)
	h.loans.SetNowFunc(nowFn)
	h.loans.SetEscrowLeg(h.escrow)
	h.loans.SetRollsLeg(h.rolls)
	if err := h.escrow.SetLoansAllowed(hubOwner, loansVault, true); err != nil {
		t.Fatalf("allow loans: %v", err)
	}

	// Liquidity: provider cash, escrow supplier underlying, swap pool cash.
	h.state.fund(bob, cash, 2_000_000)
	if _, err := h.provider.CreateOffer(bob, provider.OfferTerms{
		PutStrikeBips:  9000,
		CallStrikeBips: 12_000,
		Duration:       30 * day,
		Amount:         big.NewInt(2_000_000),
	}); err != nil {
		t.Fatalf("create provider offer: %v", err)
	}
	h.state.fund(carol, underlying, 2000)
	if _, err := h.escrow.CreateOffer(carol, escrow.OfferTerms{
		Amount:          big.NewInt(2000),
		Duration:        30 * day,
		InterestAPRBips: 500,
		MaxGracePeriod:  7 * day,
		LateFeeAPRBips:  10_000,
	}); err != nil {
		t.Fatalf("create escrow offer: %v", err)
	}
	h.state.fund(swapPool, cash, 10_000_000)
	return h
}

func (h *harness) openLoan(t *testing.T, escrowOfferID uint64, escrowFee int64) (uint64, *big.Int) {
	t.Helper()
	h.state.fund(alice, underlying, 1000+escrowFee)
	loanID, loanAmount, err := h.loans.OpenLoan(alice, big.NewInt(1000), nil, nil, 1, escrowOfferID, big.NewInt(escrowFee))
	if err != nil {
		t.Fatalf("open loan: %v", err)
	}
	return loanID, loanAmount
}

func TestOpenLoanForwardsLTVShare(t *testing.T) {
	h := newHarness(t)
	loanID, loanAmount := h.openLoan(t, 0, 0)

	// 1000 underlying swaps to 1_000_000 cash; 90% LTV goes to the borrower.
	if loanAmount.Cmp(big.NewInt(900_000)) != 0 {
		t.Fatalf("loan amount %s, want 900000", loanAmount)
	}
	if got := h.state.balance(alice, cash); got.Cmp(big.NewInt(900_000)) != 0 {
		t.Fatalf("borrower cash %s, want 900000", got)
	}
	if got := h.state.balance(alice, underlying); got.Sign() != 0 {
		t.Fatalf("borrower retains %s underlying", got)
	}
	pos, err := h.taker.Position(loanID)
	if err != nil {
		t.Fatalf("taker position: %v", err)
	}
	if pos.TakerLocked.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("taker locked %s, want 100000", pos.TakerLocked)
	}
	if pos.ProviderLocked.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("provider locked %s, want 200000", pos.ProviderLocked)
	}
	if owner, _ := h.taker.OwnerOf(loanID); owner != loansVault {
		t.Fatalf("taker NFT held by %v, want loans vault", owner)
	}
	if owner, _ := h.loans.OwnerOf(loanID); owner != alice {
		t.Fatalf("loan NFT held by %v, want borrower", owner)
	}
	loan, err := h.loans.Loan(loanID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if loan.UsesEscrow {
		t.Fatal("unexpected escrow flag")
	}
}

func TestOpenLoanBelowMinimumFails(t *testing.T) {
	h := newHarness(t)
	h.state.fund(alice, underlying, 1000)
	if _, _, err := h.loans.OpenLoan(alice, big.NewInt(1000), big.NewInt(900_001), nil, 1, 0, nil); err != ErrLoanBelowMinimum {
		t.Fatalf("expected ErrLoanBelowMinimum, got %v", err)
	}
}

func TestOpenLoanRejectsDeviantSwap(t *testing.T) {
	h := newHarness(t)
	h.swapper.SetSlippageBips(600) // hub tolerates 500
	h.state.fund(alice, underlying, 1000)
	if _, _, err := h.loans.OpenLoan(alice, big.NewInt(1000), nil, nil, 1, 0, nil); err != ErrSwapDeviation {
		t.Fatalf("expected ErrSwapDeviation, got %v", err)
	}
}

func TestOpenLoanRequiresFullyFundedBorrower(t *testing.T) {
	h := newHarness(t)
	// Collateral is covered but the escrow fee is not; nothing may move.
	h.state.fund(alice, underlying, 1000)
	if _, _, err := h.loans.OpenLoan(alice, big.NewInt(1000), nil, nil, 1, 1, big.NewInt(5)); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := h.state.balance(alice, underlying); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("borrower balance %s after rejected open, want 1000", got)
	}
	if got := h.state.balance(loansVault, underlying); got.Sign() != 0 {
		t.Fatalf("loans vault holds %s after rejected open", got)
	}
	if _, err := h.escrow.Escrow(1); err != escrow.ErrEscrowNotFound {
		t.Fatalf("escrow started on rejected open: %v", err)
	}
}

func TestCloseLoanRoundTripsAtFlatPrice(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 0, 0)

	h.now += 30 * day
	out, err := h.loans.CloseLoan(alice, loanID, nil)
	if err != nil {
		t.Fatalf("close loan: %v", err)
	}
	// Flat price: the borrower repays 900k, the collar returns its 100k, and
	// the full 1_000_000 swaps back to exactly the original collateral.
	if out.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("underlying out %s, want 1000", out)
	}
	if got := h.state.balance(alice, underlying); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("borrower underlying %s, want 1000", got)
	}
	if got := h.state.balance(alice, cash); got.Sign() != 0 {
		t.Fatalf("borrower cash %s, want 0", got)
	}
	if got := h.state.balance(loansVault, cash); got.Sign() != 0 {
		t.Fatalf("loans vault retains %s cash", got)
	}
	if _, err := h.loans.CloseLoan(alice, loanID, nil); err != ErrLoanClosed {
		t.Fatalf("expected ErrLoanClosed, got %v", err)
	}
}

func TestCloseLoanBeforeExpiryFails(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 0, 0)
	if _, err := h.loans.CloseLoan(alice, loanID, nil); err != taker.ErrNotExpired {
		t.Fatalf("expected taker.ErrNotExpired, got %v", err)
	}
}

func TestCloseLoanRequiresOwner(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 0, 0)
	h.now += 30 * day
	if _, err := h.loans.CloseLoan(bob, loanID, nil); err != ErrNotLoanOwner {
		t.Fatalf("expected ErrNotLoanOwner, got %v", err)
	}
}

func TestEscrowLoanLifecycle(t *testing.T) {
	h := newHarness(t)
	// Minimum interest on 1000 over 30 days at 5% APR is 5.
	loanID, _ := h.openLoan(t, 1, 5)

	loan, err := h.loans.Loan(loanID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if !loan.UsesEscrow || loan.EscrowID == 0 {
		t.Fatalf("escrow not recorded: %+v", loan)
	}
	esc, err := h.escrow.Escrow(loan.EscrowID)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if esc.LoanID != loanID {
		t.Fatalf("escrow keyed to loan %d, want %d", esc.LoanID, loanID)
	}
	if esc.Escrowed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("escrowed %s, want 1000", esc.Escrowed)
	}

	h.now += 30 * day
	out, err := h.loans.CloseLoan(alice, loanID, nil)
	if err != nil {
		t.Fatalf("close loan: %v", err)
	}
	// The swap returns 1000, the escrow consumes it as repayment and hands
	// the collateral back: the borrower is whole minus the 5 interest.
	if out.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("underlying out %s, want 1000", out)
	}
	carolOut, err := h.escrow.WithdrawReleased(carol, loan.EscrowID)
	if err != nil {
		t.Fatalf("supplier withdraw: %v", err)
	}
	if carolOut.Cmp(big.NewInt(1005)) != 0 {
		t.Fatalf("supplier payout %s, want 1005", carolOut)
	}
}

func TestUnwrapAndCancelLoan(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 0, 0)
	if err := h.loans.UnwrapAndCancelLoan(alice, loanID); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if owner, _ := h.taker.OwnerOf(loanID); owner != alice {
		t.Fatalf("taker NFT held by %v, want borrower", owner)
	}
	if _, err := h.loans.CloseLoan(alice, loanID, nil); err != ErrLoanClosed {
		t.Fatalf("expected ErrLoanClosed, got %v", err)
	}
}

func TestUnwrapEscrowLoanRepaysSupplier(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 1, 5)
	loan, _ := h.loans.Loan(loanID)

	h.now += 15 * day
	// The caller must return the supplier principal to free the collateral.
	h.state.fund(alice, underlying, 1000)
	if err := h.loans.UnwrapAndCancelLoan(alice, loanID); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	// Repaid 1000, got back collateral 1000 plus half-term refund 2.
	if got := h.state.balance(alice, underlying); got.Cmp(big.NewInt(1002)) != 0 {
		t.Fatalf("borrower underlying %s, want 1002", got)
	}
	carolOut, err := h.escrow.WithdrawReleased(carol, loan.EscrowID)
	if err != nil {
		t.Fatalf("supplier withdraw: %v", err)
	}
	if carolOut.Cmp(big.NewInt(1003)) != 0 {
		t.Fatalf("supplier payout %s, want 1003", carolOut)
	}
}

func TestUnwrapExpiredEscrowLoanFails(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 1, 5)
	h.now += 30 * day
	if err := h.loans.UnwrapAndCancelLoan(alice, loanID); err != ErrLoanExpired {
		t.Fatalf("expected ErrLoanExpired, got %v", err)
	}
}

func TestRollLoanScalesDebtWithPrice(t *testing.T) {
	h := newHarness(t)
	loanID, _ := h.openLoan(t, 0, 0)

	rollID, err := h.rolls.CreateOffer(bob, loanID, big.NewInt(0), 0,
		scaled(800), scaled(1300), big.NewInt(-200_000), h.now+day)
	if err != nil {
		t.Fatalf("create roll offer: %v", err)
	}
	h.oracle.SetPrice(scaled(1100))
	// Provider tops up the bigger pair: toProvider = 100k - 220k = -120k.
	h.state.fund(bob, cash, 120_000)

	newLoanID, toUser, err := h.loans.RollLoan(alice, loanID, rollID, nil, 0, nil)
	if err != nil {
		t.Fatalf("roll loan: %v", err)
	}
	if toUser.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("toUser %s, want 90000", toUser)
	}
	// Debt scales 10% with the price: 900k -> 990k, and the borrower's cash
	// matches it exactly after the roll payout.
	loan, err := h.loans.Loan(newLoanID)
	if err != nil {
		t.Fatalf("rolled loan: %v", err)
	}
	if loan.LoanAmount.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("rolled debt %s, want 990000", loan.LoanAmount)
	}
	if got := h.state.balance(alice, cash); got.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("borrower cash %s, want 990000", got)
	}
	if owner, _ := h.loans.OwnerOf(newLoanID); owner != alice {
		t.Fatalf("new loan NFT held by %v", owner)
	}
	if _, err := h.loans.Loan(loanID); err != nil {
		t.Fatalf("old loan record: %v", err)
	}
	old, _ := h.loans.Loan(loanID)
	if !old.Closed {
		t.Fatal("old loan not closed")
	}
	// The rolled collar closes like any other loan.
	h.now += 30 * day
	out, err := h.loans.CloseLoan(alice, newLoanID, nil)
	if err != nil {
		t.Fatalf("close rolled loan: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("underlying out %s", out)
	}
}
