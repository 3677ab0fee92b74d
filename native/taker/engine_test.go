package taker

import (
	"errors"
	"math/big"
	"testing"

	"collar/core/types"
	"collar/native/confighub"
	"collar/native/oracle"
	"collar/native/provider"
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
	hubOwner      = addr(0xA0)
	takerVault    = addr(0xA1)
	providerVault = addr(0xA2)
	feeRecipient  = addr(0xA3)
	alice         = addr(1) // taker
	bob           = addr(2) // provider
)

type mockState struct {
	accounts      map[[20]byte]*types.Account
	provOffers    map[uint64]*provider.Offer
	provPositions map[uint64]*provider.Position
	takerPos      map[uint64]*Position
}

func newMockState() *mockState {
	return &mockState{
		accounts:      make(map[[20]byte]*types.Account),
		provOffers:    make(map[uint64]*provider.Offer),
		provPositions: make(map[uint64]*provider.Position),
		takerPos:      make(map[uint64]*Position),
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

func (m *mockState) TakerPositionGet(id uint64) (*Position, error) {
	return m.takerPos[id], nil
}

func (m *mockState) TakerPositionPut(p *Position) error {
	m.takerPos[p.ID] = p
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
	provider *provider.Engine
	taker    *Engine
	now      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub, err := confighub.NewEngine(hubOwner, confighub.Params{
		ProtocolFeeAPRBips:   0,
		MinDuration:          day,
		MaxDuration:          365 * day,
		MinLTVBips:           1000,
		MaxLTVBips:           9900,
		MaxSwapDeviationBips: 500,
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	for _, target := range []string{provider.ModuleName, ModuleName} {
		if err := hub.SetPairAuthorized(hubOwner, underlying, cash, target, true); err != nil {
			t.Fatalf("authorize pair: %v", err)
		}
	}
	h := &harness{
		state:  newMockState(),
		hub:    hub,
		oracle: oracle.NewManual(big.NewInt(1000)),
		now:    1_700_000_000,
	}
	h.provider = provider.NewEngine(providerVault, underlying, cash, hub, 1)
	h.provider.SetState(h.state)
	h.provider.SetNowFunc(func() int64 { return h.now })
	h.taker = NewEngine(takerVault, underlying, cash, hub, h.oracle, h.provider)
	h.taker.SetState(h.state)
	h.taker.SetNowFunc(func() int64 { return h.now })
	return h
}

func (h *harness) createOffer(t *testing.T, amount int64) uint64 {
	t.Helper()
	h.state.fund(bob, cash, amount)
	offerID, err := h.provider.CreateOffer(bob, provider.OfferTerms{
		PutStrikeBips:  9000,
		CallStrikeBips: 12_000,
		Duration:       30 * day,
		Amount:         big.NewInt(amount),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offerID
}

func (h *harness) openPosition(t *testing.T, takerLocked int64, offerID uint64) (uint64, uint64) {
	t.Helper()
	h.state.fund(alice, cash, takerLocked)
	takerID, providerID, err := h.taker.OpenPairedPosition(alice, big.NewInt(takerLocked), offerID)
	if err != nil {
		t.Fatalf("open paired position: %v", err)
	}
	return takerID, providerID
}

func TestOpenPairedPositionLocksBothLegs(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, providerID := h.openPosition(t, 1000, offerID)

	pos, err := h.taker.Position(takerID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	// providerLocked = 1000 * (12000-10000) / (10000-9000)
	if pos.ProviderLocked.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected provider locked 2000, got %s", pos.ProviderLocked)
	}
	if pos.Expiration != h.now+30*day {
		t.Fatalf("unexpected expiration %d", pos.Expiration)
	}
	if got := h.state.balance(takerVault, cash); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("taker vault holds %s", got)
	}
	if got := h.state.balance(alice, cash); got.Sign() != 0 {
		t.Fatalf("taker retains %s", got)
	}
	offer, err := h.provider.Offer(offerID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Available.Cmp(big.NewInt(8000)) != 0 {
		t.Fatalf("offer available %s, want 8000", offer.Available)
	}
	provPos, err := h.provider.Position(providerID)
	if err != nil {
		t.Fatalf("provider position: %v", err)
	}
	if provPos.TakerID != takerID {
		t.Fatalf("provider position linked to taker %d", provPos.TakerID)
	}
	if owner, _ := h.provider.OwnerOf(providerID); owner != bob {
		t.Fatalf("provider NFT minted to %v", owner)
	}
}

func TestOpenPairedPositionChargesProtocolFee(t *testing.T) {
	h := newHarness(t)
	if err := h.hub.SetParams(hubOwner, confighub.Params{
		ProtocolFeeAPRBips:   100,
		FeeRecipient:         feeRecipient,
		MinDuration:          day,
		MaxDuration:          365 * day,
		MinLTVBips:           1000,
		MaxLTVBips:           9900,
		MaxSwapDeviationBips: 500,
	}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	offerID := h.createOffer(t, 1_000_000)
	_, _ = h.openPosition(t, 100_000, offerID)

	fee := h.state.balance(feeRecipient, cash)
	if fee.Sign() <= 0 {
		t.Fatal("no protocol fee forwarded")
	}
	offer, err := h.provider.Offer(offerID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	// available = 1_000_000 - providerLocked(200_000) - fee
	want := new(big.Int).Sub(big.NewInt(800_000), fee)
	if offer.Available.Cmp(want) != 0 {
		t.Fatalf("offer available %s, want %s", offer.Available, want)
	}
}

func TestOpenRequiresPairAuthorization(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	if err := h.hub.SetPairAuthorized(hubOwner, underlying, cash, ModuleName, false); err != nil {
		t.Fatalf("revoke pair: %v", err)
	}
	h.state.fund(alice, cash, 1000)
	if _, _, err := h.taker.OpenPairedPosition(alice, big.NewInt(1000), offerID); err != ErrUnauthorizedPair {
		t.Fatalf("expected ErrUnauthorizedPair, got %v", err)
	}
}

func TestSettleBeforeExpiryFails(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	if err := h.taker.SettlePairedPosition(takerID); err != ErrNotExpired {
		t.Fatalf("expected ErrNotExpired, got %v", err)
	}
}

func TestSettlementConservesLockedFunds(t *testing.T) {
	for _, price := range []int64{500, 900, 950, 1000, 1100, 1200, 5000} {
		h := newHarness(t)
		offerID := h.createOffer(t, 10_000)
		takerID, providerID := h.openPosition(t, 1000, offerID)

		h.now += 30 * day
		h.oracle.SetPrice(big.NewInt(price))
		if err := h.taker.SettlePairedPosition(takerID); err != nil {
			t.Fatalf("price=%d settle: %v", price, err)
		}
		takerOut, err := h.taker.WithdrawFromSettled(alice, takerID)
		if err != nil {
			t.Fatalf("price=%d taker withdraw: %v", price, err)
		}
		providerOut, err := h.provider.Withdraw(bob, providerID)
		if err != nil {
			t.Fatalf("price=%d provider withdraw: %v", price, err)
		}
		total := new(big.Int).Add(takerOut, providerOut)
		if total.Cmp(big.NewInt(3000)) != 0 {
			t.Fatalf("price=%d: conservation violated, total %s", price, total)
		}
		if got := h.state.balance(takerVault, cash); got.Sign() != 0 {
			t.Fatalf("price=%d: taker vault retains %s", price, got)
		}
	}
}

func TestSettleAtCallStrike(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	h.now += 30 * day
	h.oracle.SetPrice(big.NewInt(1200))
	if err := h.taker.SettlePairedPosition(takerID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	out, err := h.taker.WithdrawFromSettled(alice, takerID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("expected 3000, got %s", out)
	}
}

func TestSettleAtPutStrike(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, providerID := h.openPosition(t, 1000, offerID)
	h.now += 30 * day
	h.oracle.SetPrice(big.NewInt(900))
	if err := h.taker.SettlePairedPosition(takerID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	out, err := h.taker.WithdrawFromSettled(alice, takerID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Sign() != 0 {
		t.Fatalf("expected zero payout, got %s", out)
	}
	providerOut, err := h.provider.Withdraw(bob, providerID)
	if err != nil {
		t.Fatalf("provider withdraw: %v", err)
	}
	if providerOut.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("expected provider payout 3000, got %s", providerOut)
	}
}

func TestSettleIsIdempotentGuarded(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	h.now += 30 * day
	if err := h.taker.SettlePairedPosition(takerID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	before, _ := h.taker.Position(takerID)
	if err := h.taker.SettlePairedPosition(takerID); err != ErrAlreadySettled {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	after, _ := h.taker.Position(takerID)
	if before.Withdrawable.Cmp(after.Withdrawable) != 0 {
		t.Fatal("failed settle mutated position state")
	}
}

func TestLateSettlementUsesCurrentPrice(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	// Price at expiry was 1200; settlement happens much later at 900 and
	// must use the later quote.
	h.now += 30 * day
	h.oracle.SetPrice(big.NewInt(1200))
	h.now += 90 * day
	h.oracle.SetPrice(big.NewInt(900))
	if err := h.taker.SettlePairedPosition(takerID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	pos, _ := h.taker.Position(takerID)
	if pos.Withdrawable.Sign() != 0 {
		t.Fatalf("late settlement ignored current price: %s", pos.Withdrawable)
	}
}

func TestOracleFailureAbortsSettlement(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	h.now += 30 * day
	boom := errors.New("sequencer down")
	h.oracle.Fail(boom)
	if err := h.taker.SettlePairedPosition(takerID); !errors.Is(err, boom) {
		t.Fatalf("expected oracle error to propagate, got %v", err)
	}
	pos, _ := h.taker.Position(takerID)
	if pos.Settled {
		t.Fatal("position settled despite oracle failure")
	}
}

func TestCancelRequiresBothLegs(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	if err := h.taker.CancelPairedPosition(alice, takerID); err != ErrNotBothPositionsOwned {
		t.Fatalf("expected ErrNotBothPositionsOwned, got %v", err)
	}
}

func TestCancelRefundsTakerSideWithoutPriceLogic(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, providerID := h.openPosition(t, 1000, offerID)
	if err := h.provider.Approve(bob, providerID, alice); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Move the price somewhere that would matter if settlement ran.
	h.oracle.SetPrice(big.NewInt(500))
	if err := h.taker.CancelPairedPosition(alice, takerID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	out, err := h.taker.WithdrawFromSettled(alice, takerID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("expected full refund 3000, got %s", out)
	}
	// The provider leg is terminal with nothing to withdraw.
	if _, err := h.provider.Withdraw(bob, providerID); err != nil {
		t.Fatalf("provider withdraw: %v", err)
	}
	if got := h.state.balance(bob, cash); got.Sign() != 0 {
		t.Fatalf("provider received %s from cancel", got)
	}
	if err := h.taker.SettlePairedPosition(takerID); err != ErrAlreadySettled {
		t.Fatalf("canceled position settled: %v", err)
	}
}

func TestWithdrawRequiresOwner(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	takerID, _ := h.openPosition(t, 1000, offerID)
	h.now += 30 * day
	if err := h.taker.SettlePairedPosition(takerID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := h.taker.WithdrawFromSettled(bob, takerID); err != ErrNotPositionOwner {
		t.Fatalf("expected ErrNotPositionOwner, got %v", err)
	}
	// NFT transfer moves the withdrawal right.
	if err := h.taker.TransferPosition(alice, bob, takerID); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := h.taker.WithdrawFromSettled(bob, takerID); err != nil {
		t.Fatalf("withdraw after transfer: %v", err)
	}
}

func TestOfferConsumptionGuards(t *testing.T) {
	h := newHarness(t)
	h.state.fund(bob, cash, 10_000)
	offerID, err := h.provider.CreateOffer(bob, provider.OfferTerms{
		PutStrikeBips:  9000,
		CallStrikeBips: 12_000,
		Duration:       30 * day,
		Amount:         big.NewInt(10_000),
		MinLocked:      big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	// Provider amount would be 40_000 > available.
	h.state.fund(alice, cash, 20_000)
	if _, _, err := h.taker.OpenPairedPosition(alice, big.NewInt(20_000), offerID); err != provider.ErrAmountTooHigh {
		t.Fatalf("expected ErrAmountTooHigh, got %v", err)
	}
	// Provider amount would be 400 < minLocked.
	if _, _, err := h.taker.OpenPairedPosition(alice, big.NewInt(200), offerID); err != provider.ErrAmountTooLow {
		t.Fatalf("expected ErrAmountTooLow, got %v", err)
	}
}

func TestRejectedOpenLeavesLedgersUntouched(t *testing.T) {
	h := newHarness(t)
	if err := h.hub.SetParams(hubOwner, confighub.Params{
		ProtocolFeeAPRBips:   100,
		FeeRecipient:         feeRecipient,
		MinDuration:          day,
		MaxDuration:          365 * day,
		MinLTVBips:           1000,
		MaxLTVBips:           9900,
		MaxSwapDeviationBips: 500,
	}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	// The offer covers exactly the provider amount (2000) but not the
	// protocol fee on top, so the open must be rejected outright.
	offerID := h.createOffer(t, 2000)
	h.state.fund(alice, cash, 1000)
	nextID := h.taker.NextPositionID()

	if _, _, err := h.taker.OpenPairedPosition(alice, big.NewInt(1000), offerID); err != provider.ErrAmountTooHigh {
		t.Fatalf("expected ErrAmountTooHigh, got %v", err)
	}
	if got := h.state.balance(alice, cash); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("taker cash moved on rejected open: %s", got)
	}
	if got := h.state.balance(takerVault, cash); got.Sign() != 0 {
		t.Fatalf("taker vault holds %s after rejected open", got)
	}
	if h.taker.NextPositionID() != nextID {
		t.Fatal("taker NFT minted on rejected open")
	}
	offer, err := h.provider.Offer(offerID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Available.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("offer consumed on rejected open: %s", offer.Available)
	}
}

func TestOpenRequiresFundedTaker(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	h.state.fund(alice, cash, 999)
	if _, _, err := h.taker.OpenPairedPosition(alice, big.NewInt(1000), offerID); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	offer, err := h.provider.Offer(offerID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Available.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("offer consumed for unfunded taker: %s", offer.Available)
	}
}

func TestUpdateOfferAmount(t *testing.T) {
	h := newHarness(t)
	offerID := h.createOffer(t, 10_000)
	if err := h.provider.UpdateOfferAmount(alice, offerID, big.NewInt(1)); err != provider.ErrNotOfferOwner {
		t.Fatalf("expected ErrNotOfferOwner, got %v", err)
	}
	if err := h.provider.UpdateOfferAmount(bob, offerID, big.NewInt(4000)); err != nil {
		t.Fatalf("shrink offer: %v", err)
	}
	if got := h.state.balance(bob, cash); got.Cmp(big.NewInt(6000)) != 0 {
		t.Fatalf("provider refund %s, want 6000", got)
	}
	if err := h.provider.UpdateOfferAmount(bob, offerID, big.NewInt(5000)); err != nil {
		t.Fatalf("grow offer: %v", err)
	}
	offer, err := h.provider.Offer(offerID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Available.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("offer available %s", offer.Available)
	}
}
