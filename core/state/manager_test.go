package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"collar/core/types"
	"collar/native/escrow"
	"collar/native/loans"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/taker"
	"collar/storage"
)

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	acct := types.NewAccount()
	acct.Balances["USDC"] = big.NewInt(1_000_000)
	acct.Balances["WETH"] = big.NewInt(42)
	require.NoError(t, m.PutAccount(addr(1), acct))

	got, err := m.GetAccount(addr(1))
	require.NoError(t, err)
	require.Equal(t, 0, got.Balance("USDC").Cmp(big.NewInt(1_000_000)))
	require.Equal(t, 0, got.Balance("WETH").Cmp(big.NewInt(42)))
}

func TestMissingAccountIsEmpty(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	got, err := m.GetAccount(addr(9))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 0, got.Balance("USDC").Sign())
}

func TestRecordRoundTrips(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	offer := &provider.Offer{
		ID:             7,
		Provider:       addr(2),
		Available:      big.NewInt(500_000),
		PutStrikeBips:  9_000,
		CallStrikeBips: 12_000,
		Duration:       86_400,
		MinLocked:      big.NewInt(100),
	}
	require.NoError(t, m.ProviderOfferPut(offer))
	gotOffer, err := m.ProviderOfferGet(7)
	require.NoError(t, err)
	require.Equal(t, offer, gotOffer)

	pos := &taker.Position{
		ID:             3,
		ProviderID:     4,
		Duration:       86_400,
		Expiration:     1_700_000_000,
		StartPrice:     big.NewInt(1_000),
		PutStrikeBips:  9_000,
		CallStrikeBips: 12_000,
		TakerLocked:    big.NewInt(1_000),
		ProviderLocked: big.NewInt(2_000),
		Withdrawable:   big.NewInt(0),
	}
	require.NoError(t, m.TakerPositionPut(pos))
	gotPos, err := m.TakerPositionGet(3)
	require.NoError(t, err)
	require.Equal(t, pos, gotPos)

	esc := &escrow.Escrow{
		ID:             11,
		OfferID:        5,
		Loans:          addr(3),
		LoanID:         3,
		Escrowed:       big.NewInt(1_000),
		Duration:       86_400,
		Expiration:     1_700_086_400,
		LateFeeAPRBips: 10_000,
		InterestHeld:   big.NewInt(5),
		Withdrawable:   big.NewInt(0),
	}
	require.NoError(t, m.EscrowPut(esc))
	gotEsc, err := m.EscrowGet(11)
	require.NoError(t, err)
	require.Equal(t, esc, gotEsc)

	roll := &rolls.Offer{
		ID:                 1,
		TakerID:            3,
		ProviderID:         4,
		Provider:           addr(2),
		FeeAmount:          big.NewInt(10),
		FeeDeltaFactorBips: 10_000,
		FeeReferencePrice:  big.NewInt(1_000),
		MinPrice:           big.NewInt(800),
		MaxPrice:           big.NewInt(1_300),
		MinToProvider:      big.NewInt(-2_000),
		Deadline:           1_700_000_000,
		Active:             true,
	}
	require.NoError(t, m.RollOfferPut(roll))
	gotRoll, err := m.RollOfferGet(1)
	require.NoError(t, err)
	require.Equal(t, roll, gotRoll)

	loan := &loans.Loan{
		ID:               3,
		Borrower:         addr(4),
		UnderlyingAmount: big.NewInt(1_000),
		LoanAmount:       big.NewInt(900_000),
		UsesEscrow:       true,
		EscrowID:         11,
	}
	require.NoError(t, m.LoanPut(loan))
	gotLoan, err := m.LoanGet(3)
	require.NoError(t, err)
	require.Equal(t, loan, gotLoan)
}

func TestMissingRecordsAreNil(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	offer, err := m.ProviderOfferGet(99)
	require.NoError(t, err)
	require.Nil(t, offer)
	pos, err := m.TakerPositionGet(99)
	require.NoError(t, err)
	require.Nil(t, pos)
	esc, err := m.EscrowGet(99)
	require.NoError(t, err)
	require.Nil(t, esc)
	roll, err := m.RollOfferGet(99)
	require.NoError(t, err)
	require.Nil(t, roll)
	loan, err := m.LoanGet(99)
	require.NoError(t, err)
	require.Nil(t, loan)
}

// faultyDB fails every read with an error that is not ErrKeyNotFound,
// simulating a transient backend fault.
type faultyDB struct {
	err error
}

func (f faultyDB) Put(key, value []byte) error    { return nil }
func (f faultyDB) Get(key []byte) ([]byte, error) { return nil, f.err }

func TestReadFaultsPropagate(t *testing.T) {
	boom := errors.New("leveldb: i/o error")
	m := NewManager(faultyDB{err: boom})

	_, err := m.GetAccount(addr(1))
	require.ErrorIs(t, err, boom)

	_, err = m.ProviderOfferGet(1)
	require.ErrorIs(t, err, boom)
	_, err = m.TakerPositionGet(1)
	require.ErrorIs(t, err, boom)
	_, err = m.EscrowOfferGet(1)
	require.ErrorIs(t, err, boom)
	_, err = m.EscrowGet(1)
	require.ErrorIs(t, err, boom)
	_, err = m.RollOfferGet(1)
	require.ErrorIs(t, err, boom)
	_, err = m.LoanGet(1)
	require.ErrorIs(t, err, boom)
}

func TestRecordKeysDoNotCollide(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	require.NoError(t, m.ProviderOfferPut(&provider.Offer{ID: 1, Available: big.NewInt(1), MinLocked: big.NewInt(0)}))
	require.NoError(t, m.EscrowOfferPut(&escrow.Offer{ID: 1, Available: big.NewInt(2), MinEscrow: big.NewInt(0)}))

	prov, err := m.ProviderOfferGet(1)
	require.NoError(t, err)
	require.Equal(t, 0, prov.Available.Cmp(big.NewInt(1)))
	sup, err := m.EscrowOfferGet(1)
	require.NoError(t, err)
	require.Equal(t, 0, sup.Available.Cmp(big.NewInt(2)))
}
