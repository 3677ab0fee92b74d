// Package state persists protocol records to a storage.Database. The Manager
// satisfies every engine's state interface, so a single instance can back the
// provider, taker, escrow, rolls and loans engines at once.
package state

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"

	"collar/core/types"
	"collar/native/escrow"
	"collar/native/loans"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/taker"
	"collar/storage"
)

// Key prefixes. Records are stored as JSON under prefix+id; accounts are
// keyed by the keccak hash of the address so key lengths stay uniform.
const (
	accountPrefix          = "acct/"
	providerOfferPrefix    = "provider/offer/"
	providerPositionPrefix = "provider/pos/"
	takerPositionPrefix    = "taker/pos/"
	escrowOfferPrefix      = "escrow/offer/"
	escrowPrefix           = "escrow/esc/"
	rollOfferPrefix        = "rolls/offer/"
	loanPrefix             = "loan/"
)

// Database is the subset of storage.Database the manager needs. Get must
// report a never-written key with storage.ErrKeyNotFound; every other error is
// treated as an infrastructure failure and propagated.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
}

// Manager reads and writes protocol records through a Database.
type Manager struct {
	db Database
}

func NewManager(db Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr [20]byte) []byte {
	return append([]byte(accountPrefix), crypto.Keccak256(addr[:])...)
}

func recordKey(prefix string, id uint64) []byte {
	return []byte(prefix + strconv.FormatUint(id, 10))
}

// GetAccount loads the account stored for addr. A never-written address
// yields an empty account; any other database failure is an error, so a
// transient read fault can never masquerade as a zero balance.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	acct := types.NewAccount()
	if err := json.Unmarshal(raw, acct); err != nil {
		return nil, err
	}
	return acct.Ensure(), nil
}

func (m *Manager) PutAccount(addr [20]byte, acct *types.Account) error {
	raw, err := json.Marshal(acct.Ensure())
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}

// The record getters return (nil, nil) for ids that were never written;
// engines map that onto their own not-found sentinels.

func (m *Manager) ProviderOfferGet(id uint64) (*provider.Offer, error) {
	offer := new(provider.Offer)
	ok, err := m.load(providerOfferPrefix, id, offer)
	if err != nil || !ok {
		return nil, err
	}
	return offer, nil
}

func (m *Manager) ProviderOfferPut(offer *provider.Offer) error {
	return m.store(providerOfferPrefix, offer.ID, offer)
}

func (m *Manager) ProviderPositionGet(id uint64) (*provider.Position, error) {
	pos := new(provider.Position)
	ok, err := m.load(providerPositionPrefix, id, pos)
	if err != nil || !ok {
		return nil, err
	}
	return pos, nil
}

func (m *Manager) ProviderPositionPut(pos *provider.Position) error {
	return m.store(providerPositionPrefix, pos.ID, pos)
}

func (m *Manager) TakerPositionGet(id uint64) (*taker.Position, error) {
	pos := new(taker.Position)
	ok, err := m.load(takerPositionPrefix, id, pos)
	if err != nil || !ok {
		return nil, err
	}
	return pos, nil
}

func (m *Manager) TakerPositionPut(pos *taker.Position) error {
	return m.store(takerPositionPrefix, pos.ID, pos)
}

func (m *Manager) EscrowOfferGet(id uint64) (*escrow.Offer, error) {
	offer := new(escrow.Offer)
	ok, err := m.load(escrowOfferPrefix, id, offer)
	if err != nil || !ok {
		return nil, err
	}
	return offer, nil
}

func (m *Manager) EscrowOfferPut(offer *escrow.Offer) error {
	return m.store(escrowOfferPrefix, offer.ID, offer)
}

func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, error) {
	esc := new(escrow.Escrow)
	ok, err := m.load(escrowPrefix, id, esc)
	if err != nil || !ok {
		return nil, err
	}
	return esc, nil
}

func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	return m.store(escrowPrefix, esc.ID, esc)
}

func (m *Manager) RollOfferGet(id uint64) (*rolls.Offer, error) {
	offer := new(rolls.Offer)
	ok, err := m.load(rollOfferPrefix, id, offer)
	if err != nil || !ok {
		return nil, err
	}
	return offer, nil
}

func (m *Manager) RollOfferPut(offer *rolls.Offer) error {
	return m.store(rollOfferPrefix, offer.ID, offer)
}

func (m *Manager) LoanGet(id uint64) (*loans.Loan, error) {
	loan := new(loans.Loan)
	ok, err := m.load(loanPrefix, id, loan)
	if err != nil || !ok {
		return nil, err
	}
	return loan, nil
}

func (m *Manager) LoanPut(loan *loans.Loan) error {
	return m.store(loanPrefix, loan.ID, loan)
}

func (m *Manager) load(prefix string, id uint64, out interface{}) (bool, error) {
	raw, err := m.db.Get(recordKey(prefix, id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) store(prefix string, id uint64, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.db.Put(recordKey(prefix, id), raw)
}
