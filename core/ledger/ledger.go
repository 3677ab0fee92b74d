// Package ledger implements the position ownership registries used by the
// protocol engines. Each position kind (taker, provider, escrow supplier,
// loan) owns an independent Ledger with its own id space, mirroring the
// NFT-per-contract ownership model of the source protocol.
package ledger

import (
	"errors"
	"sync"
)

var (
	ErrUnknownToken  = errors.New("ledger: unknown token id")
	ErrTokenExists   = errors.New("ledger: token id already minted")
	ErrZeroOwner     = errors.New("ledger: zero owner address")
	ErrNotAuthorized = errors.New("ledger: caller not owner or approved")
)

// Ledger tracks token ownership and per-token approvals. Identifiers are
// assigned monotonically from a seed supplied at construction so simulations
// can run with deterministic ids.
type Ledger struct {
	mu       sync.RWMutex
	name     string
	nextID   uint64
	owners   map[uint64][20]byte
	approved map[uint64][20]byte
}

// New creates a ledger with the supplied name and first token id.
func New(name string, firstID uint64) *Ledger {
	if firstID == 0 {
		firstID = 1
	}
	return &Ledger{
		name:     name,
		nextID:   firstID,
		owners:   make(map[uint64][20]byte),
		approved: make(map[uint64][20]byte),
	}
}

// Name returns the ledger identifier supplied at construction.
func (l *Ledger) Name() string { return l.name }

// NextID returns the id the next Mint call will assign.
func (l *Ledger) NextID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID
}

// Mint assigns the next id to the supplied owner and returns it.
func (l *Ledger) Mint(owner [20]byte) (uint64, error) {
	if owner == ([20]byte{}) {
		return 0, ErrZeroOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.owners[id] = owner
	return id, nil
}

// MintWithID records ownership under a caller-chosen id. Used by the loans
// ledger, whose ids are shared 1:1 with the taker position id space.
func (l *Ledger) MintWithID(id uint64, owner [20]byte) error {
	if owner == ([20]byte{}) {
		return ErrZeroOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[id]; ok {
		return ErrTokenExists
	}
	l.owners[id] = owner
	if id >= l.nextID {
		l.nextID = id + 1
	}
	return nil
}

// Burn removes the token and any outstanding approval.
func (l *Ledger) Burn(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[id]; !ok {
		return ErrUnknownToken
	}
	delete(l.owners, id)
	delete(l.approved, id)
	return nil
}

// Exists reports whether the token id has been minted and not burned.
func (l *Ledger) Exists(id uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.owners[id]
	return ok
}

// OwnerOf returns the current owner of the token.
func (l *Ledger) OwnerOf(id uint64) ([20]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[id]
	if !ok {
		return [20]byte{}, ErrUnknownToken
	}
	return owner, nil
}

// Approve lets the token owner designate a single spender for the token.
// Passing the zero address clears the approval.
func (l *Ledger) Approve(caller [20]byte, id uint64, spender [20]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[id]
	if !ok {
		return ErrUnknownToken
	}
	if owner != caller {
		return ErrNotAuthorized
	}
	if spender == ([20]byte{}) {
		delete(l.approved, id)
		return nil
	}
	l.approved[id] = spender
	return nil
}

// Transfer moves the token to a new owner. The caller must be the owner or
// the approved spender. Any approval is cleared on transfer.
func (l *Ledger) Transfer(caller, to [20]byte, id uint64) error {
	if to == ([20]byte{}) {
		return ErrZeroOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[id]
	if !ok {
		return ErrUnknownToken
	}
	if owner != caller && l.approved[id] != caller {
		return ErrNotAuthorized
	}
	l.owners[id] = to
	delete(l.approved, id)
	return nil
}

// IsApprovedOrOwner reports whether the address may act on the token.
func (l *Ledger) IsApprovedOrOwner(addr [20]byte, id uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[id]
	if !ok {
		return false
	}
	return owner == addr || l.approved[id] == addr
}
