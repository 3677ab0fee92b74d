package ledger

import "testing"

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func TestMintAssignsMonotonicIDs(t *testing.T) {
	l := New("taker", 7)
	first, err := l.Mint(addr(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if first != 7 {
		t.Fatalf("expected seeded first id 7, got %d", first)
	}
	second, err := l.Mint(addr(2))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if second != 8 {
		t.Fatalf("expected id 8, got %d", second)
	}
	if l.NextID() != 9 {
		t.Fatalf("expected next id 9, got %d", l.NextID())
	}
}

func TestMintWithIDSharesIDSpace(t *testing.T) {
	l := New("loans", 1)
	if err := l.MintWithID(42, addr(1)); err != nil {
		t.Fatalf("mint with id: %v", err)
	}
	if err := l.MintWithID(42, addr(2)); err != ErrTokenExists {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	if l.NextID() != 43 {
		t.Fatalf("expected next id to advance past explicit id, got %d", l.NextID())
	}
}

func TestTransferRequiresOwnerOrApproved(t *testing.T) {
	l := New("provider", 1)
	id, err := l.Mint(addr(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(addr(2), addr(3), id); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := l.Approve(addr(1), id, addr(2)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !l.IsApprovedOrOwner(addr(2), id) {
		t.Fatal("approved spender not recognised")
	}
	if err := l.Transfer(addr(2), addr(3), id); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	owner, err := l.OwnerOf(id)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != addr(3) {
		t.Fatalf("unexpected owner after transfer: %v", owner)
	}
	// Approval does not survive the transfer.
	if l.IsApprovedOrOwner(addr(2), id) {
		t.Fatal("stale approval survived transfer")
	}
}

func TestBurnClearsToken(t *testing.T) {
	l := New("escrow", 1)
	id, err := l.Mint(addr(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Burn(id); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if l.Exists(id) {
		t.Fatal("burned token still exists")
	}
	if _, err := l.OwnerOf(id); err != ErrUnknownToken {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if err := l.Burn(id); err != ErrUnknownToken {
		t.Fatalf("expected ErrUnknownToken on double burn, got %v", err)
	}
}
