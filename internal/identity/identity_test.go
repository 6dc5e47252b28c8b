package identity

import (
	"context"
	"errors"
	"testing"
)

const (
	alice = "0xaaaa567890123456789012345678901234567890"
	bob   = "0xbbbb567890123456789012345678901234567890"
)

func TestRegisterAndGet(t *testing.T) {
	d := NewDirectory(NewMemoryStore())
	ctx := context.Background()

	err := d.Register(ctx, &Participant{Address: alice, Name: "Alice's Bakery"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p, err := d.Get(ctx, alice)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "Alice's Bakery" {
		t.Errorf("Name = %s", p.Name)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	d := NewDirectory(NewMemoryStore())
	ctx := context.Background()

	d.Register(ctx, &Participant{Address: alice, Name: "First"})
	err := d.Register(ctx, &Participant{Address: alice, Name: "Second"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestAddressNormalization(t *testing.T) {
	d := NewDirectory(NewMemoryStore())
	ctx := context.Background()

	upper := "0xAAAA567890123456789012345678901234567890"
	d.Register(ctx, &Participant{Address: upper, Name: "Mixed Case"})

	if !d.IsKnown(ctx, alice) {
		t.Error("lowercase lookup should find the participant")
	}
	if !d.IsKnown(ctx, upper) {
		t.Error("uppercase lookup should find the participant")
	}
	if d.IsKnown(ctx, bob) {
		t.Error("unregistered address reported as known")
	}
}

func TestList(t *testing.T) {
	d := NewDirectory(NewMemoryStore())
	ctx := context.Background()

	d.Register(ctx, &Participant{Address: alice, Name: "A"})
	d.Register(ctx, &Participant{Address: bob, Name: "B"})

	list, err := d.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	// Newest first
	if list[0].Address != bob {
		t.Errorf("list[0] = %s, want %s", list[0].Address, bob)
	}
}
