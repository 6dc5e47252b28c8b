package ledger

import (
	"context"
	"errors"
	"testing"
)

const (
	alice = "0xaaaa567890123456789012345678901234567890"
	bob   = "0xbbbb567890123456789012345678901234567890"
)

func newTestLedger() *Ledger {
	return New(NewMemoryStore())
}

func TestDepositAndBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, "100.00", "dep_1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	bal, err := l.GetBalance(ctx, alice)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Available != "100.000000" {
		t.Errorf("Available = %s, want 100.000000", bal.Available)
	}
	if bal.TotalIn != "100.000000" {
		t.Errorf("TotalIn = %s, want 100.000000", bal.TotalIn)
	}
}

func TestDepositIdempotency(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.Deposit(ctx, alice, "50.00", "dep_dup"); err != nil {
		t.Fatalf("First deposit failed: %v", err)
	}
	if err := l.Deposit(ctx, alice, "50.00", "dep_dup"); !errors.Is(err, ErrDuplicateDeposit) {
		t.Errorf("Expected ErrDuplicateDeposit, got %v", err)
	}

	bal, _ := l.GetBalance(ctx, alice)
	if bal.Available != "50.000000" {
		t.Errorf("Available = %s after replay, want 50.000000", bal.Available)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "10.00", "dep_1")

	err := l.Debit(ctx, alice, "20.00", "pay_1", "payment")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}

	// Balance unchanged after rejected debit
	bal, _ := l.GetBalance(ctx, alice)
	if bal.Available != "10.000000" {
		t.Errorf("Available = %s, want 10.000000", bal.Available)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	l := newTestLedger()

	err := l.Debit(context.Background(), bob, "1.00", "pay_1", "payment")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestCreditFiresHooks(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	var gotAddr, gotAmount, gotRef string
	l.OnCredit(func(address, amount, reference string) {
		gotAddr = address
		gotAmount = amount
		gotRef = reference
	})

	if err := l.Credit(ctx, bob, "5.00", "pay_9", "payment_net"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	if gotAddr != bob || gotAmount != "5.00" || gotRef != "pay_9" {
		t.Errorf("hook got (%s, %s, %s)", gotAddr, gotAmount, gotRef)
	}
}

func TestHookMayCallBackIntoLedger(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	// A hook that reads the ledger must not deadlock; hooks fire outside
	// the store's critical section.
	done := make(chan struct{})
	l.OnCredit(func(address, amount, reference string) {
		_, _ = l.GetBalance(ctx, address)
		close(done)
	})

	if err := l.Credit(ctx, bob, "1.00", "pay_cb", "payment_net"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	select {
	case <-done:
	default:
		t.Fatal("hook did not run")
	}
}

func TestHoldLifecycle(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "100.00", "dep_1")

	if err := l.Hold(ctx, alice, "40.00", "esc_1"); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	bal, _ := l.GetBalance(ctx, alice)
	if bal.Available != "60.000000" {
		t.Errorf("Available = %s, want 60.000000", bal.Available)
	}
	if bal.Held != "40.000000" {
		t.Errorf("Held = %s, want 40.000000", bal.Held)
	}

	addr, amount, err := l.HeldFor(ctx, "esc_1")
	if err != nil {
		t.Fatalf("HeldFor failed: %v", err)
	}
	if addr != alice || amount != "40.000000" {
		t.Errorf("HeldFor = (%s, %s)", addr, amount)
	}
}

func TestHoldInsufficientBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "10.00", "dep_1")

	if err := l.Hold(ctx, alice, "11.00", "esc_1"); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSettleHold(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "100.00", "dep_1")
	l.Hold(ctx, alice, "40.00", "esc_1")

	addr, amount, err := l.SettleHold(ctx, "esc_1")
	if err != nil {
		t.Fatalf("SettleHold failed: %v", err)
	}
	if addr != alice || amount != "40.000000" {
		t.Errorf("SettleHold = (%s, %s)", addr, amount)
	}

	bal, _ := l.GetBalance(ctx, alice)
	if bal.Held != "0.000000" {
		t.Errorf("Held = %s after settle, want 0.000000", bal.Held)
	}
	if bal.TotalOut != "40.000000" {
		t.Errorf("TotalOut = %s, want 40.000000", bal.TotalOut)
	}

	// Double settle must fail
	if _, _, err := l.SettleHold(ctx, "esc_1"); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("Expected ErrHoldNotFound on second settle, got %v", err)
	}
}

func TestRefundHold(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "100.00", "dep_1")
	l.Hold(ctx, alice, "40.00", "esc_1")

	addr, amount, err := l.RefundHold(ctx, "esc_1")
	if err != nil {
		t.Fatalf("RefundHold failed: %v", err)
	}
	if addr != alice || amount != "40.000000" {
		t.Errorf("RefundHold = (%s, %s)", addr, amount)
	}

	bal, _ := l.GetBalance(ctx, alice)
	if bal.Available != "100.000000" {
		t.Errorf("Available = %s after refund, want 100.000000", bal.Available)
	}
	if bal.Held != "0.000000" {
		t.Errorf("Held = %s after refund, want 0.000000", bal.Held)
	}
}

func TestCanSpend(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "10.00", "dep_1")

	ok, err := l.CanSpend(ctx, alice, "10.00")
	if err != nil || !ok {
		t.Errorf("CanSpend(10.00) = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = l.CanSpend(ctx, alice, "10.01")
	if err != nil || ok {
		t.Errorf("CanSpend(10.01) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestGetHistory(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Deposit(ctx, alice, "100.00", "dep_1")
	l.Debit(ctx, alice, "10.00", "pay_1", "payment")
	l.Debit(ctx, alice, "5.00", "pay_2", "payment")

	entries, err := l.GetHistory(ctx, alice, 10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	// Newest first
	if entries[0].Reference != "pay_2" {
		t.Errorf("entries[0].Reference = %s, want pay_2", entries[0].Reference)
	}
}

func TestAddressesAreCaseInsensitive(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	upper := "0xAAAA567890123456789012345678901234567890"
	l.Deposit(ctx, upper, "10.00", "dep_1")

	bal, _ := l.GetBalance(ctx, alice)
	if bal.Available != "10.000000" {
		t.Errorf("Available = %s via lowercase lookup, want 10.000000", bal.Available)
	}
}
