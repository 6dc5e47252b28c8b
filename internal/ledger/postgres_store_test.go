//go:build integration

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/cardlinkhq/settle/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_DepositAndGetBalance(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000001"

	if err := store.Deposit(ctx, addr, "10.500000", "wire-1"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	bal, err := store.GetBalance(ctx, addr)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Available != "10.500000" {
		t.Errorf("Expected available 10.500000, got %s", bal.Available)
	}
	if bal.TotalIn != "10.500000" {
		t.Errorf("Expected totalIn 10.500000, got %s", bal.TotalIn)
	}
}

func TestPostgres_DuplicateDepositRejected(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000002"

	if err := store.Deposit(ctx, addr, "5.000000", "wire-dup"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	err := store.Deposit(ctx, addr, "5.000000", "wire-dup")
	if !errors.Is(err, ErrDuplicateDeposit) {
		t.Fatalf("Expected ErrDuplicateDeposit, got %v", err)
	}

	// Balance must not be credited twice
	bal, _ := store.GetBalance(ctx, addr)
	if bal.Available != "5.000000" {
		t.Errorf("Expected available 5.000000, got %s", bal.Available)
	}
}

func TestPostgres_DebitAndOverdraftPrevention(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000003"

	store.Deposit(ctx, addr, "100.000000", "wire-3")

	if err := store.Debit(ctx, addr, "30.000000", "pay_1", "payment"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	bal, _ := store.GetBalance(ctx, addr)
	if bal.Available != "70.000000" {
		t.Errorf("Expected available 70.000000, got %s", bal.Available)
	}
	if bal.TotalOut != "30.000000" {
		t.Errorf("Expected totalOut 30.000000, got %s", bal.TotalOut)
	}

	// Overdraft must fail via the CHECK constraint and leave the balance intact
	err := store.Debit(ctx, addr, "100.000000", "pay_2", "overdraft attempt")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	bal, _ = store.GetBalance(ctx, addr)
	if bal.Available != "70.000000" {
		t.Errorf("Expected available unchanged at 70.000000, got %s", bal.Available)
	}
}

func TestPostgres_DebitUnknownAccount(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.Debit(context.Background(), "0xaaaa000000000000000000000000000000000004", "1.000000", "pay_x", "payment")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestPostgres_HoldSettleLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000005"

	store.Deposit(ctx, addr, "50.000000", "wire-5")

	if err := store.Hold(ctx, addr, "20.000000", "esc_1"); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	bal, _ := store.GetBalance(ctx, addr)
	if bal.Available != "30.000000" {
		t.Errorf("Expected available 30.000000, got %s", bal.Available)
	}
	if bal.Held != "20.000000" {
		t.Errorf("Expected held 20.000000, got %s", bal.Held)
	}

	holder, amount, err := store.SettleHold(ctx, "esc_1")
	if err != nil {
		t.Fatalf("SettleHold failed: %v", err)
	}
	if holder != addr || amount != "20.000000" {
		t.Errorf("SettleHold returned %s/%s", holder, amount)
	}

	bal, _ = store.GetBalance(ctx, addr)
	if bal.Held != "0.000000" {
		t.Errorf("Expected held 0.000000 after settle, got %s", bal.Held)
	}
	if bal.TotalOut != "20.000000" {
		t.Errorf("Expected totalOut 20.000000 after settle, got %s", bal.TotalOut)
	}

	// Settling the same hold again must fail
	if _, _, err := store.SettleHold(ctx, "esc_1"); !errors.Is(err, ErrHoldNotFound) {
		t.Fatalf("Expected ErrHoldNotFound, got %v", err)
	}
}

func TestPostgres_HoldRefundLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000006"

	store.Deposit(ctx, addr, "50.000000", "wire-6")
	store.Hold(ctx, addr, "20.000000", "esc_2")

	holder, amount, err := store.RefundHold(ctx, "esc_2")
	if err != nil {
		t.Fatalf("RefundHold failed: %v", err)
	}
	if holder != addr || amount != "20.000000" {
		t.Errorf("RefundHold returned %s/%s", holder, amount)
	}

	// Refund restores available without touching totalOut
	bal, _ := store.GetBalance(ctx, addr)
	if bal.Available != "50.000000" {
		t.Errorf("Expected available 50.000000 after refund, got %s", bal.Available)
	}
	if bal.TotalOut != "0.000000" {
		t.Errorf("Expected totalOut 0.000000 after refund, got %s", bal.TotalOut)
	}
}

func TestPostgres_HoldOverdraftPrevention(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000007"

	store.Deposit(ctx, addr, "5.000000", "wire-7")

	err := store.Hold(ctx, addr, "10.000000", "esc_3")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPostgres_HeldFor(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000008"

	store.Deposit(ctx, addr, "10.000000", "wire-8")
	store.Hold(ctx, addr, "4.000000", "esc_4")

	holder, amount, err := store.HeldFor(ctx, "esc_4")
	if err != nil {
		t.Fatalf("HeldFor failed: %v", err)
	}
	if holder != addr || amount != "4.000000" {
		t.Errorf("HeldFor returned %s/%s", holder, amount)
	}

	if _, _, err := store.HeldFor(ctx, "esc_missing"); !errors.Is(err, ErrHoldNotFound) {
		t.Fatalf("Expected ErrHoldNotFound, got %v", err)
	}
}

func TestPostgres_GetHistory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000009"

	store.Deposit(ctx, addr, "10.000000", "wire-9")
	store.Debit(ctx, addr, "2.000000", "pay_9", "payment")
	store.Credit(ctx, addr, "1.000000", "pay_other", "payment_received")

	entries, err := store.GetHistory(ctx, addr, 10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	types := map[string]bool{}
	for _, e := range entries {
		types[e.Type] = true
	}
	for _, want := range []string{"deposit", "debit", "credit"} {
		if !types[want] {
			t.Errorf("Missing entry type %q in history", want)
		}
	}
}
