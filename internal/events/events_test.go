package events

import (
	"context"
	"testing"
)

const (
	alice = "0xaaaa567890123456789012345678901234567890"
	bob   = "0xbbbb567890123456789012345678901234567890"
	carol = "0xcccc567890123456789012345678901234567890"
)

func TestAppendAssignsSequence(t *testing.T) {
	log := NewLog(NewMemoryStore())
	ctx := context.Background()

	e1 := &Event{Type: TypePaymentCreated, RecordID: "pay_1", Payer: alice, Payee: bob, Amount: "10.00"}
	e2 := &Event{Type: TypeEscrowCreated, RecordID: "esc_1", Payer: alice, Payee: bob, Amount: "20.00"}

	if err := log.Append(ctx, e1); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(ctx, e2); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Errorf("Seq = (%d, %d), want (1, 2)", e1.Seq, e2.Seq)
	}
	if e1.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on append")
	}
}

func TestHooksFireAfterAppend(t *testing.T) {
	log := NewLog(NewMemoryStore())

	var got []*Event
	log.OnAppend(func(e *Event) { got = append(got, e) })

	log.Append(context.Background(), &Event{Type: TypePaymentCreated, RecordID: "pay_1", Payer: alice, Payee: bob, Amount: "1.00"})

	if len(got) != 1 || got[0].RecordID != "pay_1" {
		t.Errorf("hook saw %v", got)
	}
	if got[0].Seq == 0 {
		t.Error("hook should observe the assigned sequence")
	}
}

func TestGetByRecord(t *testing.T) {
	log := NewLog(NewMemoryStore())
	ctx := context.Background()

	log.Append(ctx, &Event{Type: TypeEscrowCreated, RecordID: "esc_1", Payer: alice, Payee: bob, Amount: "20.00"})
	log.Append(ctx, &Event{Type: TypePaymentCreated, RecordID: "pay_1", Payer: alice, Payee: carol, Amount: "5.00"})
	log.Append(ctx, &Event{Type: TypeEscrowReleased, RecordID: "esc_1", Payer: alice, Payee: bob, Amount: "20.00"})

	list, err := log.GetByRecord(ctx, "esc_1")
	if err != nil {
		t.Fatalf("GetByRecord failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Type != TypeEscrowCreated || list[1].Type != TypeEscrowReleased {
		t.Errorf("unexpected order: %s, %s", list[0].Type, list[1].Type)
	}
}

func TestListByAddress(t *testing.T) {
	log := NewLog(NewMemoryStore())
	ctx := context.Background()

	log.Append(ctx, &Event{Type: TypePaymentCreated, RecordID: "pay_1", Payer: alice, Payee: bob, Amount: "1.00"})
	log.Append(ctx, &Event{Type: TypePaymentCreated, RecordID: "pay_2", Payer: carol, Payee: alice, Amount: "2.00"})
	log.Append(ctx, &Event{Type: TypePaymentCreated, RecordID: "pay_3", Payer: carol, Payee: bob, Amount: "3.00"})

	list, err := log.ListByAddress(ctx, alice, 10)
	if err != nil {
		t.Fatalf("ListByAddress failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	// Newest first
	if list[0].RecordID != "pay_2" {
		t.Errorf("list[0].RecordID = %s, want pay_2", list[0].RecordID)
	}
}

func TestListAfterCursor(t *testing.T) {
	log := NewLog(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log.Append(ctx, &Event{Type: TypePaymentCreated, RecordID: "pay", Payer: alice, Payee: bob, Amount: "1.00"})
	}

	list, err := log.ListAfter(ctx, 2, 10)
	if err != nil {
		t.Fatalf("ListAfter failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Seq != 3 {
		t.Errorf("list[0].Seq = %d, want 3", list[0].Seq)
	}

	// Limit applies
	list, _ = log.ListAfter(ctx, 0, 2)
	if len(list) != 2 {
		t.Errorf("len = %d with limit 2, want 2", len(list))
	}
}

func TestOpenCustody(t *testing.T) {
	events := []*Event{
		{Seq: 1, Type: TypeEscrowCreated, RecordID: "esc_1", Amount: "10.00"},
		{Seq: 2, Type: TypeEscrowCreated, RecordID: "esc_2", Amount: "20.00"},
		{Seq: 3, Type: TypeEscrowCreated, RecordID: "esc_3", Amount: "30.00"},
		{Seq: 4, Type: TypeEscrowReleased, RecordID: "esc_1", Amount: "10.00"},
		{Seq: 5, Type: TypeEscrowDisputed, RecordID: "esc_2", Amount: "20.00"},
		{Seq: 6, Type: TypeEscrowResolved, RecordID: "esc_3", Amount: "30.00", Outcome: OutcomeRefundedToPayer},
	}

	open := OpenCustody(events)
	if len(open) != 1 {
		t.Fatalf("len(open) = %d, want 1", len(open))
	}
	// Disputed escrows still hold custody
	if _, ok := open["esc_2"]; !ok {
		t.Error("esc_2 should remain in custody while disputed")
	}
}

func TestFailedCredits(t *testing.T) {
	events := []*Event{
		{Seq: 1, Type: TypePaymentCreated, RecordID: "pay_1", Amount: "10.00"},
		{Seq: 2, Type: TypeCreditFailed, RecordID: "pay_1", Payee: bob, Amount: "9.75"},
		{Seq: 3, Type: TypeEscrowReleased, RecordID: "esc_1", Amount: "20.00"},
	}

	failed := FailedCredits(events)
	if len(failed) != 1 {
		t.Fatalf("len(failed) = %d, want 1", len(failed))
	}
	if failed[0].RecordID != "pay_1" || failed[0].Payee != bob {
		t.Errorf("failed credit = %+v", failed[0])
	}

	// A failed credit never reopens custody
	if open := OpenCustody(events); len(open) != 0 {
		t.Errorf("OpenCustody = %v, want empty", open)
	}
}
