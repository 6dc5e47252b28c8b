package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cardlinkhq/settle/internal/events"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	msg := &Message{Type: events.TypePaymentCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, msg) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{events.TypePaymentCreated, events.TypeEscrowCreated},
	}}

	payment := &Message{Type: events.TypePaymentCreated}
	created := &Message{Type: events.TypeEscrowCreated}
	released := &Message{Type: events.TypeEscrowReleased}

	if !h.shouldSend(client, payment) {
		t.Error("Should receive payment.created events")
	}
	if !h.shouldSend(client, created) {
		t.Error("Should receive escrow.created events")
	}
	if h.shouldSend(client, released) {
		t.Error("Should NOT receive escrow.released events")
	}
}

func TestShouldSend_AddressFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Addresses: []string{"0xwatched"},
	}}

	asPayer := &Message{
		Type:  events.TypePaymentCreated,
		Event: &events.Event{Payer: "0xwatched", Payee: "0xother"},
	}
	asPayee := &Message{
		Type:  events.TypePaymentCreated,
		Event: &events.Event{Payer: "0xsender", Payee: "0xwatched"},
	}
	asActor := &Message{
		Type:  events.TypeEscrowResolved,
		Event: &events.Event{Payer: "0xa", Payee: "0xb", Actor: "0xwatched"},
	}
	unrelated := &Message{
		Type:  events.TypePaymentCreated,
		Event: &events.Event{Payer: "0xother", Payee: "0xanother"},
	}

	if !h.shouldSend(client, asPayer) {
		t.Error("Should match on payer address")
	}
	if !h.shouldSend(client, asPayee) {
		t.Error("Should match on payee address")
	}
	if !h.shouldSend(client, asActor) {
		t.Error("Should match on actor address")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated addresses")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmount: "10.00",
	}}

	large := &Message{
		Type:  events.TypePaymentCreated,
		Event: &events.Event{Amount: "15.000000"},
	}
	small := &Message{
		Type:  events.TypePaymentCreated,
		Event: &events.Event{Amount: "5.000000"},
	}
	exact := &Message{
		Type:  events.TypeEscrowCreated,
		Event: &events.Event{Amount: "10.000000"},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large payment")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small payment")
	}
	if !h.shouldSend(client, exact) {
		t.Error("Amount equal to the floor should pass")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	msg := &Message{Type: events.TypePaymentCreated}
	if !h.shouldSend(client, msg) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NilEvent(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Addresses: []string{"0xwatched"},
		MinAmount: "1.00",
	}}

	// Message without an embedded event should not crash; filters that need
	// event fields are skipped.
	msg := &Message{Type: "server.notice"}
	if !h.shouldSend(client, msg) {
		t.Error("Message without event data should pass through")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Message{Type: events.TypePaymentCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastEngineEvent(&events.Event{
		Seq:       1,
		Type:      events.TypePaymentCreated,
		RecordID:  "pay_abc",
		Payer:     "0xa",
		Payee:     "0xb",
		Amount:    "5.000000",
		CreatedAt: time.Now(),
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants escrow resolutions
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{events.TypeEscrowResolved}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a payment event (should be filtered out)
	h.Broadcast(&Message{Type: events.TypePaymentCreated, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive payment event")
	default:
		// Good - filtered out
	}

	// Send a resolution event (should be received)
	h.Broadcast(&Message{Type: events.TypeEscrowResolved, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive resolution event")
	}
}
