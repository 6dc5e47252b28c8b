// Package escrow implements held transfers with a dispute path.
//
// Flow:
//  1. Payer funds the escrow → funds moved: available → held custody
//  2. Payer releases early, or either party releases at/after the release time
//  3. Payee may refund the payer at any point before a terminal state
//  4. Either party may dispute before the release time, freezing auto-release
//  5. The arbiter resolves a dispute to one side or the other
//
// Every transition runs checks first, moves the record and custody to their
// final state next, and credits the receiving side last. The per-record lock
// is held across all three phases, so a credit hook that calls back into the
// same escrow is rejected.
package escrow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cardlinkhq/settle/internal/events"
	"github.com/cardlinkhq/settle/internal/guard"
	"github.com/cardlinkhq/settle/internal/idgen"
	"github.com/cardlinkhq/settle/internal/ledger"
	"github.com/cardlinkhq/settle/internal/metrics"
	"github.com/cardlinkhq/settle/internal/money"
	"github.com/cardlinkhq/settle/internal/traces"
)

var (
	ErrNotFound              = errors.New("escrow not found")
	ErrInvalidState          = errors.New("invalid escrow state for this operation")
	ErrReleaseTimeNotReached = errors.New("release time not reached")
	ErrInvalidOutcome        = errors.New("resolution outcome must release to payee or refund to payer")
	ErrUnknownParty          = errors.New("party is not a registered participant")
)

// State represents the lifecycle state of an escrow.
type State string

const (
	StateFunded   State = "funded"   // Custody held, awaiting release or dispute
	StateReleased State = "released" // Funds sent to payee
	StateRefunded State = "refunded" // Funds returned to payer
	StateDisputed State = "disputed" // Frozen, awaiting arbiter
	StateResolved State = "resolved" // Arbiter decided the dispute
)

// Resolution outcomes.
const (
	OutcomeReleasedToPayee = events.OutcomeReleasedToPayee
	OutcomeRefundedToPayer = events.OutcomeRefundedToPayer
)

// Escrow is a held transfer record. No platform fee applies to escrows:
// the full amount moves to exactly one side at the terminal transition.
type Escrow struct {
	ID          string     `json:"id"`
	Payer       string     `json:"payer"`
	Payee       string     `json:"payee"`
	Amount      string     `json:"amount"`
	Terms       string     `json:"terms,omitempty"`
	State       State      `json:"state"`
	ReleaseTime time.Time  `json:"releaseTime,omitempty"` // zero = payer-only release
	DisputedAt  *time.Time `json:"disputedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PayerAddress implements guard.Participant
func (e *Escrow) PayerAddress() string { return e.Payer }

// PayeeAddress implements guard.Participant
func (e *Escrow) PayeeAddress() string { return e.Payee }

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.State {
	case StateReleased, StateRefunded, StateResolved:
		return true
	}
	return false
}

// Store persists escrow records.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByParty(ctx context.Context, address string, limit int) ([]*Escrow, error)
}

// ArbiterPolicy decides who may resolve a disputed escrow.
type ArbiterPolicy interface {
	CanResolve(e *Escrow, caller string) bool
}

// SingleArbiter authorizes exactly one configured arbiter address.
type SingleArbiter struct {
	Address string
}

func (a SingleArbiter) CanResolve(_ *Escrow, caller string) bool {
	return strings.EqualFold(caller, a.Address)
}

// CreateRequest describes an escrow to fund. Value must equal Amount.
type CreateRequest struct {
	Payee       string
	Amount      string
	Value       string
	Terms       string
	ReleaseTime time.Time // zero = payer-only release, no timed window
}

// PartyDirectory reports whether an address has registered with the
// participant directory.
type PartyDirectory interface {
	IsKnown(ctx context.Context, address string) bool
}

// Service implements the escrow state machine.
type Service struct {
	store     Store
	ledger    *ledger.Ledger
	log       *events.Log
	locks     *guard.Locks
	arbiter   ArbiterPolicy
	directory PartyDirectory
	logger    *slog.Logger
	nonce     atomic.Uint64
}

// NewService creates an escrow service.
func NewService(store Store, l *ledger.Ledger, log *events.Log, locks *guard.Locks, arbiter ArbiterPolicy, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  l,
		log:     log,
		locks:   locks,
		arbiter: arbiter,
		logger:  logger,
	}
}

// RequireRegisteredParties gates escrow creation on the participant
// directory. Nil (the default) leaves escrow open to any valid address.
func (s *Service) RequireRegisteredParties(d PartyDirectory) {
	s.directory = d
}

// Create funds a new escrow from the caller's balance.
func (s *Service) Create(ctx context.Context, caller string, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create",
		traces.Caller(caller),
		traces.Amount(req.Amount),
	)
	defer span.End()

	payer := strings.ToLower(caller)
	payee := strings.ToLower(req.Payee)

	// Checks
	if err := guard.RequireAddress(payer); err != nil {
		return nil, err
	}
	if err := guard.RequireAddress(payee); err != nil {
		return nil, err
	}
	if err := guard.RequireDistinctParties(payer, payee); err != nil {
		return nil, err
	}
	if err := guard.RequirePositiveAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := guard.RequireValue(req.Value, req.Amount); err != nil {
		return nil, err
	}
	if !req.ReleaseTime.IsZero() && req.ReleaseTime.Before(time.Now()) {
		return nil, ErrInvalidState
	}
	if s.directory != nil {
		if !s.directory.IsKnown(ctx, payer) || !s.directory.IsKnown(ctx, payee) {
			return nil, ErrUnknownParty
		}
	}

	id := idgen.Derive("esc_", payer, s.nonce.Add(1), time.Now().UnixNano())
	span.SetAttributes(traces.EscrowID(id))

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	// Effects: move the gross amount into custody, then persist the record
	if err := s.ledger.Hold(ctx, payer, req.Amount, id); err != nil {
		return nil, err
	}

	amountUnits, _ := money.Parse(req.Amount)
	now := time.Now()
	e := &Escrow{
		ID:          id,
		Payer:       payer,
		Payee:       payee,
		Amount:      money.Format(amountUnits),
		Terms:       req.Terms,
		State:       StateFunded,
		ReleaseTime: req.ReleaseTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		if _, _, rerr := s.ledger.RefundHold(ctx, id); rerr != nil {
			s.logger.Error("custody refund after failed create", "escrow", id, "error", rerr)
		}
		return nil, err
	}

	s.appendEvent(ctx, events.TypeEscrowCreated, e, payer, "")
	metrics.EscrowTransitionsTotal.WithLabelValues(string(StateFunded)).Inc()
	metrics.EscrowsFunded.Inc()

	s.logger.Info("escrow funded",
		"escrow", id,
		"payer", payer,
		"payee", payee,
		"amount", e.Amount,
		"releaseTime", e.ReleaseTime,
	)

	return e, nil
}

// Release sends the held funds to the payee. The payer may release at any
// time; once the release time passes, either participant may. An escrow
// without a release time can only ever be released by the payer.
func (s *Service) Release(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.release", traces.EscrowID(id), traces.Caller(caller))
	defer span.End()

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Checks
	if e.State != StateFunded {
		return nil, ErrInvalidState
	}
	if err := guard.RequireParticipant(e, caller); err != nil {
		return nil, err
	}
	if !strings.EqualFold(caller, e.Payer) {
		if e.ReleaseTime.IsZero() {
			return nil, guard.ErrNotAuthorized
		}
		if time.Now().Before(e.ReleaseTime) {
			return nil, ErrReleaseTimeNotReached
		}
	}

	return s.payOut(ctx, e, StateReleased, events.TypeEscrowReleased, caller, "")
}

// Refund returns the held funds to the payer. Only the payee may refund, and
// a disputed escrow may still be refunded: giving the money back always
// settles the dispute in the payer's favor.
func (s *Service) Refund(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.refund", traces.EscrowID(id), traces.Caller(caller))
	defer span.End()

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.State != StateFunded && e.State != StateDisputed {
		return nil, ErrInvalidState
	}
	if !strings.EqualFold(caller, e.Payee) {
		return nil, guard.ErrNotAuthorized
	}

	return s.payBack(ctx, e, StateRefunded, events.TypeEscrowRefunded, caller, "")
}

// Dispute freezes a funded escrow. Either participant may dispute, but only
// while the escrow is funded and the release window has not opened.
func (s *Service) Dispute(ctx context.Context, id, caller string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.dispute", traces.EscrowID(id), traces.Caller(caller))
	defer span.End()

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.State != StateFunded {
		return nil, ErrInvalidState
	}
	if err := guard.RequireParticipant(e, caller); err != nil {
		return nil, err
	}
	if !e.ReleaseTime.IsZero() && !time.Now().Before(e.ReleaseTime) {
		return nil, ErrInvalidState
	}

	now := time.Now()
	e.State = StateDisputed
	e.DisputedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, events.TypeEscrowDisputed, e, caller, "")
	metrics.EscrowTransitionsTotal.WithLabelValues(string(StateDisputed)).Inc()

	s.logger.Info("escrow disputed", "escrow", e.ID, "by", strings.ToLower(caller))
	return e, nil
}

// Resolve settles a disputed escrow. Only a caller the arbiter policy
// authorizes may resolve, and only to one of the two defined outcomes.
func (s *Service) Resolve(ctx context.Context, id, caller, outcome string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.resolve", traces.EscrowID(id), traces.Caller(caller))
	defer span.End()

	if outcome != OutcomeReleasedToPayee && outcome != OutcomeRefundedToPayer {
		return nil, ErrInvalidOutcome
	}

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.State != StateDisputed {
		return nil, ErrInvalidState
	}
	if !s.arbiter.CanResolve(e, caller) {
		return nil, guard.ErrNotAuthorized
	}

	if outcome == OutcomeReleasedToPayee {
		return s.payOut(ctx, e, StateResolved, events.TypeEscrowResolved, caller, outcome)
	}
	return s.payBack(ctx, e, StateResolved, events.TypeEscrowResolved, caller, outcome)
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns escrows involving an address, newest first.
func (s *Service) ListByParty(ctx context.Context, address string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByParty(ctx, strings.ToLower(address), limit)
}

// payOut moves custody to the payee side: record goes terminal, the hold is
// settled, and only then does the payee receive the full amount. Escrows
// carry no platform fee.
func (s *Service) payOut(ctx context.Context, e *Escrow, state State, eventType, actor, outcome string) (*Escrow, error) {
	now := time.Now()
	e.State = state
	e.Outcome = outcome
	e.ResolvedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	if _, _, err := s.ledger.SettleHold(ctx, e.ID); err != nil {
		s.logger.Error("custody settle failed", "escrow", e.ID, "error", err)
		return nil, err
	}

	s.appendEvent(ctx, eventType, e, actor, outcome)
	s.observeTerminal(e, state)

	// Interactions
	if err := s.ledger.Credit(ctx, e.Payee, e.Amount, e.ID, "escrow_release"); err != nil {
		s.logger.Error("payee credit failed", "escrow", e.ID, "error", err)
		s.reportFailedCredit(ctx, e, e.Payee)
	}

	s.logger.Info("escrow paid out",
		"escrow", e.ID,
		"state", state,
		"payee", e.Payee,
		"amount", e.Amount,
	)
	return e, nil
}

// payBack returns custody to the payer in full. No fee applies on refunds.
func (s *Service) payBack(ctx context.Context, e *Escrow, state State, eventType, actor, outcome string) (*Escrow, error) {
	now := time.Now()
	e.State = state
	e.Outcome = outcome
	e.ResolvedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	if _, _, err := s.ledger.RefundHold(ctx, e.ID); err != nil {
		s.logger.Error("custody refund failed", "escrow", e.ID, "error", err)
		return nil, err
	}

	s.appendEvent(ctx, eventType, e, actor, outcome)
	s.observeTerminal(e, state)

	s.logger.Info("escrow refunded",
		"escrow", e.ID,
		"state", state,
		"payer", e.Payer,
		"amount", e.Amount,
	)
	return e, nil
}

func (s *Service) appendEvent(ctx context.Context, eventType string, e *Escrow, actor, outcome string) {
	if err := s.log.Append(ctx, &events.Event{
		Type:     eventType,
		RecordID: e.ID,
		Payer:    e.Payer,
		Payee:    e.Payee,
		Amount:   e.Amount,
		Outcome:  outcome,
		Actor:    strings.ToLower(actor),
	}); err != nil {
		s.logger.Error("event append failed", "escrow", e.ID, "type", eventType, "error", err)
	}
}

// reportFailedCredit records a credit that never landed so the custody audit
// can flag it for reconciliation. The hold is already settled at this point.
func (s *Service) reportFailedCredit(ctx context.Context, e *Escrow, target string) {
	if err := s.log.Append(ctx, &events.Event{
		Type:     events.TypeCreditFailed,
		RecordID: e.ID,
		Payer:    e.Payer,
		Payee:    target,
		Amount:   e.Amount,
	}); err != nil {
		s.logger.Error("failed-credit event append failed", "escrow", e.ID, "error", err)
	}
}

func (s *Service) observeTerminal(e *Escrow, state State) {
	metrics.EscrowTransitionsTotal.WithLabelValues(string(state)).Inc()
	metrics.EscrowsFunded.Dec()
	metrics.EscrowDuration.Observe(time.Since(e.CreatedAt).Seconds())
}
