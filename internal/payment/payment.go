// Package payment implements direct, immediately settled transfers.
//
// A payment debits the payer's full gross amount, records the transfer, and
// only then credits the payee (net of fee) and the fee recipient. The record
// and ledger state are final before any receiving side observes the funds.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cardlinkhq/settle/internal/events"
	"github.com/cardlinkhq/settle/internal/guard"
	"github.com/cardlinkhq/settle/internal/idgen"
	"github.com/cardlinkhq/settle/internal/ledger"
	"github.com/cardlinkhq/settle/internal/metrics"
	"github.com/cardlinkhq/settle/internal/money"
	"github.com/cardlinkhq/settle/internal/platform"
	"github.com/cardlinkhq/settle/internal/traces"
)

var ErrNotFound = errors.New("payment not found")

// Payment is an immutable record of a settled transfer.
type Payment struct {
	ID        string    `json:"id"`
	Payer     string    `json:"payer"`
	Payee     string    `json:"payee"`
	Gross     string    `json:"gross"`
	Fee       string    `json:"fee"`
	Net       string    `json:"net"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PayerAddress implements guard.Participant
func (p *Payment) PayerAddress() string { return p.Payer }

// PayeeAddress implements guard.Participant
func (p *Payment) PayeeAddress() string { return p.Payee }

// Store persists payment records
type Store interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	ListByParty(ctx context.Context, address string, limit int) ([]*Payment, error)
}

// CreateRequest describes a payment to execute. Value is the amount the
// caller actually commits from their balance; it must equal Amount exactly.
type CreateRequest struct {
	Payee  string
	Amount string
	Value  string
	Memo   string
}

// Service executes payments against the ledger
type Service struct {
	store    Store
	ledger   *ledger.Ledger
	platform *platform.Config
	log      *events.Log
	locks    *guard.Locks
	logger   *slog.Logger
	nonce    atomic.Uint64
}

// NewService creates a payment service
func NewService(store Store, l *ledger.Ledger, p *platform.Config, log *events.Log, locks *guard.Locks, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   l,
		platform: p,
		log:      log,
		locks:    locks,
		logger:   logger,
	}
}

// Create executes a payment from caller to req.Payee.
//
// Ordering: all checks run first, the payer debit and the stored record come
// next, and the payee and fee-recipient credits land last. The record's lock
// stays held through the credits so a hook calling back into this payment is
// rejected rather than observed mid-flight.
func (s *Service) Create(ctx context.Context, caller string, req CreateRequest) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "payment.create",
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

	fee, net, err := s.platform.ComputeFee(req.Amount)
	if err != nil {
		return nil, err
	}

	id := idgen.Derive("pay_", payer, s.nonce.Add(1), time.Now().UnixNano())
	span.SetAttributes(traces.PaymentID(id))

	if err := s.locks.Acquire(id); err != nil {
		metrics.ReentrancyRejectionsTotal.Inc()
		return nil, err
	}
	defer s.locks.Release(id)

	// Effects
	if err := s.ledger.Debit(ctx, payer, req.Amount, id, "payment_gross"); err != nil {
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	p := &Payment{
		ID:        id,
		Payer:     payer,
		Payee:     payee,
		Gross:     req.Amount,
		Fee:       fee,
		Net:       net,
		Memo:      req.Memo,
		CreatedAt: time.Now(),
	}
	if err := s.store.Insert(ctx, p); err != nil {
		// Put the debit back; the payment never existed.
		if rerr := s.ledger.Credit(ctx, payer, req.Amount, id, "payment_reversal"); rerr != nil {
			s.logger.Error("payment reversal failed", "payment", id, "error", rerr)
		}
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := s.log.Append(ctx, &events.Event{
		Type:     events.TypePaymentCreated,
		RecordID: id,
		Payer:    payer,
		Payee:    payee,
		Amount:   req.Amount,
		Fee:      fee,
		Net:      net,
		Actor:    payer,
	}); err != nil {
		s.logger.Error("event append failed", "payment", id, "error", err)
	}

	// Interactions
	if money.IsPositive(net) {
		if err := s.ledger.Credit(ctx, payee, net, id, "payment_net"); err != nil {
			s.logger.Error("payee credit failed", "payment", id, "error", err)
			s.reportFailedCredit(ctx, id, payer, payee, net)
		}
	}
	if money.IsPositive(fee) {
		if err := s.ledger.Credit(ctx, s.platform.FeeRecipient(), fee, id, "payment_fee"); err != nil {
			s.logger.Error("fee credit failed", "payment", id, "error", err)
			s.reportFailedCredit(ctx, id, payer, s.platform.FeeRecipient(), fee)
		}
	}

	metrics.PaymentsTotal.WithLabelValues("settled").Inc()
	if feeUnits, ok := money.Parse(fee); ok {
		f, _ := new(big.Float).SetInt(feeUnits).Float64()
		metrics.FeesCollectedMicros.Add(f)
	}

	s.logger.Info("payment settled",
		"payment", id,
		"payer", payer,
		"payee", payee,
		"gross", req.Amount,
		"fee", fee,
		"net", net,
	)

	return p, nil
}

// reportFailedCredit records a credit that never landed so the custody audit
// can flag it. The payer's debit already committed; the record stands.
func (s *Service) reportFailedCredit(ctx context.Context, id, payer, target, amount string) {
	if err := s.log.Append(ctx, &events.Event{
		Type:     events.TypeCreditFailed,
		RecordID: id,
		Payer:    payer,
		Payee:    target,
		Amount:   amount,
	}); err != nil {
		s.logger.Error("failed-credit event append failed", "payment", id, "error", err)
	}
}

// Get returns a payment by ID
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns payments where address is payer or payee, newest first
func (s *Service) ListByParty(ctx context.Context, address string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByParty(ctx, strings.ToLower(address), limit)
}
