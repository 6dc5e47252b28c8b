package events

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, event *Event) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO engine_events (type, record_id, payer, payee, amount, fee, net, outcome, actor, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), NULLIF($6, '')::NUMERIC(20,6), NULLIF($7, '')::NUMERIC(20,6), $8, $9, $10)
		RETURNING seq
	`, event.Type, event.RecordID, event.Payer, event.Payee, event.Amount,
		event.Fee, event.Net, event.Outcome, event.Actor, event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `seq, type, record_id, payer, payee, amount,
	COALESCE(fee::TEXT, ''), COALESCE(net::TEXT, ''), COALESCE(outcome, ''), COALESCE(actor, ''), created_at`

func (p *PostgresStore) GetByRecord(ctx context.Context, recordID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM engine_events
		WHERE record_id = $1
		ORDER BY seq ASC
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (p *PostgresStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM engine_events
		WHERE payer = $1 OR payee = $1
		ORDER BY seq DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (p *PostgresStore) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM engine_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var result []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(
			&e.Seq, &e.Type, &e.RecordID, &e.Payer, &e.Payee, &e.Amount,
			&e.Fee, &e.Net, &e.Outcome, &e.Actor, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
