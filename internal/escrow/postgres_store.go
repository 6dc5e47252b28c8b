package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func zeroableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, payer, payee, amount, terms, state, release_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, $6, $7, $8, $9)
	`, e.ID, e.Payer, e.Payee, e.Amount,
		nullString(e.Terms), string(e.State), zeroableTime(e.ReleaseTime), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, payer, payee, amount, COALESCE(terms, ''), state,
		       release_time, disputed_at, resolved_at, COALESCE(outcome, ''), created_at, updated_at
		FROM escrows WHERE id = $1
	`, id)
	return scanEscrow(row)
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			state       = $2,
			disputed_at = $3,
			resolved_at = $4,
			outcome     = $5,
			updated_at  = $6
		WHERE id = $1
	`, e.ID, string(e.State), nullTime(e.DisputedAt), nullTime(e.ResolvedAt), nullString(e.Outcome), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, address string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payer, payee, amount, COALESCE(terms, ''), state,
		       release_time, disputed_at, resolved_at, COALESCE(outcome, ''), created_at, updated_at
		FROM escrows
		WHERE payer = $1 OR payee = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row scanner) (*Escrow, error) {
	e := &Escrow{}
	var state string
	var releaseTime, disputedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.Payer, &e.Payee, &e.Amount, &e.Terms, &state,
		&releaseTime, &disputedAt, &resolvedAt, &e.Outcome, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	if releaseTime.Valid {
		e.ReleaseTime = releaseTime.Time
	}
	if disputedAt.Valid {
		t := disputedAt.Time
		e.DisputedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return e, nil
}
