package payment

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

// NewPostgresStore creates a new PostgreSQL-backed payment store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (id, payer, payee, gross, fee, net, memo, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5::NUMERIC(20,6), $6::NUMERIC(20,6), $7, $8)
	`, pay.ID, pay.Payer, pay.Payee, pay.Gross, pay.Fee, pay.Net, pay.Memo, pay.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	pay := &Payment{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, payer, payee, gross, fee, net, COALESCE(memo, ''), created_at
		FROM payments WHERE id = $1
	`, id).Scan(&pay.ID, &pay.Payer, &pay.Payee, &pay.Gross, &pay.Fee, &pay.Net, &pay.Memo, &pay.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pay, nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, address string, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payer, payee, gross, fee, net, COALESCE(memo, ''), created_at
		FROM payments
		WHERE payer = $1 OR payee = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Payment
	for rows.Next() {
		pay := &Payment{}
		if err := rows.Scan(&pay.ID, &pay.Payer, &pay.Payee, &pay.Gross, &pay.Fee, &pay.Net, &pay.Memo, &pay.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}
