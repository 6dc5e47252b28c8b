package identity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed participant store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Register(ctx context.Context, participant *Participant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO participants (address, name, webhook, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, participant.Address, participant.Name, participant.Webhook, participant.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to register participant: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, address string) (*Participant, error) {
	participant := &Participant{}
	err := p.db.QueryRowContext(ctx, `
		SELECT address, name, COALESCE(webhook, ''), created_at
		FROM participants WHERE address = $1
	`, address).Scan(&participant.Address, &participant.Name, &participant.Webhook, &participant.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Participant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, name, COALESCE(webhook, ''), created_at
		FROM participants
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Participant
	for rows.Next() {
		participant := &Participant{}
		if err := rows.Scan(&participant.Address, &participant.Name, &participant.Webhook, &participant.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, participant)
	}
	return result, rows.Err()
}
