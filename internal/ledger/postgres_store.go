package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check
var _ Store = (*PostgresStore)(nil)

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a participant's balance
func (p *PostgresStore) GetBalance(ctx context.Context, address string) (*Balance, error) {
	bal := &Balance{Address: address}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, held, total_in, total_out, updated_at
		FROM balances WHERE address = $1
	`, address).Scan(&bal.Available, &bal.Held, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return newBalance(address), nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Deposit credits a participant's balance, idempotent per reference.
// The unique index on deposit references turns replays into ErrDuplicateDeposit.
func (p *PostgresStore) Deposit(ctx context.Context, address, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deposits (reference, address, amount, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), NOW())
	`, reference, address, amount)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateDeposit
		}
		return fmt.Errorf("failed to record deposit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $2::NUMERIC(20,6), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(20,6),
			total_in   = balances.total_in  + $2::NUMERIC(20,6),
			updated_at = NOW()
	`, address, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'deposit', $3::NUMERIC(20,6), $4, 'deposit', NOW())
	`, generateID(), address, amount, reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) HasDeposit(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM deposits WHERE reference = $1)
	`, reference).Scan(&exists)
	return exists, err
}

// Debit removes spendable funds with row-level locking.
// The CHECK constraint on available >= 0 prevents overdraft at the DB level.
func (p *PostgresStore) Debit(ctx context.Context, address, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $2::NUMERIC(20,6),
			total_out  = total_out + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE address = $1
	`, address, amount)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23514" {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'debit', $3::NUMERIC(20,6), $4, $5, NOW())
	`, generateID(), address, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Credit adds spendable funds to a participant's balance
func (p *PostgresStore) Credit(ctx context.Context, address, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $2::NUMERIC(20,6), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(20,6),
			total_in   = balances.total_in  + $2::NUMERIC(20,6),
			updated_at = NOW()
	`, address, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'credit', $3::NUMERIC(20,6), $4, $5, NOW())
	`, generateID(), address, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Hold moves spendable funds into custody for a record
func (p *PostgresStore) Hold(ctx context.Context, address, amount, recordID string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $2::NUMERIC(20,6),
			held       = held + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE address = $1
	`, address, amount)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23514" {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custody_holds (record_id, address, amount, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), NOW())
	`, recordID, address, amount)
	if err != nil {
		return fmt.Errorf("failed to record hold: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'hold', $3::NUMERIC(20,6), $4, 'custody_hold', NOW())
	`, generateID(), address, amount, recordID)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// SettleHold removes custody for a record and counts it as spent
func (p *PostgresStore) SettleHold(ctx context.Context, recordID string) (string, string, error) {
	return p.closeHold(ctx, recordID, true)
}

// RefundHold returns custody for a record to the holder's available balance
func (p *PostgresStore) RefundHold(ctx context.Context, recordID string) (string, string, error) {
	return p.closeHold(ctx, recordID, false)
}

func (p *PostgresStore) closeHold(ctx context.Context, recordID string, settle bool) (string, string, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	var address, amount string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM custody_holds WHERE record_id = $1
		RETURNING address, amount
	`, recordID).Scan(&address, &amount)
	if err == sql.ErrNoRows {
		return "", "", ErrHoldNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to close hold: %w", err)
	}

	entryType := "hold_settled"
	description := "custody_settled"
	query := `
		UPDATE balances SET
			held       = held - $2::NUMERIC(20,6),
			total_out  = total_out + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE address = $1
	`
	if !settle {
		entryType = "hold_refunded"
		description = "custody_refunded"
		query = `
			UPDATE balances SET
				held       = held - $2::NUMERIC(20,6),
				available  = available + $2::NUMERIC(20,6),
				updated_at = NOW()
			WHERE address = $1
		`
	}

	result, err := tx.ExecContext(ctx, query, address, amount)
	if err != nil {
		return "", "", fmt.Errorf("failed to update balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return "", "", ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, $6, NOW())
	`, generateID(), address, entryType, amount, recordID, description)
	if err != nil {
		return "", "", fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return address, amount, nil
}

func (p *PostgresStore) HeldFor(ctx context.Context, recordID string) (string, string, error) {
	var address, amount string
	err := p.db.QueryRowContext(ctx, `
		SELECT address, amount FROM custody_holds WHERE record_id = $1
	`, recordID).Scan(&address, &amount)
	if err == sql.ErrNoRows {
		return "", "", ErrHoldNotFound
	}
	if err != nil {
		return "", "", err
	}
	return address, amount, nil
}

func (p *PostgresStore) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, amount, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &e.Amount, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
