// Package identity keeps the directory of known participants. Registration
// is optional: the engine settles payments between any valid addresses, but
// registered participants get a display name on dashboards and events.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("participant not found")
	ErrAlreadyRegistered = errors.New("participant already registered")
)

// Participant is a registered business account.
type Participant struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Webhook   string    `json:"webhook,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists the participant directory.
type Store interface {
	Register(ctx context.Context, p *Participant) error
	Get(ctx context.Context, address string) (*Participant, error)
	List(ctx context.Context, limit int) ([]*Participant, error)
}

// Directory wraps a Store with address normalization.
type Directory struct {
	store Store
}

// NewDirectory creates a participant directory.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Register adds a participant to the directory.
func (d *Directory) Register(ctx context.Context, p *Participant) error {
	p.Address = strings.ToLower(p.Address)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return d.store.Register(ctx, p)
}

// Get returns a participant by address.
func (d *Directory) Get(ctx context.Context, address string) (*Participant, error) {
	return d.store.Get(ctx, strings.ToLower(address))
}

// IsKnown reports whether the address has registered.
func (d *Directory) IsKnown(ctx context.Context, address string) bool {
	_, err := d.Get(ctx, address)
	return err == nil
}

// List returns registered participants.
func (d *Directory) List(ctx context.Context, limit int) ([]*Participant, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.store.List(ctx, limit)
}
