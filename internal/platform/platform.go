// Package platform holds the engine's singleton fee configuration.
//
// The owner identity is fixed at initialization and never changes; only the
// owner may adjust fee parameters. Fee changes are not retroactive: payments
// compute their fee once, at creation, and record it.
package platform

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/cardlinkhq/settle/internal/money"
)

var (
	ErrNotOwner       = errors.New("caller is not the platform owner")
	ErrInvalidFeeRate = errors.New("fee rate must be between 0 and 10000 basis points")
	ErrInvalidFeeCap  = errors.New("fee cap must be a valid non-negative amount")
)

// basisPointDenominator converts basis points to a fraction (250 bps = 2.5%).
const basisPointDenominator = 10_000

// Config is the owner-mutable platform configuration.
type Config struct {
	mu sync.RWMutex

	owner        string // immutable admin identity, set once
	rateBps      int64
	capUnits     *big.Int // absolute fee cap in smallest units
	feeRecipient string
}

// View is a read-only snapshot of the configuration.
type View struct {
	Owner        string `json:"owner"`
	FeeRateBps   int64  `json:"feeRateBps"`
	FeeCap       string `json:"feeCap"`
	FeeRecipient string `json:"feeRecipient"`
}

// New creates the platform configuration. owner and feeRecipient are
// addresses; feeCap is a decimal amount string.
func New(owner string, rateBps int64, feeCap, feeRecipient string) (*Config, error) {
	if rateBps < 0 || rateBps > basisPointDenominator {
		return nil, ErrInvalidFeeRate
	}
	capUnits, ok := money.Parse(feeCap)
	if !ok {
		return nil, ErrInvalidFeeCap
	}
	return &Config{
		owner:        strings.ToLower(owner),
		rateBps:      rateBps,
		capUnits:     capUnits,
		feeRecipient: strings.ToLower(feeRecipient),
	}, nil
}

// Owner returns the immutable admin identity.
func (c *Config) Owner() string {
	return c.owner
}

// IsOwner reports whether caller is the platform owner.
func (c *Config) IsOwner(caller string) bool {
	return strings.EqualFold(caller, c.owner)
}

// FeeRecipient returns the current fee recipient address.
func (c *Config) FeeRecipient() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeRecipient
}

// Snapshot returns the current configuration values.
func (c *Config) Snapshot() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View{
		Owner:        c.owner,
		FeeRateBps:   c.rateBps,
		FeeCap:       money.Format(c.capUnits),
		FeeRecipient: c.feeRecipient,
	}
}

// SetFees updates the fee rate, cap, and recipient. Only the owner may call
// this; changes apply to payments created afterwards.
func (c *Config) SetFees(caller string, rateBps int64, feeCap, feeRecipient string) error {
	if !c.IsOwner(caller) {
		return ErrNotOwner
	}
	if rateBps < 0 || rateBps > basisPointDenominator {
		return ErrInvalidFeeRate
	}
	capUnits, ok := money.Parse(feeCap)
	if !ok {
		return ErrInvalidFeeCap
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateBps = rateBps
	c.capUnits = capUnits
	if feeRecipient != "" {
		c.feeRecipient = strings.ToLower(feeRecipient)
	}
	return nil
}

// ComputeFee splits a gross amount into (fee, net).
//
//	fee = min(gross * rateBps / 10000, cap)
//	net = gross - fee
//
// The division truncates, and the cap is absolute, so fee can never exceed
// gross.
func (c *Config) ComputeFee(gross string) (fee, net string, err error) {
	grossUnits, ok := money.Parse(gross)
	if !ok || grossUnits.Sign() <= 0 {
		return "", "", ErrInvalidFeeCap
	}

	c.mu.RLock()
	rateBps := c.rateBps
	capUnits := new(big.Int).Set(c.capUnits)
	c.mu.RUnlock()

	feeUnits := new(big.Int).Mul(grossUnits, big.NewInt(rateBps))
	feeUnits.Quo(feeUnits, big.NewInt(basisPointDenominator))
	if feeUnits.Cmp(capUnits) > 0 {
		feeUnits = capUnits
	}

	netUnits := new(big.Int).Sub(grossUnits, feeUnits)
	return money.Format(feeUnits), money.Format(netUnits), nil
}
