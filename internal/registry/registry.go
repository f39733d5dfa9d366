package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the token decimal exponent assumed when none is given.
const DefaultDecimals int32 = 6

var (
	// ErrIndexOutOfRange indicates a position outside the current listing.
	ErrIndexOutOfRange = errors.New("registry: index out of range")
	// ErrDuplicatePool indicates an add for an id that is already tracked.
	ErrDuplicatePool = errors.New("registry: pool already tracked")
	// ErrPoolNotFound indicates a lookup for an id that is not tracked.
	ErrPoolNotFound = errors.New("registry: pool not found")
	// ErrPoolMoved indicates the position no longer holds the expected pool.
	ErrPoolMoved = errors.New("registry: pool at position changed")
)

// ValidationError describes a pool definition rejected before it reaches the registry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PoolConfig is the monitoring policy of one pool.
type PoolConfig struct {
	ID        string
	Name      string
	Min       decimal.Decimal
	Max       decimal.Decimal
	Decimals0 int32
	Decimals1 int32
	Invert    bool
	AddedAt   time.Time
}

// Outside reports whether price falls outside the inclusive [Min, Max] band.
func (p PoolConfig) Outside(price decimal.Decimal) bool {
	return price.LessThan(p.Min) || price.GreaterThan(p.Max)
}

// NewPoolConfig builds a config with default decimals.
func NewPoolConfig(id, name string, lower, upper decimal.Decimal, invert bool) PoolConfig {
	return PoolConfig{
		ID:        strings.TrimSpace(id),
		Name:      strings.TrimSpace(name),
		Min:       lower,
		Max:       upper,
		Decimals0: DefaultDecimals,
		Decimals1: DefaultDecimals,
		Invert:    invert,
	}
}

// ParseBounds parses user supplied bounds.
func ParseBounds(minStr, maxStr string) (decimal.Decimal, decimal.Decimal, error) {
	lower, err := decimal.NewFromString(strings.TrimSpace(minStr))
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, &ValidationError{Field: "min", Reason: fmt.Sprintf("%q is not a number", strings.TrimSpace(minStr))}
	}
	upper, err := decimal.NewFromString(strings.TrimSpace(maxStr))
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, &ValidationError{Field: "max", Reason: fmt.Sprintf("%q is not a number", strings.TrimSpace(maxStr))}
	}
	if err := validateBounds(lower, upper); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return lower, upper, nil
}

// ValidatePool checks a config before it is added.
func ValidatePool(p PoolConfig) error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if p.Decimals0 < 0 || p.Decimals1 < 0 {
		return &ValidationError{Field: "decimals", Reason: "must not be negative"}
	}
	return validateBounds(p.Min, p.Max)
}

func validateBounds(lower, upper decimal.Decimal) error {
	if lower.GreaterThan(upper) {
		return &ValidationError{Field: "range", Reason: fmt.Sprintf("min %s is greater than max %s", lower, upper)}
	}
	return nil
}

// Registry keeps pool configs in insertion order. It is not safe for
// concurrent use; callers serialise access.
type Registry struct {
	pools []PoolConfig
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add appends a pool. Ids are unique.
func (r *Registry) Add(p PoolConfig) error {
	if r.indexOf(p.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, p.ID)
	}
	r.pools = append(r.pools, p)
	return nil
}

// Edit replaces the bounds of the pool at index.
func (r *Registry) Edit(index int, lower, upper decimal.Decimal) (PoolConfig, error) {
	if err := r.checkIndex(index); err != nil {
		return PoolConfig{}, err
	}
	if err := validateBounds(lower, upper); err != nil {
		return PoolConfig{}, err
	}
	r.pools[index].Min = lower
	r.pools[index].Max = upper
	return r.pools[index], nil
}

// Remove deletes the pool at index and returns it.
func (r *Registry) Remove(index int) (PoolConfig, error) {
	if err := r.checkIndex(index); err != nil {
		return PoolConfig{}, err
	}
	removed := r.pools[index]
	r.pools = append(r.pools[:index], r.pools[index+1:]...)
	return removed, nil
}

// List returns a copy of the pools in insertion order.
func (r *Registry) List() []PoolConfig {
	out := make([]PoolConfig, len(r.pools))
	copy(out, r.pools)
	return out
}

// Get looks a pool up by id.
func (r *Registry) Get(id string) (PoolConfig, error) {
	idx := r.indexOf(id)
	if idx < 0 {
		return PoolConfig{}, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return r.pools[idx], nil
}

// At returns the pool at index.
func (r *Registry) At(index int) (PoolConfig, error) {
	if err := r.checkIndex(index); err != nil {
		return PoolConfig{}, err
	}
	return r.pools[index], nil
}

// Len returns the number of tracked pools.
func (r *Registry) Len() int {
	return len(r.pools)
}

func (r *Registry) checkIndex(index int) error {
	if index < 0 || index >= len(r.pools) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index+1, len(r.pools))
	}
	return nil
}

func (r *Registry) indexOf(id string) int {
	for i, p := range r.pools {
		if p.ID == id {
			return i
		}
	}
	return -1
}
