package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// Registry errors.
var (
	ErrPinUnavailable = errors.New("gpio: pin unavailable")
	ErrUnknownRole    = errors.New("gpio: unknown pin role")
)

type entry struct {
	mu     sync.Mutex
	number int
	pin    Pin // opened lazily under mu
}

// Registry owns one exclusive-access guard per pin role. It is constructed
// once and shared by every component that touches hardware.
type Registry struct {
	backend Backend
	entries [numRoles]*entry
}

// NewRegistry creates a registry over backend using the validated mapping.
// Pins are acquired on first use so a missing line only fails the operations
// that need it.
func NewRegistry(backend Backend, m Mapping) (*Registry, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{backend: backend}
	for _, role := range Roles() {
		r.entries[role] = &entry{number: m[role]}
	}
	return r, nil
}

// With runs fn while holding the lock for role. The lock covers exactly one
// role; fn must not call With again, and must not sleep beyond what a single
// electrical transaction needs.
func (r *Registry) With(role Role, fn func(Pin) error) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, int(role))
	}
	e := r.entries[role]
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pin == nil {
		p, err := r.backend.Open(e.number)
		if err != nil {
			return fmt.Errorf("%w: %s pin %d: %w", ErrPinUnavailable, role, e.number, err)
		}
		e.pin = p
	}
	return fn(e.pin)
}

// Number returns the physical pin number assigned to role.
func (r *Registry) Number(role Role) int {
	if !role.Valid() {
		return -1
	}
	return r.entries[role].number
}

// Close releases every acquired pin and then the backend.
func (r *Registry) Close() error {
	var errs []error
	for _, role := range Roles() {
		e := r.entries[role]
		e.mu.Lock()
		if e.pin != nil {
			if err := e.pin.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s pin %d: %w", role, e.number, err))
			}
			e.pin = nil
		}
		e.mu.Unlock()
	}
	if err := r.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	return errors.Join(errs...)
}
