// Package gpio provides role-keyed, lock-guarded access to the chamber's GPIO pins.
// The real backend uses the Linux GPIO character device.
// The fake backend allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Logic levels.
const (
	Low  = 0
	High = 1
)

// Pin is a single acquired GPIO line that can be switched between input and
// output mode at runtime.
type Pin interface {
	// Output switches the pin to output mode driving the given level.
	Output(level int) error

	// Input switches the pin to input mode with the line pulled up.
	Input() error

	// Value reads the current level of the line.
	Value() (int, error)

	// Close releases the line.
	Close() error
}

// Backend is the platform GPIO subsystem.
type Backend interface {
	// Open acquires the pin with the given BCM number.
	Open(number int) (Pin, error)

	// Close releases backend resources.
	Close() error
}

// Role is a logical pin role. The set is closed.
type Role int

const (
	Sensor Role = iota
	Heater
	Humidifier
	Indicator1
	Indicator2
	Indicator3

	numRoles
)

// Roles returns every role in declaration order.
func Roles() []Role {
	roles := make([]Role, numRoles)
	for i := range roles {
		roles[i] = Role(i)
	}
	return roles
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return r >= 0 && r < numRoles
}

func (r Role) String() string {
	switch r {
	case Sensor:
		return "sensor"
	case Heater:
		return "heater"
	case Humidifier:
		return "humidifier"
	case Indicator1:
		return "indicator1"
	case Indicator2:
		return "indicator2"
	case Indicator3:
		return "indicator3"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Default pin assignments (BCM numbering).
const (
	DefaultPinSensor     = 2
	DefaultPinHeater     = 4
	DefaultPinHumidifier = 17
	DefaultPinIndicator1 = 22
	DefaultPinIndicator2 = 10
	DefaultPinIndicator3 = 27
)

// Mapping assigns a physical pin number to each role.
type Mapping map[Role]int

// DefaultMapping returns the stock wiring of the chamber.
func DefaultMapping() Mapping {
	return Mapping{
		Sensor:     DefaultPinSensor,
		Heater:     DefaultPinHeater,
		Humidifier: DefaultPinHumidifier,
		Indicator1: DefaultPinIndicator1,
		Indicator2: DefaultPinIndicator2,
		Indicator3: DefaultPinIndicator3,
	}
}

// ErrInvalidMapping is returned when a mapping misses a role, names an unknown
// role, or assigns one pin number to two roles.
var ErrInvalidMapping = errors.New("gpio: invalid pin mapping")

// Validate checks that every role has a pin and that pin numbers are distinct.
func (m Mapping) Validate() error {
	seen := make(map[int]Role, len(m))
	for role, number := range m {
		if !role.Valid() {
			return fmt.Errorf("%w: unknown role %d", ErrInvalidMapping, int(role))
		}
		if number < 0 {
			return fmt.Errorf("%w: %s has negative pin %d", ErrInvalidMapping, role, number)
		}
		if other, ok := seen[number]; ok {
			return fmt.Errorf("%w: pin %d assigned to both %s and %s", ErrInvalidMapping, number, other, role)
		}
		seen[number] = role
	}
	for _, role := range Roles() {
		if _, ok := m[role]; !ok {
			return fmt.Errorf("%w: no pin for %s", ErrInvalidMapping, role)
		}
	}
	return nil
}
