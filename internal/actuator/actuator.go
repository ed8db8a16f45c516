// Package actuator switches the chamber's output pins: heater, humidifier and
// the status indicators.
package actuator

import (
	"errors"
	"fmt"

	"github.com/sweeney/fermentation-pi/internal/gpio"
)

// ErrNotOutput is returned for roles that cannot be switched.
var ErrNotOutput = errors.New("actuator: role is not an output")

// Outputs are the roles Control may drive.
var Outputs = []gpio.Role{gpio.Heater, gpio.Humidifier, gpio.Indicator1, gpio.Indicator2, gpio.Indicator3}

// Observer is notified of every switch attempt.
type Observer interface {
	Switched(role gpio.Role, on bool, err error)
}

// Observers fans switch reports out to several observers.
type Observers []Observer

func (o Observers) Switched(role gpio.Role, on bool, err error) {
	for _, ob := range o {
		ob.Switched(role, on, err)
	}
}

// Control drives output pins through the registry. Each call holds the role's
// lock only for the level change.
type Control struct {
	reg      *gpio.Registry
	observer Observer
}

// New creates a Control. observer may be nil.
func New(reg *gpio.Registry, observer Observer) *Control {
	return &Control{reg: reg, observer: observer}
}

// SetState configures role as an output and drives it high (on) or low
// (off). The pin keeps that level after the call returns. There is no retry;
// callers log and carry on.
func (c *Control) SetState(role gpio.Role, on bool) error {
	if !isOutput(role) {
		return fmt.Errorf("%w: %s", ErrNotOutput, role)
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	err := c.reg.With(role, func(p gpio.Pin) error {
		return p.Output(level)
	})
	if err != nil {
		err = fmt.Errorf("switch %s %s: %w", role, onOff(on), err)
	}
	if c.observer != nil {
		c.observer.Switched(role, on, err)
	}
	return err
}

// AllOff drives every output low, attempting all of them even if some fail.
func (c *Control) AllOff() error {
	var errs []error
	for _, role := range Outputs {
		if err := c.SetState(role, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isOutput(role gpio.Role) bool {
	for _, r := range Outputs {
		if r == role {
			return true
		}
	}
	return false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
