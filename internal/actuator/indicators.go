package actuator

import (
	"log"
	"sync"

	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// Indicators drives the three status lights:
//
//	Indicator1  daemon running
//	Indicator2  last sensor acquisition failed
//	Indicator3  no active project driving the loops
//
// It only switches a light when its state changes.
type Indicators struct {
	ctrl *Control

	mu    sync.Mutex
	state map[gpio.Role]bool
}

// NewIndicators creates Indicators over ctrl.
func NewIndicators(ctrl *Control) *Indicators {
	return &Indicators{ctrl: ctrl, state: make(map[gpio.Role]bool)}
}

// Running sets Indicator1.
func (in *Indicators) Running(on bool) { in.set(gpio.Indicator1, on) }

// SensorFault sets Indicator2.
func (in *Indicators) SensorFault(on bool) { in.set(gpio.Indicator2, on) }

// Idle sets Indicator3.
func (in *Indicators) Idle(on bool) { in.set(gpio.Indicator3, on) }

// Lit reports the last state set for role.
func (in *Indicators) Lit(role gpio.Role) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state[role]
}

func (in *Indicators) set(role gpio.Role, on bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if cur, known := in.state[role]; known && cur == on {
		return
	}
	if err := in.ctrl.SetState(role, on); err != nil {
		log.Printf("indicators: %v", err)
		return
	}
	in.state[role] = on
}

func (in *Indicators) AttemptFailed(error)          {}
func (in *Indicators) Acquired(sensor.Reading, int) { in.SensorFault(false) }
func (in *Indicators) Exhausted(error)              { in.SensorFault(true) }

func (in *Indicators) StateChanged(d climate.Dimension, s climate.State) {
	if s == climate.StatePolling {
		in.Idle(false)
	}
}

func (in *Indicators) Ticked(climate.Tick) {}

func (in *Indicators) Stopped(d climate.Dimension, err error) {
	if err != nil {
		in.Idle(true)
	}
}
