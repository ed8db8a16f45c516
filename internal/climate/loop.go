// Package climate runs the temperature and humidity control loops. Each loop
// polls the sensor once per cycle, feeds its PID controller, and drives its
// actuator on a duty cycle without blocking its own cadence.
package climate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/store"
)

// Defaults shared by both loops.
const (
	DefaultLimit      = 100
	DefaultSaturation = 0.995
)

// SettingsSource provides the active project's targets.
type SettingsSource interface {
	ActiveSettings() (store.Settings, error)
}

// Acquirer produces validated readings. *sensor.Acquisition implements it.
type Acquirer interface {
	Acquire() (sensor.Reading, error)
}

// Switch drives an actuator. *actuator.Control implements it.
type Switch interface {
	SetState(role gpio.Role, on bool) error
}

// State is the phase of a loop.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StatePolling      State = "POLLING"
	StateWaiting      State = "WAITING"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

// Config describes one loop.
type Config struct {
	Dimension  Dimension
	Period     time.Duration
	Gains      Gains
	Limit      float32
	Saturation float32 // on-fractions above this leave the actuator on all cycle
}

// Tick is the outcome of one polling cycle.
type Tick struct {
	Dimension Dimension
	At        time.Time
	Setpoint  float32
	Measured  float32
	Output    float32
	Decision  Decision
	Err       error // acquisition failure; Decision is the retained one
	Retained  bool  // Decision was carried over from an earlier tick
}

// Loop is one control dimension.
type Loop struct {
	cfg      Config
	source   SettingsSource
	acq      Acquirer
	sw       Switch
	observer Observer
	now      func() time.Time

	pid  *PID
	last *Decision
	task *actuation
}

// NewLoop creates a loop. observer may be nil.
func NewLoop(cfg Config, source SettingsSource, acq Acquirer, sw Switch, observer Observer) *Loop {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Saturation <= 0 {
		cfg.Saturation = DefaultSaturation
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &Loop{
		cfg:      cfg,
		source:   source,
		acq:      acq,
		sw:       sw,
		observer: observer,
		now:      time.Now,
	}
}

// Run initializes the controller from the active project and then ticks every
// Period until ctx is done. It returns an error only when initialization
// fails. On return the actuator has been switched off and no actuation task
// is left running.
func (l *Loop) Run(ctx context.Context) error {
	dim := l.cfg.Dimension
	l.observer.StateChanged(dim, StateInitializing)
	if err := l.init(); err != nil {
		l.observer.StateChanged(dim, StateFailed)
		l.observer.Stopped(dim, err)
		return err
	}
	log.Printf("climate: %s loop started: setpoint=%.1f period=%v gains=%+v", dim, l.pid.Setpoint, l.cfg.Period, l.cfg.Gains)

	defer func() {
		l.stop()
		l.observer.StateChanged(dim, StateStopped)
		l.observer.Stopped(dim, nil)
		log.Printf("climate: %s loop stopped", dim)
	}()

	for {
		l.observer.StateChanged(dim, StatePolling)
		l.tick(ctx)

		l.observer.StateChanged(dim, StateWaiting)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.Period):
		}
	}
}

func (l *Loop) init() error {
	settings, err := l.source.ActiveSettings()
	if err != nil {
		return fmt.Errorf("climate: %s loop: %w", l.cfg.Dimension, err)
	}
	l.pid = NewPID(l.cfg.Dimension.Setpoint(settings), l.cfg.Gains, l.cfg.Limit)
	l.last = nil
	return nil
}

// tick polls, updates the controller and dispatches actuation. It never
// waits for the actuation to finish.
func (l *Loop) tick(ctx context.Context) Tick {
	dim := l.cfg.Dimension
	t := Tick{Dimension: dim, At: l.now(), Setpoint: l.pid.Setpoint}

	r, err := l.acq.Acquire()
	if err != nil {
		log.Printf("climate: %s: acquisition failed, keeping previous duty cycle: %v", dim, err)
		t.Err = err
		if l.last != nil {
			t.Decision = *l.last
			t.Retained = true
			l.dispatch(ctx, *l.last)
		}
		l.observer.Ticked(t)
		return t
	}

	t.Measured = dim.Measure(r)
	t.Output = l.pid.Update(t.Measured)
	t.Decision = Decide(t.Output, l.cfg.Limit, l.cfg.Period)
	l.last = &t.Decision
	l.dispatch(ctx, t.Decision)

	l.observer.Ticked(t)
	return t
}

// actuation is the handle of one tick's duty-cycle task.
type actuation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *actuation) stop() {
	a.cancel()
	<-a.done
}

// dispatch starts the actuation task for d, first joining the previous one.
func (l *Loop) dispatch(ctx context.Context, d Decision) {
	if l.task != nil {
		l.task.stop()
	}
	tctx, cancel := context.WithCancel(ctx)
	a := &actuation{cancel: cancel, done: make(chan struct{})}
	l.task = a
	go func() {
		defer close(a.done)
		l.actuate(tctx, d)
	}()
}

// actuate holds the actuator on for the on-time and then switches it off,
// unless the decision is saturated, in which case it is left on.
func (l *Loop) actuate(ctx context.Context, d Decision) {
	role := l.cfg.Dimension.Actuator()
	on := d.OnTime()
	if on <= 0 {
		l.set(role, false)
		return
	}
	if err := l.set(role, true); err != nil {
		return
	}
	if d.Saturated(l.cfg.Saturation) {
		return
	}

	hold := time.NewTimer(on)
	defer hold.Stop()
	select {
	case <-hold.C:
	case <-ctx.Done():
	}
	l.set(role, false)
}

func (l *Loop) set(role gpio.Role, on bool) error {
	err := l.sw.SetState(role, on)
	if err != nil {
		log.Printf("climate: %s: %v", l.cfg.Dimension, err)
	}
	return err
}

// stop joins the running actuation task and leaves the actuator off.
func (l *Loop) stop() {
	if l.task != nil {
		l.task.stop()
		l.task = nil
	}
	l.set(l.cfg.Dimension.Actuator(), false)
}
