// Package status provides a thread-safe status tracker for the
// fermentation-pi daemon. It is read by the HTTP handlers and the MQTT
// heartbeat, and fed by the sensor, control loops and actuators.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/store"
)

// Config contains daemon configuration for display.
type Config struct {
	TemperaturePeriod time.Duration
	HumidityPeriod    time.Duration
	LogSchedule       string
	Broker            string
	HTTPAddr          string
	Simulated         bool
}

// LoopStatus is the last known state of one control loop.
type LoopStatus struct {
	Dimension climate.Dimension
	State     climate.State
	Setpoint  float32
	Measured  float32
	Output    float32
	Decision  climate.Decision
	LastTick  time.Time
	Retained  bool
	Err       string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	Reading       *sensor.Reading
	ReadingAt     time.Time
	SensorFault   bool
	Project       *store.Project
	Loops         []LoopStatus
	Outputs       map[gpio.Role]bool
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	loops   map[climate.Dimension]LoopStatus
	outputs map[gpio.Role]bool
	now     func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		loops:   make(map[climate.Dimension]LoopStatus),
		outputs: make(map[gpio.Role]bool),
		now:     time.Now,
	}
}

// RecordReading stores the latest acquired reading.
func (t *Tracker) RecordReading(at time.Time, r sensor.Reading) {
	t.mu.Lock()
	t.snap.Reading = &r
	t.snap.ReadingAt = at
	t.snap.SensorFault = false
	t.mu.Unlock()
}

// SetProject sets the active project, nil when none is running.
func (t *Tracker) SetProject(p *store.Project) {
	t.mu.Lock()
	if p != nil {
		cp := *p
		p = &cp
	}
	t.snap.Project = p
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	for _, d := range []climate.Dimension{climate.Temperature, climate.Humidity} {
		if ls, ok := t.loops[d]; ok {
			s.Loops = append(s.Loops, ls)
		}
	}
	s.Outputs = make(map[gpio.Role]bool, len(t.outputs))
	for r, on := range t.outputs {
		s.Outputs[r] = on
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

func (t *Tracker) AttemptFailed(error) {}

func (t *Tracker) Acquired(r sensor.Reading, attempts int) {
	t.RecordReading(t.now(), r)
}

func (t *Tracker) Exhausted(error) {
	t.mu.Lock()
	t.snap.SensorFault = true
	t.mu.Unlock()
}

func (t *Tracker) StateChanged(d climate.Dimension, s climate.State) {
	t.mu.Lock()
	ls := t.loops[d]
	ls.Dimension = d
	ls.State = s
	t.loops[d] = ls
	t.mu.Unlock()
}

func (t *Tracker) Ticked(tk climate.Tick) {
	t.mu.Lock()
	ls := t.loops[tk.Dimension]
	ls.Dimension = tk.Dimension
	ls.Setpoint = tk.Setpoint
	ls.Decision = tk.Decision
	ls.LastTick = tk.At
	ls.Retained = tk.Retained
	ls.Err = ""
	if tk.Err != nil {
		ls.Err = tk.Err.Error()
	} else {
		ls.Measured = tk.Measured
		ls.Output = tk.Output
	}
	t.loops[tk.Dimension] = ls
	t.mu.Unlock()
}

func (t *Tracker) Stopped(d climate.Dimension, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	ls := t.loops[d]
	ls.Dimension = d
	ls.Err = err.Error()
	t.loops[d] = ls
	t.mu.Unlock()
}

func (t *Tracker) Switched(role gpio.Role, on bool, err error) {
	if err != nil {
		return
	}
	t.mu.Lock()
	t.outputs[role] = on
	t.mu.Unlock()
}
