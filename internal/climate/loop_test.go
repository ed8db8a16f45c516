package climate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/store"
)

type fakeSettings struct {
	settings store.Settings
	err      error
	calls    atomic.Int32
}

func (f *fakeSettings) ActiveSettings() (store.Settings, error) {
	f.calls.Add(1)
	return f.settings, f.err
}

type acquireResult struct {
	r   sensor.Reading
	err error
}

// scriptedAcquirer returns results in order, repeating the last one.
type scriptedAcquirer struct {
	mu      sync.Mutex
	results []acquireResult
	calls   int
}

func (a *scriptedAcquirer) Acquire() (sensor.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	return a.results[i].r, a.results[i].err
}

func steady(r sensor.Reading) *scriptedAcquirer {
	return &scriptedAcquirer{results: []acquireResult{{r: r}}}
}

type switchEvent struct {
	role gpio.Role
	on   bool
}

type recordingSwitch struct {
	mu     sync.Mutex
	events []switchEvent
	state  map[gpio.Role]bool
}

func newRecordingSwitch() *recordingSwitch {
	return &recordingSwitch{state: make(map[gpio.Role]bool)}
}

func (s *recordingSwitch) SetState(role gpio.Role, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, switchEvent{role, on})
	s.state[role] = on
	return nil
}

func (s *recordingSwitch) On(role gpio.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[role]
}

func (s *recordingSwitch) Events(role gpio.Role) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bool
	for _, e := range s.events {
		if e.role == role {
			out = append(out, e.on)
		}
	}
	return out
}

type recordingLoopObserver struct {
	mu      sync.Mutex
	states  []State
	ticks   []Tick
	stopped []error
}

func (o *recordingLoopObserver) StateChanged(d Dimension, s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *recordingLoopObserver) Ticked(t Tick) {
	o.mu.Lock()
	o.ticks = append(o.ticks, t)
	o.mu.Unlock()
}

func (o *recordingLoopObserver) Stopped(d Dimension, err error) {
	o.mu.Lock()
	o.stopped = append(o.stopped, err)
	o.mu.Unlock()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	temperatureGains = Gains{P: 10, I: 0.5, D: 2}
	humidityGains    = Gains{P: 5, I: 0.2, D: 1}
)

func newTestLoop(t *testing.T, cfg Config, settings store.Settings, acq Acquirer) (*Loop, *recordingSwitch) {
	t.Helper()
	sw := newRecordingSwitch()
	l := NewLoop(cfg, &fakeSettings{settings: settings}, acq, sw, nil)
	if err := l.init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(l.stop)
	return l, sw
}

func TestLoopDrivesTowardsSetpoint(t *testing.T) {
	settings := store.Settings{Temperature: 25, Humidity: 70}
	acq := steady(sensor.Reading{Temperature: 20, Humidity: 70})
	ctx := context.Background()

	temp, tsw := newTestLoop(t, Config{Dimension: Temperature, Period: 10 * time.Second, Gains: temperatureGains}, settings, acq)
	hum, hsw := newTestLoop(t, Config{Dimension: Humidity, Period: 10 * time.Second, Gains: humidityGains}, settings, acq)

	var prev float32
	for n := 0; n < 10; n++ {
		tt := temp.tick(ctx)
		if tt.Err != nil {
			t.Fatalf("tick %d: %v", n, tt.Err)
		}
		if tt.Decision.OnFraction <= 0 {
			t.Errorf("tick %d: temperature fraction %v, want > 0", n, tt.Decision.OnFraction)
		}
		if tt.Decision.OnFraction < prev {
			t.Errorf("tick %d: temperature fraction fell from %v to %v", n, prev, tt.Decision.OnFraction)
		}
		prev = tt.Decision.OnFraction

		ht := hum.tick(ctx)
		if ht.Decision.OnFraction != 0 {
			t.Errorf("tick %d: humidity fraction %v, want 0", n, ht.Decision.OnFraction)
		}
	}

	eventually(t, "heater on", func() bool { return tsw.On(gpio.Heater) })
	eventually(t, "humidifier off", func() bool {
		ev := hsw.Events(gpio.Humidifier)
		return len(ev) > 0 && !ev[len(ev)-1]
	})
	if hsw.On(gpio.Humidifier) {
		t.Error("humidifier should stay off at setpoint")
	}
}

func TestLoopFirstTickValues(t *testing.T) {
	settings := store.Settings{Temperature: 25, Humidity: 70}
	l, _ := newTestLoop(t, Config{Dimension: Temperature, Period: 10 * time.Second, Gains: temperatureGains}, settings,
		steady(sensor.Reading{Temperature: 20, Humidity: 70}))

	tk := l.tick(context.Background())
	if tk.Setpoint != 25 || tk.Measured != 20 {
		t.Errorf("setpoint/measured: got %v/%v, want 25/20", tk.Setpoint, tk.Measured)
	}
	// P=10*5, I=0.5*5, D=0 on the first tick.
	if tk.Output != 52.5 {
		t.Errorf("output: got %v, want 52.5", tk.Output)
	}
	if tk.Decision.OnTime() != 5250*time.Millisecond {
		t.Errorf("on time: got %v, want 5.25s", tk.Decision.OnTime())
	}
}

func TestLoopRetainsDecisionOnAcquisitionFailure(t *testing.T) {
	exhausted := &sensor.ExhaustedError{Attempts: 5, Last: sensor.ErrTimeout}
	acq := &scriptedAcquirer{results: []acquireResult{
		{r: sensor.Reading{Temperature: 20, Humidity: 70}},
		{err: exhausted},
	}}
	l, _ := newTestLoop(t, Config{Dimension: Temperature, Period: 10 * time.Second, Gains: temperatureGains},
		store.Settings{Temperature: 25, Humidity: 70}, acq)
	ctx := context.Background()

	first := l.tick(ctx)
	integral := l.pid.Integral()

	second := l.tick(ctx)
	if !errors.Is(second.Err, sensor.ErrAcquisitionExhausted) {
		t.Fatalf("err: got %v, want exhausted", second.Err)
	}
	if !second.Retained {
		t.Error("decision should be marked retained")
	}
	if second.Decision != first.Decision {
		t.Errorf("decision: got %+v, want %+v", second.Decision, first.Decision)
	}
	if l.pid.Integral() != integral {
		t.Errorf("controller updated on failed tick: integral %v -> %v", integral, l.pid.Integral())
	}
}

func TestLoopFailureBeforeFirstDecision(t *testing.T) {
	acq := &scriptedAcquirer{results: []acquireResult{{err: sensor.ErrAcquisitionExhausted}}}
	l, sw := newTestLoop(t, Config{Dimension: Humidity, Period: time.Second, Gains: humidityGains},
		store.DefaultSettings(), acq)

	tk := l.tick(context.Background())
	if tk.Err == nil || tk.Retained {
		t.Errorf("got err=%v retained=%v, want error and no retained decision", tk.Err, tk.Retained)
	}
	if ev := sw.Events(gpio.Humidifier); len(ev) != 0 {
		t.Errorf("actuator touched without a decision: %v", ev)
	}
}

func TestLoopSaturatedLeavesActuatorOn(t *testing.T) {
	l, sw := newTestLoop(t, Config{Dimension: Temperature, Period: 30 * time.Millisecond, Gains: Gains{P: 10}},
		store.Settings{Temperature: 30, Humidity: 75}, steady(sensor.Reading{Temperature: 0, Humidity: 75}))

	tk := l.tick(context.Background())
	if tk.Decision.OnFraction != 1 {
		t.Fatalf("fraction: got %v, want 1", tk.Decision.OnFraction)
	}

	time.Sleep(100 * time.Millisecond)
	if got := sw.Events(gpio.Heater); len(got) != 1 || !got[0] {
		t.Errorf("heater events: got %v, want [true]", got)
	}
}

func TestLoopPartialCycleSwitchesOff(t *testing.T) {
	l, sw := newTestLoop(t, Config{Dimension: Temperature, Period: 40 * time.Millisecond, Gains: Gains{P: 10}},
		store.Settings{Temperature: 25, Humidity: 75}, steady(sensor.Reading{Temperature: 20, Humidity: 75}))

	tk := l.tick(context.Background())
	if tk.Decision.OnFraction != 0.5 {
		t.Fatalf("fraction: got %v, want 0.5", tk.Decision.OnFraction)
	}
	eventually(t, "heater on then off", func() bool {
		ev := sw.Events(gpio.Heater)
		return len(ev) == 2 && ev[0] && !ev[1]
	})
}

func TestLoopNewTickReplacesActuation(t *testing.T) {
	l, sw := newTestLoop(t, Config{Dimension: Temperature, Period: 10 * time.Second, Gains: Gains{P: 10}},
		store.Settings{Temperature: 25, Humidity: 75}, steady(sensor.Reading{Temperature: 20, Humidity: 75}))
	ctx := context.Background()

	l.tick(ctx)
	eventually(t, "heater on", func() bool { return sw.On(gpio.Heater) })
	first := l.task

	l.tick(ctx)
	select {
	case <-first.done:
	default:
		t.Fatal("previous actuation still running after next tick")
	}
}

func TestRunMissingProject(t *testing.T) {
	src := &fakeSettings{err: store.ErrProjectNotFound}
	sw := newRecordingSwitch()
	obs := &recordingLoopObserver{}
	l := NewLoop(Config{Dimension: Temperature, Period: time.Second}, src, steady(sensor.Reading{}), sw, obs)

	err := l.Run(context.Background())
	if !errors.Is(err, store.ErrProjectNotFound) {
		t.Fatalf("got %v, want ErrProjectNotFound", err)
	}
	if len(obs.stopped) != 1 || obs.stopped[0] == nil {
		t.Errorf("stopped reports: %v", obs.stopped)
	}
	if obs.states[len(obs.states)-1] != StateFailed {
		t.Errorf("final state: got %v, want %v", obs.states[len(obs.states)-1], StateFailed)
	}
	if ev := sw.Events(gpio.Heater); len(ev) != 0 {
		t.Errorf("actuator touched: %v", ev)
	}
}

func TestRunStopsWithActuatorOff(t *testing.T) {
	src := &fakeSettings{settings: store.Settings{Temperature: 30, Humidity: 75}}
	sw := newRecordingSwitch()
	obs := &recordingLoopObserver{}
	l := NewLoop(Config{Dimension: Temperature, Period: 10 * time.Second, Gains: Gains{P: 10}},
		src, steady(sensor.Reading{Temperature: 10, Humidity: 75}), sw, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	eventually(t, "heater on", func() bool { return sw.On(gpio.Heater) })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sw.On(gpio.Heater) {
		t.Error("heater left on after stop")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.states[0] != StateInitializing || obs.states[len(obs.states)-1] != StateStopped {
		t.Errorf("states: %v", obs.states)
	}
	if len(obs.stopped) != 1 || obs.stopped[0] != nil {
		t.Errorf("stopped reports: %v", obs.stopped)
	}
	if len(obs.ticks) != 1 {
		t.Errorf("ticks: got %d, want 1", len(obs.ticks))
	}
}

func TestRunTicksEveryPeriod(t *testing.T) {
	src := &fakeSettings{settings: store.DefaultSettings()}
	acq := steady(sensor.Reading{Temperature: 30, Humidity: 75})
	l := NewLoop(Config{Dimension: Humidity, Period: 10 * time.Millisecond}, src, acq, newRecordingSwitch(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	eventually(t, "several ticks", func() bool {
		acq.mu.Lock()
		defer acq.mu.Unlock()
		return acq.calls >= 3
	})
	cancel()
	<-done
}

func TestSupervisorReloadRestartsLoops(t *testing.T) {
	src := &fakeSettings{settings: store.DefaultSettings()}
	sw := newRecordingSwitch()
	configs := []Config{
		{Dimension: Temperature, Period: 10 * time.Second, Gains: temperatureGains},
		{Dimension: Humidity, Period: 10 * time.Second, Gains: humidityGains},
	}
	s := NewSupervisor(configs, src, steady(sensor.Reading{Temperature: 30, Humidity: 75}), sw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	eventually(t, "both loops initialized", func() bool { return src.calls.Load() == 2 })
	s.Reload()
	eventually(t, "both loops reinitialized", func() bool { return src.calls.Load() == 4 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	if sw.On(gpio.Heater) || sw.On(gpio.Humidifier) {
		t.Error("actuators left on after supervisor stop")
	}
}

func TestSupervisorKeepsRunningWithoutProject(t *testing.T) {
	src := &fakeSettings{err: store.ErrProjectNotFound}
	s := NewSupervisor([]Config{{Dimension: Temperature, Period: time.Second}}, src,
		steady(sensor.Reading{}), newRecordingSwitch(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	eventually(t, "initial attempt", func() bool { return src.calls.Load() == 1 })
	s.Reload()
	eventually(t, "retry after reload", func() bool { return src.calls.Load() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestReloadNeverBlocks(t *testing.T) {
	s := NewSupervisor(nil, &fakeSettings{}, steady(sensor.Reading{}), newRecordingSwitch(), nil)
	for i := 0; i < 10; i++ {
		s.Reload()
	}
}
