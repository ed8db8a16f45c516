package sensor

import (
	"sync"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
)

// Waveform timing of the simulated sensor.
const (
	SimMinStart    = 1 * time.Millisecond
	SimRelease     = 30 * time.Microsecond
	SimResponse    = 80 * time.Microsecond
	SimBitLow      = 50 * time.Microsecond
	SimBitHighOne  = 70 * time.Microsecond
	SimBitHighZero = 24 * time.Microsecond
)

type segment struct {
	level int
	dur   time.Duration
}

// Simulator is a gpio.Pin that behaves like the sensor on the other end of
// the wire. After a start signal of at least SimMinStart it answers with the
// handshake and the frame returned by source, timed against clock.
type Simulator struct {
	mu       sync.Mutex
	clock    Clock
	source   func() Frame
	silent   bool
	output   bool
	level    int
	lowSince time.Time
	woken    bool
	sentAt   time.Time
	wave     []segment
	count    int
}

// NewSimulator creates a simulated sensor line.
func NewSimulator(clock Clock, source func() Frame) *Simulator {
	if clock == nil {
		clock = RealClock
	}
	return &Simulator{clock: clock, source: source, level: gpio.High}
}

// SetSilent makes the sensor ignore start signals, leaving the line high.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Transactions returns how many transmissions the sensor has started.
func (s *Simulator) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Output drives the line from the host side.
func (s *Simulator) Output(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if level == gpio.Low && (!s.output || s.level != gpio.Low) {
		s.lowSince = now
	}
	if level == gpio.High && s.output && s.level == gpio.Low {
		s.woken = now.Sub(s.lowSince) >= SimMinStart
	}
	s.output = true
	s.level = level
	s.wave = nil
	return nil
}

// Input releases the line. A woken sensor starts transmitting now.
func (s *Simulator) Input() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = false
	s.wave = nil
	if s.woken && !s.silent {
		s.sentAt = s.clock.Now()
		s.wave = waveform(s.source())
		s.count++
	}
	s.woken = false
	return nil
}

// Value returns the line level at the current clock time.
func (s *Simulator) Value() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output {
		return s.level, nil
	}
	if s.wave == nil {
		return gpio.High, nil
	}
	t := s.clock.Now().Sub(s.sentAt)
	for _, seg := range s.wave {
		if t < seg.dur {
			return seg.level, nil
		}
		t -= seg.dur
	}
	return gpio.High, nil
}

// Close is a no-op.
func (s *Simulator) Close() error {
	return nil
}

func waveform(f Frame) []segment {
	wave := []segment{
		{gpio.High, SimRelease},
		{gpio.Low, SimResponse},
		{gpio.High, SimResponse},
	}
	for i := 0; i < 8*len(f); i++ {
		high := SimBitHighZero
		if f[i/8]&(1<<(7-uint(i%8))) != 0 {
			high = SimBitHighOne
		}
		wave = append(wave, segment{gpio.Low, SimBitLow}, segment{gpio.High, high})
	}
	return append(wave, segment{gpio.Low, SimBitLow})
}
