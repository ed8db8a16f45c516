package sensor

import (
	"fmt"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
)

// Protocol timing defaults.
const (
	DefaultStartHold    = 18 * time.Millisecond
	DefaultTimeout      = 300 * time.Millisecond
	DefaultBitThreshold = 30 * time.Microsecond
)

// LinkConfig holds the protocol timing.
type LinkConfig struct {
	// StartHold is how long the line is held low to wake the sensor.
	StartHold time.Duration
	// Timeout bounds every single wait for a level change. It is a hard
	// contract: a stuck line fails the transaction after at most this long
	// per wait.
	Timeout time.Duration
	// BitThreshold separates a short (0) from a long (1) high pulse.
	BitThreshold time.Duration
}

// DefaultLinkConfig returns the timing used by the stock sensor.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		StartHold:    DefaultStartHold,
		Timeout:      DefaultTimeout,
		BitThreshold: DefaultBitThreshold,
	}
}

// Link performs raw acquisition transactions over the Sensor pin.
type Link struct {
	reg   *gpio.Registry
	clock Clock
	cfg   LinkConfig
}

// NewLink creates a Link. Zero fields in cfg take their defaults.
func NewLink(reg *gpio.Registry, clock Clock, cfg LinkConfig) *Link {
	def := DefaultLinkConfig()
	if cfg.StartHold <= 0 {
		cfg.StartHold = def.StartHold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BitThreshold <= 0 {
		cfg.BitThreshold = def.BitThreshold
	}
	if clock == nil {
		clock = RealClock
	}
	return &Link{reg: reg, clock: clock, cfg: cfg}
}

// Read performs one transaction and converts the frame.
func (l *Link) Read() (Reading, error) {
	f, err := l.ReadFrame()
	if err != nil {
		return Reading{}, err
	}
	return f.Reading(), nil
}

// ReadFrame performs one transaction: start signal, handshake, 40-bit read
// and checksum check, all while holding the Sensor pin lock.
func (l *Link) ReadFrame() (Frame, error) {
	var f Frame
	err := l.reg.With(gpio.Sensor, func(p gpio.Pin) error {
		if err := l.start(p); err != nil {
			return err
		}
		if err := l.handshake(p); err != nil {
			return err
		}
		if err := l.readBits(p, &f); err != nil {
			return err
		}
		if !f.Valid() {
			return fmt.Errorf("%w: got %#02x, want %#02x", ErrChecksumMismatch, f[4], f.Checksum())
		}
		return nil
	})
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// start holds the line low to wake the sensor, then releases it to the
// pull-up and switches to input.
func (l *Link) start(p gpio.Pin) error {
	if err := p.Output(gpio.Low); err != nil {
		return err
	}
	l.clock.Sleep(l.cfg.StartHold)
	if err := p.Output(gpio.High); err != nil {
		return err
	}
	return p.Input()
}

// handshake waits out the released line, then the sensor's low and high
// response pulses, ending at the low that starts the first bit.
func (l *Link) handshake(p gpio.Pin) error {
	for i, level := range []int{gpio.High, gpio.Low, gpio.High, gpio.Low} {
		if _, err := l.waitFor(p, level); err != nil {
			return fmt.Errorf("handshake step %d: %w", i+1, err)
		}
	}
	return nil
}

// readBits decodes 40 bits, most significant first within each byte. The
// length of each high pulse carries the bit value.
func (l *Link) readBits(p gpio.Pin, f *Frame) error {
	for i := 0; i < 8*len(f); i++ {
		if _, err := l.waitFor(p, gpio.High); err != nil {
			return fmt.Errorf("bit %d start: %w", i, err)
		}
		high, err := l.waitFor(p, gpio.Low)
		if err != nil {
			return fmt.Errorf("bit %d end: %w", i, err)
		}
		if high > l.cfg.BitThreshold {
			f[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return nil
}

// waitFor spins until the line reads level and returns how long that took.
func (l *Link) waitFor(p gpio.Pin, level int) (time.Duration, error) {
	start := l.clock.Now()
	for {
		v, err := p.Value()
		if err != nil {
			return 0, err
		}
		elapsed := l.clock.Now().Sub(start)
		if v == level {
			return elapsed, nil
		}
		if elapsed > l.cfg.Timeout {
			return elapsed, fmt.Errorf("%w: line stuck %s for %v", ErrTimeout, levelName(1-level), elapsed)
		}
	}
}

func levelName(level int) string {
	if level == gpio.High {
		return "high"
	}
	return "low"
}
