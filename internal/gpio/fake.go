package gpio

import (
	"errors"
	"sync"
)

// FakeBackend is a test double that hands out FakePins and records them by
// number. Custom pins (for example a simulated sensor) can be attached.
type FakeBackend struct {
	mu       sync.Mutex
	pins     map[int]*FakePin
	attached map[int]Pin
	opens    map[int]int
	openErr  map[int]error
	closed   bool
}

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		pins:     make(map[int]*FakePin),
		attached: make(map[int]Pin),
		opens:    make(map[int]int),
		openErr:  make(map[int]error),
	}
}

// Attach makes Open(number) return p instead of a FakePin.
func (f *FakeBackend) Attach(number int, p Pin) {
	f.mu.Lock()
	f.attached[number] = p
	f.mu.Unlock()
}

// FailOpen makes Open(number) fail with err until cleared with a nil err.
func (f *FakeBackend) FailOpen(number int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.openErr, number)
	} else {
		f.openErr[number] = err
	}
	f.mu.Unlock()
}

// Open returns the attached pin for number, or a new FakePin.
func (f *FakeBackend) Open(number int) (Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens[number]++
	if err := f.openErr[number]; err != nil {
		return nil, err
	}
	if p, ok := f.attached[number]; ok {
		return p, nil
	}
	p := &FakePin{number: number}
	f.pins[number] = p
	return p, nil
}

// Pin returns the FakePin opened for number, or nil.
func (f *FakeBackend) Pin(number int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[number]
}

// Opens returns how many times number was opened.
func (f *FakeBackend) Opens(number int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[number]
}

// Level returns the driven level of number, Low if never opened.
func (f *FakeBackend) Level(number int) int {
	p := f.Pin(number)
	if p == nil {
		return Low
	}
	return p.Level()
}

// Close marks the backend as closed.
func (f *FakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeBackend) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakePin records mode changes and driven levels.
type FakePin struct {
	mu      sync.Mutex
	number  int
	output  bool
	level   int
	history []int
	err     error
	closed  bool
}

var errFakeClosed = errors.New("gpio: fake pin closed")

// SetError makes every subsequent operation fail with err (nil clears it).
func (p *FakePin) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *FakePin) check() error {
	if p.err != nil {
		return errors.Join(ErrPinUnavailable, p.err)
	}
	if p.closed {
		return errFakeClosed
	}
	return nil
}

// Output records the level and switches to output mode.
func (p *FakePin) Output(level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	p.output = true
	p.level = level
	p.history = append(p.history, level)
	return nil
}

// Input switches to input mode. The level stays as last driven.
func (p *FakePin) Input() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	p.output = false
	return nil
}

// Value returns the last driven level.
func (p *FakePin) Value() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(); err != nil {
		return Low, err
	}
	return p.level, nil
}

// Close marks the pin as closed.
func (p *FakePin) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Level returns the last driven level.
func (p *FakePin) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IsOutput reports whether the pin is in output mode.
func (p *FakePin) IsOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// History returns a copy of every level driven so far.
func (p *FakePin) History() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.history...)
}

// IsClosed reports whether Close was called.
func (p *FakePin) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
