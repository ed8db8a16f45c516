package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// PublishedReading is a reading recorded by FakePublisher.
type PublishedReading struct {
	At      time.Time
	Reading sensor.Reading
}

// FakePublisher records published messages for test assertions. It is safe
// for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	readings       []PublishedReading
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	publishErr       error
	publishSystemErr error
	closed           bool
	connected        bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishReading records the reading.
func (f *FakePublisher) PublishReading(at time.Time, r sensor.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	payload, err := FormatReadingPayload(at, r)
	if err != nil {
		return err
	}
	f.readings = append(f.readings, PublishedReading{At: at, Reading: r})
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishSystemErr != nil {
		return f.publishSystemErr
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports the value set with SetConnected.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected sets the IsConnected result.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// FailReadings makes PublishReading return err; nil clears it.
func (f *FakePublisher) FailReadings(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// FailSystem makes PublishSystem return err; nil clears it.
func (f *FakePublisher) FailSystem(err error) {
	f.mu.Lock()
	f.publishSystemErr = err
	f.mu.Unlock()
}

// Readings returns the recorded readings.
func (f *FakePublisher) Readings() []PublishedReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishedReading(nil), f.readings...)
}

// Payloads returns the recorded reading payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears everything recorded.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.publishErr = nil
	f.publishSystemErr = nil
	f.closed = false
	f.connected = false
}
