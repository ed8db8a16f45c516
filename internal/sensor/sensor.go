// Package sensor reads temperature and humidity from a single-wire
// combined sensor (DHT22/AM2302 family) by bit-banging the sensor pin.
//
// Link performs one protocol transaction. Acquisition wraps it with bounded
// retry and a plausibility screen and is safe for concurrent use; the pin
// registry serializes transactions on the wire.
package sensor

import (
	"errors"
	"fmt"
	"time"
)

// Reading is one validated measurement.
type Reading struct {
	Temperature float32 `json:"temperature"` // °C
	Humidity    float32 `json:"humidity"`    // %RH
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1fC %.1f%%RH", r.Temperature, r.Humidity)
}

// Protocol and acquisition errors.
var (
	ErrTimeout              = errors.New("sensor: timeout")
	ErrChecksumMismatch     = errors.New("sensor: checksum mismatch")
	ErrImplausible          = errors.New("sensor: implausible reading")
	ErrAcquisitionExhausted = errors.New("sensor: acquisition exhausted")
)

// ExhaustedError is returned when every attempt of an acquisition failed.
// It matches ErrAcquisitionExhausted and the last cause with errors.Is.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("sensor: acquisition exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrAcquisitionExhausted, e.Last}
}

// Clock abstracts time for the bit protocol so tests can drive a simulated
// line with controllable timing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}
