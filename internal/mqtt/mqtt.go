// Package mqtt publishes chamber readings and daemon lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// TopicReadings is the MQTT topic for logged sensor readings.
const TopicReadings = "fermentation/chamber/readings"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "fermentation/chamber/system"

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes chamber telemetry.
type Publisher interface {
	// PublishReading sends one logged reading. Failures must not stop the caller.
	PublishReading(at time.Time, r sensor.Reading) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; FormatSystemPayload returns it as is
	Retained   bool
}

// ReadingPayload is the message body on TopicReadings.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains one reading.
type ReadingInner struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
}

// FormatReadingPayload creates the JSON payload for a reading.
func FormatReadingPayload(at time.Time, r sensor.Reading) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Reading: ReadingInner{
			Timestamp:   at.UTC().Format(time.RFC3339),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		},
	})
}

// SystemPayload is the body of events that carry no status snapshot (the
// last will, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
