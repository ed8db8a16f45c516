package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	Reading       *ReadingJSON    `json:"reading,omitempty"`
	SensorFault   bool            `json:"sensor_fault"`
	Project       *ProjectJSON    `json:"project"`
	Loops         []LoopJSON      `json:"loops"`
	Outputs       map[string]bool `json:"outputs"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Config        ConfigJSON      `json:"config"`
}

// ReadingJSON is the latest sensor reading.
type ReadingJSON struct {
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

// ProjectJSON summarizes the active project.
type ProjectJSON struct {
	ID          uint64  `json:"id"`
	Name        string  `json:"name"`
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
	StartedAt   string  `json:"started_at,omitempty"`
}

// LoopJSON is one control loop.
type LoopJSON struct {
	Loop       string  `json:"loop"`
	State      string  `json:"state"`
	Setpoint   float32 `json:"setpoint"`
	Measured   float32 `json:"measured"`
	Output     float32 `json:"output"`
	OnFraction float32 `json:"on_fraction"`
	OnMs       int64   `json:"on_ms"`
	PeriodMs   int64   `json:"period_ms"`
	LastTick   string  `json:"last_tick,omitempty"`
	Retained   bool    `json:"retained,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TemperaturePeriodMs int64  `json:"temperature_period_ms"`
	HumidityPeriodMs    int64  `json:"humidity_period_ms"`
	LogSchedule         string `json:"log_schedule"`
	Broker              string `json:"broker"`
	HTTPAddr            string `json:"http_addr"`
	Simulated           bool   `json:"simulated,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		SensorFault:   snap.SensorFault,
		Loops:         []LoopJSON{},
		Outputs:       make(map[string]bool),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TemperaturePeriodMs: snap.Config.TemperaturePeriod.Milliseconds(),
			HumidityPeriodMs:    snap.Config.HumidityPeriod.Milliseconds(),
			LogSchedule:         snap.Config.LogSchedule,
			Broker:              snap.Config.Broker,
			HTTPAddr:            snap.Config.HTTPAddr,
			Simulated:           snap.Config.Simulated,
		},
	}

	if snap.Reading != nil {
		inner.Reading = &ReadingJSON{
			Temperature: snap.Reading.Temperature,
			Humidity:    snap.Reading.Humidity,
			Timestamp:   snap.ReadingAt.UTC().Format(time.RFC3339),
		}
	}

	if p := snap.Project; p != nil {
		inner.Project = &ProjectJSON{
			ID:          p.ID,
			Name:        p.Name,
			Temperature: p.Settings.Temperature,
			Humidity:    p.Settings.Humidity,
		}
		if p.StartAt != nil {
			inner.Project.StartedAt = p.StartAt.UTC().Format(time.RFC3339)
		}
	}

	for _, ls := range snap.Loops {
		state := string(ls.State)
		if state == "" {
			state = "UNKNOWN"
		}
		lj := LoopJSON{
			Loop:       ls.Dimension.String(),
			State:      state,
			Setpoint:   ls.Setpoint,
			Measured:   ls.Measured,
			Output:     ls.Output,
			OnFraction: ls.Decision.OnFraction,
			OnMs:       ls.Decision.OnTime().Milliseconds(),
			PeriodMs:   ls.Decision.Period.Milliseconds(),
			Retained:   ls.Retained,
			Error:      ls.Err,
		}
		if !ls.LastTick.IsZero() {
			lj.LastTick = ls.LastTick.UTC().Format(time.RFC3339)
		}
		inner.Loops = append(inner.Loops, lj)
	}

	for _, role := range gpio.Roles() {
		if on, ok := snap.Outputs[role]; ok {
			inner.Outputs[role.String()] = on
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
