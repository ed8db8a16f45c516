// Package metrics exposes Prometheus collectors for sensor acquisition,
// control loop ticks and actuator switching. A nil *Metrics is a no-op.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
)

const namespace = "fermentation"

type Metrics struct {
	registry *prometheus.Registry

	attemptFailures *prometheus.CounterVec
	acquisitions    *prometheus.CounterVec
	attempts        prometheus.Histogram
	temperature     prometheus.Gauge
	humidity        prometheus.Gauge

	setpoint   *prometheus.GaugeVec
	measured   *prometheus.GaugeVec
	output     *prometheus.GaugeVec
	onFraction *prometheus.GaugeVec
	ticks      *prometheus.CounterVec

	actuator *prometheus.GaugeVec
	switches *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_attempt_failures_total",
			Help:      "Failed sensor read attempts by cause.",
		}, []string{"cause"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_acquisitions_total",
			Help:      "Sensor acquisitions by result.",
		}, []string{"result"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sensor_attempts",
			Help:      "Attempts needed per successful acquisition.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last acquired chamber temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last acquired chamber relative humidity.",
		}),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_setpoint",
			Help:      "Control loop setpoint.",
		}, []string{"loop"}),
		measured: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_measured",
			Help:      "Control loop measurement at the last successful tick.",
		}, []string{"loop"}),
		output: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_output",
			Help:      "Clamped PID output at the last successful tick.",
		}, []string{"loop"}),
		onFraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_on_fraction",
			Help:      "Duty-cycle on-fraction in effect.",
		}, []string{"loop"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_ticks_total",
			Help:      "Control loop ticks by result.",
		}, []string{"loop", "result"}),
		actuator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_on",
			Help:      "Output pin state (1 on, 0 off).",
		}, []string{"role"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_switches_total",
			Help:      "Output switch attempts by role and result.",
		}, []string{"role", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attemptFailures,
		m.acquisitions,
		m.attempts,
		m.temperature,
		m.humidity,
		m.setpoint,
		m.measured,
		m.output,
		m.onFraction,
		m.ticks,
		m.actuator,
		m.switches,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AttemptFailed(err error) {
	if m == nil {
		return
	}
	m.attemptFailures.WithLabelValues(cause(err)).Inc()
}

func (m *Metrics) Acquired(r sensor.Reading, attempts int) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues("ok").Inc()
	m.attempts.Observe(float64(attempts))
	m.temperature.Set(float64(r.Temperature))
	m.humidity.Set(float64(r.Humidity))
}

func (m *Metrics) Exhausted(error) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues("exhausted").Inc()
}

func (m *Metrics) StateChanged(climate.Dimension, climate.State) {}

func (m *Metrics) Ticked(t climate.Tick) {
	if m == nil {
		return
	}
	loop := t.Dimension.String()
	m.setpoint.WithLabelValues(loop).Set(float64(t.Setpoint))
	m.onFraction.WithLabelValues(loop).Set(float64(t.Decision.OnFraction))
	if t.Err != nil {
		m.ticks.WithLabelValues(loop, "sensor_failure").Inc()
		return
	}
	m.ticks.WithLabelValues(loop, "ok").Inc()
	m.measured.WithLabelValues(loop).Set(float64(t.Measured))
	m.output.WithLabelValues(loop).Set(float64(t.Output))
}

func (m *Metrics) Stopped(climate.Dimension, error) {}

func (m *Metrics) Switched(role gpio.Role, on bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.switches.WithLabelValues(role.String(), "error").Inc()
		return
	}
	m.switches.WithLabelValues(role.String(), "ok").Inc()
	v := 0.0
	if on {
		v = 1
	}
	m.actuator.WithLabelValues(role.String()).Set(v)
}

func cause(err error) string {
	switch {
	case errors.Is(err, sensor.ErrTimeout):
		return "timeout"
	case errors.Is(err, sensor.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, sensor.ErrImplausible):
		return "implausible"
	case errors.Is(err, gpio.ErrPinUnavailable):
		return "pin_unavailable"
	default:
		return "other"
	}
}
