package main

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// Simulated chamber physics, per second.
const (
	ambientTemperature = 18.0
	ambientHumidity    = 55.0
	heaterRate         = 0.05
	humidifierRate     = 0.4
	leakRate           = 0.002
)

// wireClock is virtual time for the simulated sensor line. Every reading of
// the clock moves it forward a little, so the link and the simulator agree on
// pulse widths without depending on scheduler latency.
type wireClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *wireClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *wireClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// chamber stands in for the hardware under -simulate. The heater and
// humidifier pins push the climate up; without them it drifts back to
// ambient.
type chamber struct {
	backend    *gpio.FakeBackend
	clock      *wireClock
	heater     int
	humidifier int

	mu          sync.Mutex
	temperature float64
	humidity    float64
}

func newChamber(m gpio.Mapping) *chamber {
	c := &chamber{
		backend:     gpio.NewFakeBackend(),
		clock:       &wireClock{t: time.Now(), step: 500 * time.Nanosecond},
		heater:      m[gpio.Heater],
		humidifier:  m[gpio.Humidifier],
		temperature: ambientTemperature,
		humidity:    ambientHumidity,
	}
	c.backend.Attach(m[gpio.Sensor], sensor.NewSimulator(c.clock, c.frame))
	return c
}

func (c *chamber) frame() sensor.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sensor.FrameFor(sensor.Reading{
		Temperature: float32(c.temperature),
		Humidity:    float32(c.humidity),
	})
}

func (c *chamber) climate() (temperature, humidity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temperature, c.humidity
}

// step advances the model by dt.
func (c *chamber) step(dt time.Duration) {
	s := dt.Seconds()
	heating := c.backend.Level(c.heater) == gpio.High
	humidifying := c.backend.Level(c.humidifier) == gpio.High

	c.mu.Lock()
	defer c.mu.Unlock()
	c.temperature += (ambientTemperature - c.temperature) * leakRate * s
	if heating {
		c.temperature += heaterRate * s
	}
	c.humidity += (ambientHumidity - c.humidity) * leakRate * s
	if humidifying {
		c.humidity += humidifierRate * s
	}
	if c.humidity > 99.9 {
		c.humidity = 99.9
	}
}

// run steps the model every dt until ctx is done.
func (c *chamber) run(ctx context.Context, dt time.Duration) error {
	ticker := time.NewTicker(dt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.step(dt)
		}
	}
}
