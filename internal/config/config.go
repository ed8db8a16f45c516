// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/history"
	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the daemon configuration.
type Config struct {
	DB        string        `yaml:"db"`
	HTTPAddr  string        `yaml:"http"`
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Chip      string        `yaml:"chip"`

	Pins        Pins    `yaml:"pins"`
	Sensor      Sensor  `yaml:"sensor"`
	Temperature Loop    `yaml:"temperature"`
	Humidity    Loop    `yaml:"humidity"`
	History     History `yaml:"history"`
}

// Pins are BCM pin numbers per role.
type Pins struct {
	Sensor     int `yaml:"sensor"`
	Heater     int `yaml:"heater"`
	Humidifier int `yaml:"humidifier"`
	Indicator1 int `yaml:"indicator1"`
	Indicator2 int `yaml:"indicator2"`
	Indicator3 int `yaml:"indicator3"`
}

// Sensor configures acquisition.
type Sensor struct {
	Attempts     int           `yaml:"attempts"`
	Limits       sensor.Limits `yaml:"limits"`
	StartHold    time.Duration `yaml:"start_hold"`
	Timeout      time.Duration `yaml:"timeout"`
	BitThreshold time.Duration `yaml:"bit_threshold"`
}

// Loop configures one control loop.
type Loop struct {
	Period     time.Duration `yaml:"period"`
	Gains      climate.Gains `yaml:"gains"`
	Limit      float32       `yaml:"limit"`
	Saturation float32       `yaml:"saturation"`
}

// History configures the reading logger.
type History struct {
	Schedule string `yaml:"schedule"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DB:        "/var/lib/fermentation-pi/fermentation.db",
		HTTPAddr:  ":8080",
		Broker:    "tcp://localhost:1883",
		ClientID:  "fermentation-pi",
		Heartbeat: 15 * time.Minute,
		Chip:      "gpiochip0",
		Pins: Pins{
			Sensor:     gpio.DefaultPinSensor,
			Heater:     gpio.DefaultPinHeater,
			Humidifier: gpio.DefaultPinHumidifier,
			Indicator1: gpio.DefaultPinIndicator1,
			Indicator2: gpio.DefaultPinIndicator2,
			Indicator3: gpio.DefaultPinIndicator3,
		},
		Sensor: Sensor{
			Attempts:     sensor.DefaultAttempts,
			Limits:       sensor.DefaultLimits(),
			StartHold:    sensor.DefaultStartHold,
			Timeout:      sensor.DefaultTimeout,
			BitThreshold: sensor.DefaultBitThreshold,
		},
		Temperature: Loop{
			Period:     time.Second,
			Gains:      climate.Gains{P: 10, I: 0.5, D: 2},
			Limit:      climate.DefaultLimit,
			Saturation: climate.DefaultSaturation,
		},
		Humidity: Loop{
			Period:     10 * time.Second,
			Gains:      climate.Gains{P: 5, I: 0.2, D: 1},
			Limit:      climate.DefaultLimit,
			Saturation: climate.DefaultSaturation,
		},
		History: History{Schedule: history.DefaultSchedule},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	if err := c.Mapping().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Sensor.Attempts < 1 {
		return fmt.Errorf("%w: sensor.attempts must be at least 1, got %d", ErrInvalid, c.Sensor.Attempts)
	}
	l := c.Sensor.Limits
	if l.TemperatureMin > l.TemperatureMax || l.HumidityMin > l.HumidityMax {
		return fmt.Errorf("%w: sensor.limits min above max", ErrInvalid)
	}
	for _, nl := range []struct {
		name string
		loop Loop
	}{{"temperature", c.Temperature}, {"humidity", c.Humidity}} {
		name, loop := nl.name, nl.loop
		if loop.Period <= 0 {
			return fmt.Errorf("%w: %s.period must be positive", ErrInvalid, name)
		}
		if loop.Limit <= 0 {
			return fmt.Errorf("%w: %s.limit must be positive", ErrInvalid, name)
		}
		if loop.Saturation <= 0 || loop.Saturation > 1 {
			return fmt.Errorf("%w: %s.saturation must be in (0, 1]", ErrInvalid, name)
		}
	}
	if c.History.Schedule == "" {
		return fmt.Errorf("%w: history.schedule is empty", ErrInvalid)
	}
	return nil
}

// Mapping returns the pin mapping.
func (c Config) Mapping() gpio.Mapping {
	return gpio.Mapping{
		gpio.Sensor:     c.Pins.Sensor,
		gpio.Heater:     c.Pins.Heater,
		gpio.Humidifier: c.Pins.Humidifier,
		gpio.Indicator1: c.Pins.Indicator1,
		gpio.Indicator2: c.Pins.Indicator2,
		gpio.Indicator3: c.Pins.Indicator3,
	}
}

// Link returns the sensor protocol timing.
func (c Config) Link() sensor.LinkConfig {
	return sensor.LinkConfig{
		StartHold:    c.Sensor.StartHold,
		Timeout:      c.Sensor.Timeout,
		BitThreshold: c.Sensor.BitThreshold,
	}
}

// Loops returns the control loop configurations, temperature first.
func (c Config) Loops() []climate.Config {
	return []climate.Config{
		c.Temperature.loopConfig(climate.Temperature),
		c.Humidity.loopConfig(climate.Humidity),
	}
}

func (l Loop) loopConfig(d climate.Dimension) climate.Config {
	return climate.Config{
		Dimension:  d,
		Period:     l.Period,
		Gains:      l.Gains,
		Limit:      l.Limit,
		Saturation: l.Saturation,
	}
}
