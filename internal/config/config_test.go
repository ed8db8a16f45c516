package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/gpio"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultMapping(t *testing.T) {
	m := Default().Mapping()
	want := gpio.DefaultMapping()
	for role, pin := range want {
		if m[role] != pin {
			t.Errorf("%s: got %d, want %d", role, m[role], pin)
		}
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Humidity.Period != 10*time.Second {
		t.Errorf("humidity period: got %v", cfg.Humidity.Period)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db: /tmp/f.db
broker: tcp://broker:1883
pins:
  heater: 5
temperature:
  period: 2s
  gains:
    kp: 4
    ki: 0.1
    kd: 0
  saturation: 0.98
sensor:
  attempts: 3
  limits:
    temperature_max: 40
history:
  schedule: "*/5 * * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB != "/tmp/f.db" || cfg.Broker != "tcp://broker:1883" {
		t.Errorf("db/broker: got %q/%q", cfg.DB, cfg.Broker)
	}
	if cfg.Pins.Heater != 5 || cfg.Pins.Humidifier != gpio.DefaultPinHumidifier {
		t.Errorf("pins: got %+v", cfg.Pins)
	}
	if cfg.Temperature.Period != 2*time.Second {
		t.Errorf("temperature period: got %v", cfg.Temperature.Period)
	}
	if cfg.Temperature.Gains != (climate.Gains{P: 4, I: 0.1}) {
		t.Errorf("gains: got %+v", cfg.Temperature.Gains)
	}
	if cfg.Temperature.Limit != climate.DefaultLimit {
		t.Errorf("limit should keep its default, got %v", cfg.Temperature.Limit)
	}
	if cfg.Sensor.Attempts != 3 || cfg.Sensor.Limits.TemperatureMax != 40 || cfg.Sensor.Limits.HumidityMax != 100 {
		t.Errorf("sensor: got %+v", cfg.Sensor)
	}
	if cfg.History.Schedule != "*/5 * * * *" {
		t.Errorf("schedule: got %q", cfg.History.Schedule)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "brokr: tcp://typo:1883\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want not exist", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate pins", func(c *Config) { c.Pins.Heater = c.Pins.Humidifier }},
		{"negative pin", func(c *Config) { c.Pins.Sensor = -1 }},
		{"zero attempts", func(c *Config) { c.Sensor.Attempts = 0 }},
		{"inverted temperature limits", func(c *Config) { c.Sensor.Limits.TemperatureMin = 60 }},
		{"inverted humidity limits", func(c *Config) { c.Sensor.Limits.HumidityMax = -1 }},
		{"zero period", func(c *Config) { c.Humidity.Period = 0 }},
		{"zero limit", func(c *Config) { c.Temperature.Limit = 0 }},
		{"saturation above one", func(c *Config) { c.Temperature.Saturation = 1.5 }},
		{"empty schedule", func(c *Config) { c.History.Schedule = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoops(t *testing.T) {
	loops := Default().Loops()
	if len(loops) != 2 {
		t.Fatalf("got %d loops", len(loops))
	}
	if loops[0].Dimension != climate.Temperature || loops[1].Dimension != climate.Humidity {
		t.Errorf("order: got %v, %v", loops[0].Dimension, loops[1].Dimension)
	}
	if loops[1].Period != 10*time.Second || loops[0].Period != time.Second {
		t.Errorf("periods: got %v, %v", loops[0].Period, loops[1].Period)
	}
}

func TestLink(t *testing.T) {
	l := Default().Link()
	if l.StartHold != 18*time.Millisecond || l.Timeout != 300*time.Millisecond || l.BitThreshold != 30*time.Microsecond {
		t.Errorf("link: got %+v", l)
	}
}
