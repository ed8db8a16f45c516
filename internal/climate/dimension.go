package climate

import (
	"fmt"

	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/store"
)

// Dimension is a controlled variable. The set is closed.
type Dimension int

const (
	Temperature Dimension = iota
	Humidity
)

func (d Dimension) String() string {
	switch d {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	default:
		return fmt.Sprintf("dimension(%d)", int(d))
	}
}

// Actuator is the output pin role that drives this dimension.
func (d Dimension) Actuator() gpio.Role {
	if d == Humidity {
		return gpio.Humidifier
	}
	return gpio.Heater
}

// Measure picks this dimension out of a reading.
func (d Dimension) Measure(r sensor.Reading) float32 {
	if d == Humidity {
		return r.Humidity
	}
	return r.Temperature
}

// Setpoint picks this dimension's target out of project settings.
func (d Dimension) Setpoint(s store.Settings) float32 {
	if d == Humidity {
		return s.Humidity
	}
	return s.Temperature
}
