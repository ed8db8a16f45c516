package climate

import (
	"math"
	"time"
)

// Decision is the duty cycle for one tick.
type Decision struct {
	OnFraction float32       // in [0,1]
	Period     time.Duration // cycle length
}

// Decide normalizes a controller output into an on-fraction. Actuators only
// add heat or humidity, so negative output means off.
func Decide(output, limit float32, period time.Duration) Decision {
	var frac float32
	if limit > 0 {
		frac = output / limit
	}
	if frac < 0 || frac != frac {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return Decision{OnFraction: frac, Period: period}
}

// OnTime is the on-fraction of the period, rounded to whole milliseconds.
func (d Decision) OnTime() time.Duration {
	ms := math.Round(float64(d.OnFraction) * float64(d.Period) / float64(time.Millisecond))
	on := time.Duration(ms) * time.Millisecond
	if on > d.Period {
		on = d.Period
	}
	if on < 0 {
		on = 0
	}
	return on
}

// OffTime is the rest of the period. OnTime()+OffTime() == Period.
func (d Decision) OffTime() time.Duration {
	return d.Period - d.OnTime()
}

// Saturated reports whether the actuator should stay on through the whole
// cycle instead of toggling.
func (d Decision) Saturated(threshold float32) bool {
	return d.OnFraction > threshold
}
