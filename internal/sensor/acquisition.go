package sensor

import "fmt"

// DefaultAttempts is the retry bound of one acquisition.
const DefaultAttempts = 5

// Limits is the plausibility window for a reading.
type Limits struct {
	TemperatureMin float32 `yaml:"temperature_min"`
	TemperatureMax float32 `yaml:"temperature_max"`
	HumidityMin    float32 `yaml:"humidity_min"`
	HumidityMax    float32 `yaml:"humidity_max"`
}

// DefaultLimits accepts 0–50 °C and 0–100 %RH.
func DefaultLimits() Limits {
	return Limits{
		TemperatureMin: 0,
		TemperatureMax: 50,
		HumidityMin:    0,
		HumidityMax:    100,
	}
}

// Check returns ErrImplausible when r falls outside the window.
func (l Limits) Check(r Reading) error {
	if r.Temperature < l.TemperatureMin || r.Temperature > l.TemperatureMax {
		return fmt.Errorf("%w: temperature %.1f outside [%.1f, %.1f]", ErrImplausible, r.Temperature, l.TemperatureMin, l.TemperatureMax)
	}
	if r.Humidity < l.HumidityMin || r.Humidity > l.HumidityMax {
		return fmt.Errorf("%w: humidity %.1f outside [%.1f, %.1f]", ErrImplausible, r.Humidity, l.HumidityMin, l.HumidityMax)
	}
	return nil
}

// Reader performs one raw transaction. *Link implements it.
type Reader interface {
	Read() (Reading, error)
}

// Observer receives acquisition outcomes, for metrics.
type Observer interface {
	// AttemptFailed is called for each failed attempt, protocol or plausibility.
	AttemptFailed(err error)
	// Acquired is called once per successful acquisition.
	Acquired(r Reading, attempts int)
	// Exhausted is called when the retry bound is reached.
	Exhausted(err error)
}

// Observers fans acquisition outcomes out to several observers.
type Observers []Observer

func (o Observers) AttemptFailed(err error) {
	for _, ob := range o {
		ob.AttemptFailed(err)
	}
}

func (o Observers) Acquired(r Reading, attempts int) {
	for _, ob := range o {
		ob.Acquired(r, attempts)
	}
}

func (o Observers) Exhausted(err error) {
	for _, ob := range o {
		ob.Exhausted(err)
	}
}

// Acquisition produces validated readings from a noisy Reader.
type Acquisition struct {
	reader   Reader
	attempts int
	limits   Limits
	observer Observer
}

// NewAcquisition wraps reader. attempts < 1 uses DefaultAttempts; observer may
// be nil.
func NewAcquisition(reader Reader, attempts int, limits Limits, observer Observer) *Acquisition {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	return &Acquisition{
		reader:   reader,
		attempts: attempts,
		limits:   limits,
		observer: observer,
	}
}

// Acquire attempts the full protocol up to the retry bound with no backoff.
// A reading outside the plausibility window consumes an attempt exactly like
// a protocol failure. Safe for concurrent use.
func (a *Acquisition) Acquire() (Reading, error) {
	var last error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		r, err := a.reader.Read()
		if err == nil {
			err = a.limits.Check(r)
		}
		if err == nil {
			if a.observer != nil {
				a.observer.Acquired(r, attempt)
			}
			return r, nil
		}
		last = err
		if a.observer != nil {
			a.observer.AttemptFailed(err)
		}
	}

	err := &ExhaustedError{Attempts: a.attempts, Last: last}
	if a.observer != nil {
		a.observer.Exhausted(err)
	}
	return Reading{}, err
}
