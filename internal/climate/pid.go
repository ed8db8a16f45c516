package climate

// Gains are the PID coefficients.
type Gains struct {
	P float32 `yaml:"kp"`
	I float32 `yaml:"ki"`
	D float32 `yaml:"kd"`
}

// PID is a discrete controller evaluated once per loop tick on the error
// setpoint - measured. The integrator and the output are both clamped to
// ±Limit so the integrator cannot wind up while the actuator is saturated.
//
// Not safe for concurrent use.
type PID struct {
	Setpoint float32
	Gains    Gains
	Limit    float32

	integral  float32
	prevError float32
	primed    bool
}

// NewPID creates a controller with an empty integrator.
func NewPID(setpoint float32, gains Gains, limit float32) *PID {
	if limit < 0 {
		limit = -limit
	}
	return &PID{Setpoint: setpoint, Gains: gains, Limit: limit}
}

// Update feeds one measurement and returns the clamped control output.
func (p *PID) Update(measured float32) float32 {
	err := p.Setpoint - measured

	p.integral = clamp(p.integral+p.Gains.I*err, p.Limit)

	var derivative float32
	if p.primed {
		derivative = p.Gains.D * (err - p.prevError)
	}
	p.prevError = err
	p.primed = true

	return clamp(p.Gains.P*err+p.integral+derivative, p.Limit)
}

// Integral returns the accumulated integral term.
func (p *PID) Integral() float32 {
	return p.integral
}

// Reset clears the integrator and derivative history.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.primed = false
}

func clamp(v, limit float32) float32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
