package climate

// Observer receives loop lifecycle and tick reports.
type Observer interface {
	StateChanged(d Dimension, s State)
	Ticked(t Tick)
	// Stopped is called when a loop exits; err is non-nil if it never started.
	Stopped(d Dimension, err error)
}

// Observers fans reports out to several observers.
type Observers []Observer

func (o Observers) StateChanged(d Dimension, s State) {
	for _, ob := range o {
		ob.StateChanged(d, s)
	}
}

func (o Observers) Ticked(t Tick) {
	for _, ob := range o {
		ob.Ticked(t)
	}
}

func (o Observers) Stopped(d Dimension, err error) {
	for _, ob := range o {
		ob.Stopped(d, err)
	}
}
