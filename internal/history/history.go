// Package history logs chamber readings on a schedule: each run acquires a
// reading, stores it, publishes it over MQTT and records it for the status
// page.
package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sweeney/fermentation-pi/internal/mqtt"
	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// DefaultSchedule logs once a minute.
const DefaultSchedule = "@every 1m"

// Acquirer produces validated readings.
type Acquirer interface {
	Acquire() (sensor.Reading, error)
}

// Store persists readings. *store.Store implements it.
type Store interface {
	AddReading(at time.Time, r sensor.Reading) error
}

// Recorder receives every logged reading. *status.Tracker implements it.
type Recorder interface {
	RecordReading(at time.Time, r sensor.Reading)
}

// Logger is the background sensor-history worker.
type Logger struct {
	cron     *cron.Cron
	acq      Acquirer
	store    Store
	pub      mqtt.Publisher
	recorder Recorder
	now      func() time.Time
}

// New creates a Logger for schedule, a cron spec such as "@every 1m" or
// "*/5 * * * *". Runs that would overlap a still running one are skipped.
// pub and recorder may be nil.
func New(schedule string, acq Acquirer, st Store, pub mqtt.Publisher, recorder Recorder) (*Logger, error) {
	l := &Logger{
		acq:      acq,
		store:    st,
		pub:      pub,
		recorder: recorder,
		now:      time.Now,
	}
	l.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := l.cron.AddFunc(schedule, func() {
		if err := l.LogOnce(); err != nil {
			log.Printf("history: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("history: schedule %q: %w", schedule, err)
	}
	return l, nil
}

// LogOnce acquires, stores and publishes one reading. A storage failure is
// returned; a publish failure is only logged.
func (l *Logger) LogOnce() error {
	at := l.now()
	r, err := l.acq.Acquire()
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	if l.recorder != nil {
		l.recorder.RecordReading(at, r)
	}
	if err := l.store.AddReading(at, r); err != nil {
		return fmt.Errorf("store reading: %w", err)
	}
	if l.pub != nil {
		if err := l.pub.PublishReading(at, r); err != nil {
			log.Printf("history: publish reading: %v", err)
		}
	}
	log.Printf("history: logged %v", r)
	return nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running log to finish.
func (l *Logger) Run(ctx context.Context) error {
	l.cron.Start()
	<-ctx.Done()
	<-l.cron.Stop().Done()
	return nil
}
