package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/fermentation-pi/internal/mqtt"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/store"
)

type fixedAcquirer struct {
	mu    sync.Mutex
	r     sensor.Reading
	err   error
	calls int
}

func (a *fixedAcquirer) Acquire() (sensor.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.r, a.err
}

func (a *fixedAcquirer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recorder struct {
	mu  sync.Mutex
	got []sensor.Reading
}

func (r *recorder) RecordReading(at time.Time, rd sensor.Reading) {
	r.mu.Lock()
	r.got = append(r.got, rd)
	r.mu.Unlock()
}

type failingStore struct{}

func (failingStore) AddReading(time.Time, sensor.Reading) error { return errors.New("disk full") }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLogOnce(t *testing.T) {
	st := openStore(t)
	pub := mqtt.NewFakePublisher()
	rec := &recorder{}
	acq := &fixedAcquirer{r: sensor.Reading{Temperature: 22, Humidity: 68}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l, err := New(DefaultSchedule, acq, st, pub, rec)
	if err != nil {
		t.Fatal(err)
	}
	l.now = func() time.Time { return now }

	if err := l.LogOnce(); err != nil {
		t.Fatalf("LogOnce: %v", err)
	}

	records, err := st.Readings(now, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Temperature != 22 || !records[0].Time.Equal(now) {
		t.Errorf("stored: got %+v", records)
	}
	if got := pub.Readings(); len(got) != 1 || !got[0].At.Equal(now) {
		t.Errorf("published: got %+v", got)
	}
	if len(rec.got) != 1 {
		t.Errorf("recorded: got %d", len(rec.got))
	}
}

func TestLogOnceAcquisitionFailure(t *testing.T) {
	st := openStore(t)
	pub := mqtt.NewFakePublisher()
	acq := &fixedAcquirer{err: &sensor.ExhaustedError{Attempts: 5, Last: sensor.ErrTimeout}}

	l, err := New(DefaultSchedule, acq, st, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = l.LogOnce()
	if !errors.Is(err, sensor.ErrAcquisitionExhausted) {
		t.Fatalf("got %v, want exhausted", err)
	}
	if len(pub.Readings()) != 0 {
		t.Error("nothing should be published after a failed acquisition")
	}
}

func TestLogOnceStoreFailure(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l, err := New(DefaultSchedule, &fixedAcquirer{}, failingStore{}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.LogOnce(); err == nil {
		t.Fatal("expected store error")
	}
	if len(pub.Readings()) != 0 {
		t.Error("unstored reading should not be published")
	}
}

func TestLogOncePublishFailureIsNotFatal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.FailReadings(errors.New("broker down"))
	l, err := New(DefaultSchedule, &fixedAcquirer{}, openStore(t), pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.LogOnce(); err != nil {
		t.Errorf("publish failure should not fail the run: %v", err)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New("every so often", &fixedAcquirer{}, failingStore{}, nil, nil); err == nil {
		t.Error("expected schedule parse error")
	}
}

func TestRunOnSchedule(t *testing.T) {
	st := openStore(t)
	acq := &fixedAcquirer{r: sensor.Reading{Temperature: 20, Humidity: 70}}
	l, err := New("@every 1s", acq, st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for acq.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if acq.Calls() == 0 {
		t.Fatal("scheduled run never happened")
	}
}
