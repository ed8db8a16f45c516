package sensor

import (
	"errors"
	"sync"
	"testing"
)

type result struct {
	r   Reading
	err error
}

// scriptedReader returns scripted results in order, repeating the last one.
type scriptedReader struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (s *scriptedReader) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].r, s.results[i].err
}

type recordingObserver struct {
	failed    []error
	acquired  []int
	exhausted int
}

func (o *recordingObserver) AttemptFailed(err error)          { o.failed = append(o.failed, err) }
func (o *recordingObserver) Acquired(r Reading, attempts int) { o.acquired = append(o.acquired, attempts) }
func (o *recordingObserver) Exhausted(err error)              { o.exhausted++ }

var good = Reading{Temperature: 22.5, Humidity: 65}

func TestAcquireFirstAttempt(t *testing.T) {
	rd := &scriptedReader{results: []result{{r: good}}}
	a := NewAcquisition(rd, 5, DefaultLimits(), nil)

	r, err := a.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != good {
		t.Errorf("got %v, want %v", r, good)
	}
	if rd.calls != 1 {
		t.Errorf("calls: got %d, want 1", rd.calls)
	}
}

func TestAcquireMasksTransientFailures(t *testing.T) {
	rd := &scriptedReader{results: []result{
		{err: ErrTimeout},
		{err: ErrChecksumMismatch},
		{r: good},
	}}
	obs := &recordingObserver{}
	a := NewAcquisition(rd, 5, DefaultLimits(), obs)

	r, err := a.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != good {
		t.Errorf("got %v, want %v", r, good)
	}
	if rd.calls != 3 {
		t.Errorf("calls: got %d, want 3", rd.calls)
	}
	if len(obs.failed) != 2 {
		t.Errorf("failed attempts: got %d, want 2", len(obs.failed))
	}
	if len(obs.acquired) != 1 || obs.acquired[0] != 3 {
		t.Errorf("acquired: got %v, want [3]", obs.acquired)
	}
}

func TestAcquireExhausted(t *testing.T) {
	rd := &scriptedReader{results: []result{{err: ErrChecksumMismatch}, {err: ErrTimeout}}}
	obs := &recordingObserver{}
	a := NewAcquisition(rd, 5, DefaultLimits(), obs)

	_, err := a.Acquire()
	if !errors.Is(err, ErrAcquisitionExhausted) {
		t.Fatalf("expected ErrAcquisitionExhausted, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected last cause ErrTimeout in chain, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 5 {
		t.Errorf("expected *ExhaustedError with 5 attempts, got %v", err)
	}
	if rd.calls != 5 {
		t.Errorf("calls: got %d, want 5", rd.calls)
	}
	if obs.exhausted != 1 {
		t.Errorf("exhausted: got %d, want 1", obs.exhausted)
	}
}

func TestAcquireNeverExceedsBound(t *testing.T) {
	for _, attempts := range []int{1, 2, 5} {
		rd := &scriptedReader{results: []result{{err: ErrTimeout}}}
		a := NewAcquisition(rd, attempts, DefaultLimits(), nil)
		a.Acquire()
		if rd.calls != attempts {
			t.Errorf("attempts=%d: calls %d", attempts, rd.calls)
		}
	}
}

func TestAcquireDefaultAttempts(t *testing.T) {
	rd := &scriptedReader{results: []result{{err: ErrTimeout}}}
	a := NewAcquisition(rd, 0, DefaultLimits(), nil)
	a.Acquire()
	if rd.calls != DefaultAttempts {
		t.Errorf("calls: got %d, want %d", rd.calls, DefaultAttempts)
	}
}

func TestAcquireRejectsImplausible(t *testing.T) {
	tests := []struct {
		name string
		r    Reading
	}{
		{"hot", Reading{Temperature: 60.0, Humidity: 50}},
		{"negative humidity", Reading{Temperature: 20, Humidity: -5.0}},
		{"cold", Reading{Temperature: -0.1, Humidity: 50}},
		{"saturated", Reading{Temperature: 20, Humidity: 100.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rd := &scriptedReader{results: []result{{r: tt.r}}}
			a := NewAcquisition(rd, 5, DefaultLimits(), nil)

			_, err := a.Acquire()
			if !errors.Is(err, ErrImplausible) {
				t.Fatalf("expected ErrImplausible, got %v", err)
			}
			if rd.calls != 5 {
				t.Errorf("calls: got %d, want 5", rd.calls)
			}
		})
	}
}

func TestAcquireImplausibleConsumesRetry(t *testing.T) {
	rd := &scriptedReader{results: []result{
		{r: Reading{Temperature: 60.0, Humidity: 50}},
		{err: ErrTimeout},
		{r: Reading{Temperature: 20, Humidity: -5.0}},
		{r: good},
	}}
	a := NewAcquisition(rd, 5, DefaultLimits(), nil)

	r, err := a.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != good || rd.calls != 4 {
		t.Errorf("got %v after %d calls, want %v after 4", r, rd.calls, good)
	}
}

func TestLimitsBoundsInclusive(t *testing.T) {
	l := DefaultLimits()
	for _, r := range []Reading{{0, 0}, {50, 100}} {
		if err := l.Check(r); err != nil {
			t.Errorf("%v: %v", r, err)
		}
	}
}

func TestAcquireConcurrentOverLink(t *testing.T) {
	rig := newSimRig(t, LinkConfig{})
	rig.setFrame(FrameFor(good))
	a := NewAcquisition(rig.link, 5, DefaultLimits(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 9)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				r, err := a.Acquire()
				if err == nil && r != good {
					err = errors.New("unexpected reading " + r.String())
				}
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
