package climate

import (
	"context"
	"log"
	"sync"
)

// Supervisor runs one loop per config and restarts them all on Reload, so a
// newly started project or changed settings take effect. Restarting resets
// the PID state as a process restart would.
type Supervisor struct {
	configs  []Config
	source   SettingsSource
	acq      Acquirer
	sw       Switch
	observer Observer
	reload   chan struct{}
}

// NewSupervisor creates a supervisor. observer may be nil.
func NewSupervisor(configs []Config, source SettingsSource, acq Acquirer, sw Switch, observer Observer) *Supervisor {
	return &Supervisor{
		configs:  configs,
		source:   source,
		acq:      acq,
		sw:       sw,
		observer: observer,
		reload:   make(chan struct{}, 1),
	}
}

// Reload asks the supervisor to restart its loops. It never blocks.
func (s *Supervisor) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done. A loop that fails to initialize stays down
// until the next Reload without affecting the others.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		for _, cfg := range s.configs {
			wg.Add(1)
			go func(cfg Config) {
				defer wg.Done()
				loop := NewLoop(cfg, s.source, s.acq, s.sw, s.observer)
				if err := loop.Run(runCtx); err != nil {
					log.Printf("climate: %s loop not running: %v", cfg.Dimension, err)
				}
			}(cfg)
		}

		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil
		case <-s.reload:
			log.Printf("climate: reloading control loops")
			cancel()
			wg.Wait()
		}
	}
}
