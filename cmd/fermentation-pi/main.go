// Command fermentation-pi holds a fermentation chamber at the temperature and
// humidity of the running project, logs readings, and serves a status page
// and REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/fermentation-pi/internal/actuator"
	"github.com/sweeney/fermentation-pi/internal/climate"
	"github.com/sweeney/fermentation-pi/internal/config"
	"github.com/sweeney/fermentation-pi/internal/gpio"
	"github.com/sweeney/fermentation-pi/internal/history"
	"github.com/sweeney/fermentation-pi/internal/metrics"
	"github.com/sweeney/fermentation-pi/internal/mqtt"
	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/status"
	"github.com/sweeney/fermentation-pi/internal/store"
	"github.com/sweeney/fermentation-pi/internal/web"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configPath string
	db         string
	httpAddr   string
	broker     string
	simulate   bool
	printState bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML configuration file (defaults apply when empty)")
	flag.StringVar(&o.db, "db", "", "Database path (overrides config)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP listen address (overrides config, \"off\" disables)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (overrides config)")
	flag.BoolVar(&o.simulate, "simulate", false, "Run against a simulated chamber instead of GPIO")
	flag.BoolVar(&o.printState, "print-state", false, "Print one sensor reading and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, o)

	var backend gpio.Backend
	var sim *chamber
	clock := sensor.RealClock
	if o.simulate {
		sim = newChamber(cfg.Mapping())
		backend = sim.backend
		clock = sim.clock
	} else {
		rb, err := gpio.NewRealBackend(cfg.Chip)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		backend = rb
	}

	if o.printState {
		return printState(cfg, backend, clock)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg, o.simulate))
	publisher := mqtt.NewRealPublisher(mqtt.Options{
		Broker:             cfg.Broker,
		ClientID:           cfg.ClientID,
		OnConnectionChange: tracker.SetMQTTConnected,
	})
	defer publisher.Close()

	d, err := newApp(cfg, backend, clock, tracker, publisher)
	if err != nil {
		return err
	}
	defer d.close()
	d.sim = sim

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.run(context.Background(), sigCh)
}

func applyOverrides(cfg *config.Config, o options) {
	if o.db != "" {
		cfg.DB = o.db
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = o.httpAddr
	}
	if o.broker != "" {
		cfg.Broker = o.broker
	}
}

func statusConfig(cfg config.Config, simulated bool) status.Config {
	return status.Config{
		TemperaturePeriod: cfg.Temperature.Period,
		HumidityPeriod:    cfg.Humidity.Period,
		LogSchedule:       cfg.History.Schedule,
		Broker:            cfg.Broker,
		HTTPAddr:          cfg.HTTPAddr,
		Simulated:         simulated,
	}
}

// printState performs a single acquisition and prints it.
func printState(cfg config.Config, backend gpio.Backend, clock sensor.Clock) error {
	reg, err := gpio.NewRegistry(backend, cfg.Mapping())
	if err != nil {
		backend.Close()
		return err
	}
	defer reg.Close()

	acq := sensor.NewAcquisition(sensor.NewLink(reg, clock, cfg.Link()), cfg.Sensor.Attempts, cfg.Sensor.Limits, nil)
	r, err := acq.Acquire()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	fmt.Printf("Temperature: %.1f C, Humidity: %.1f %%\n", r.Temperature, r.Humidity)
	return nil
}

// app is the assembled controller.
type app struct {
	cfg       config.Config
	reg       *gpio.Registry
	ctrl      *actuator.Control
	lights    *actuator.Indicators
	acq       *sensor.Acquisition
	metrics   *metrics.Metrics
	tracker   *status.Tracker
	store     *store.Store
	publisher mqtt.Publisher
	conn      mqtt.ConnectionStatus
	sup       *climate.Supervisor
	logger    *history.Logger
	web       *web.Server
	ln        net.Listener
	sim       *chamber
}

// newApp wires every component. The registry takes ownership of backend; the
// caller keeps ownership of publisher.
func newApp(cfg config.Config, backend gpio.Backend, clock sensor.Clock, tracker *status.Tracker, publisher mqtt.Publisher) (*app, error) {
	d := &app{cfg: cfg, tracker: tracker, publisher: publisher, metrics: metrics.New()}
	d.conn, _ = publisher.(mqtt.ConnectionStatus)

	reg, err := gpio.NewRegistry(backend, cfg.Mapping())
	if err != nil {
		backend.Close()
		return nil, err
	}
	d.reg = reg

	d.ctrl = actuator.New(reg, actuator.Observers{d.metrics, tracker})
	d.lights = actuator.NewIndicators(d.ctrl)
	link := sensor.NewLink(reg, clock, cfg.Link())
	d.acq = sensor.NewAcquisition(link, cfg.Sensor.Attempts, cfg.Sensor.Limits, sensor.Observers{d.metrics, tracker, d.lights})

	st, err := store.Open(cfg.DB)
	if err != nil {
		reg.Close()
		return nil, err
	}
	d.store = st

	d.sup = climate.NewSupervisor(cfg.Loops(), st, d.acq, d.ctrl, climate.Observers{d.metrics, tracker, d.lights})

	d.logger, err = history.New(cfg.History.Schedule, d.acq, st, publisher, tracker)
	if err != nil {
		d.close()
		return nil, err
	}

	if cfg.HTTPAddr != "" {
		d.ln, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("http listen: %w", err)
		}
		d.web = web.New(cfg.HTTPAddr, web.Options{
			Tracker:   tracker,
			Store:     st,
			Acquirer:  d.acq,
			Reloader:  d.sup,
			Metrics:   d.metrics.Handler(),
			AccessLog: log.Writer(),
		})
	}
	return d, nil
}

// run starts every worker and blocks until a signal arrives, ctx is
// cancelled, or a worker fails. Outputs are off when it returns.
func (d *app) run(ctx context.Context, sig <-chan os.Signal) error {
	switch p, err := d.store.Active(); {
	case err == nil:
		d.tracker.SetProject(&p)
		log.Printf("active project: %q (id %d)", p.Name, p.ID)
	case errors.Is(err, store.ErrProjectNotFound):
		log.Printf("no active project, outputs stay off until one is started")
	default:
		log.Printf("read active project: %v", err)
	}

	d.lights.Running(true)
	d.publishSystem(mqtt.EventStartup, "")
	log.Printf("started: db=%s broker=%s http=%s temperature=%v humidity=%v",
		d.cfg.DB, d.cfg.Broker, d.cfg.HTTPAddr, d.cfg.Temperature.Period, d.cfg.Humidity.Period)
	notify(daemon.SdNotifyReady)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reason := ""
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return d.sup.Run(gctx) })
	g.Go(func() error { return d.logger.Run(gctx) })
	g.Go(func() error { return d.heartbeat(gctx) })
	if d.sim != nil {
		g.Go(func() error { return d.sim.run(gctx, time.Second) })
	}
	if d.web != nil {
		log.Printf("http server listening on %s", d.ln.Addr())
		g.Go(func() error {
			if err := d.web.Serve(d.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return d.web.Shutdown(sctx)
		})
	}

	err := g.Wait()
	notify(daemon.SdNotifyStopping)
	if err != nil && reason == "" {
		reason = "ERROR"
	}

	if offErr := d.ctrl.AllOff(); offErr != nil {
		log.Printf("switch outputs off: %v", offErr)
	}
	d.publishSystem(mqtt.EventShutdown, reason)
	return err
}

func (d *app) heartbeat(ctx context.Context) error {
	if d.cfg.Heartbeat <= 0 {
		return nil
	}
	ticker := time.NewTicker(d.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := d.tracker.Snapshot()
			log.Printf("heartbeat: up %s", humanize.RelTime(snap.StartTime, snap.Now, "", ""))
			d.publishSystem(mqtt.EventHeartbeat, "")
		}
	}
}

// publishSystem sends a lifecycle event carrying the full status snapshot.
func (d *app) publishSystem(event, reason string) {
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
	snap := d.tracker.Snapshot()
	e := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(e); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

// close releases the listener, the store and the pins.
func (d *app) close() {
	if d.ln != nil {
		d.ln.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
	if err := d.reg.Close(); err != nil {
		log.Printf("close gpio: %v", err)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// notify reports state to systemd. Outside a notify-socket unit it does nothing.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("sd_notify %q: %v", state, err)
	}
}
