// Package web provides the HTTP surface of the fermentation-pi daemon: the
// status page, the project REST API, live and historic readings, and metrics.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/fermentation-pi/internal/sensor"
	"github.com/sweeney/fermentation-pi/internal/status"
	"github.com/sweeney/fermentation-pi/internal/store"
)

// Store is the project and history storage. *store.Store implements it.
type Store interface {
	List() ([]store.Project, error)
	Get(id uint64) (store.Project, error)
	Create(name, description string, now time.Time) (store.Project, error)
	Update(id uint64, name, description *string) (store.Project, error)
	Delete(id uint64) error
	Start(id uint64, at time.Time) (store.Project, error)
	End(id uint64, at time.Time) (store.Project, error)
	SetSettings(id uint64, s store.Settings) (store.Project, error)
	Active() (store.Project, error)
	Readings(from, to time.Time) ([]store.Record, error)
}

// Acquirer takes a live reading.
type Acquirer interface {
	Acquire() (sensor.Reading, error)
}

// Reloader restarts the control loops. *climate.Supervisor implements it.
type Reloader interface {
	Reload()
}

// Options wires the server to the rest of the daemon. Metrics, Reloader and
// AccessLog may be nil.
type Options struct {
	Tracker   *status.Tracker
	Store     Store
	Acquirer  Acquirer
	Reloader  Reloader
	Metrics   http.Handler
	AccessLog io.Writer
}

// Server serves the status page and REST API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	store      Store
	acq        Acquirer
	reloader   Reloader
	now        func() time.Time
}

// New creates a Server for addr. Connections are accepted by Serve.
func New(addr string, o Options) *Server {
	s := &Server{
		tracker:  o.Tracker,
		store:    o.Store,
		acq:      o.Acquirer,
		reloader: o.Reloader,
		now:      time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodGet)
	if o.Metrics != nil {
		r.Handle("/metrics", o.Metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/sensor", s.handleSensor).Methods(http.MethodGet)
	r.HandleFunc("/sensor/historic/{start:[0-9]+}/{end:[0-9]+}", s.handleHistoric).Methods(http.MethodGet)

	p := r.PathPrefix("/project").Subrouter()
	p.HandleFunc("", s.handleListProjects).Methods(http.MethodGet)
	p.HandleFunc("", s.handleCreateProject).Methods(http.MethodPost)
	p.HandleFunc("/{id:[0-9]+}", s.handleGetProject).Methods(http.MethodGet)
	p.HandleFunc("/{id:[0-9]+}", s.handleUpdateProject).Methods(http.MethodPut)
	p.HandleFunc("/{id:[0-9]+}", s.handleDeleteProject).Methods(http.MethodDelete)
	p.HandleFunc("/{id:[0-9]+}/start", s.handleStartProject).Methods(http.MethodPost)
	p.HandleFunc("/{id:[0-9]+}/end", s.handleEndProject).Methods(http.MethodPost)
	p.HandleFunc("/{id:[0-9]+}/settings", s.handleSettings).Methods(http.MethodPost)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log.Default()))(h)
	if o.AccessLog != nil {
		h = handlers.LoggingHandler(o.AccessLog, h)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

type heartbeatJSON struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, heartbeatJSON{
		Status:        "ok",
		UptimeSeconds: int64(snap.Uptime().Seconds()),
	})
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorJSON{Error: err.Error()})
}
