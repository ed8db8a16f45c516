package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/fermentation-pi/internal/store"
)

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type settingsRequest struct {
	Temperature *float32 `json:"temperature"`
	Humidity    *float32 `json:"humidity"`
}

type readingJSON struct {
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

type historicJSON struct {
	Time        int64   `json:"time"`
	Temperature float32 `json:"temperature"`
	Humidity    float32 `json:"humidity"`
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	at := s.now()
	rd, err := s.acq.Acquire()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, readingJSON{
		Temperature: rd.Temperature,
		Humidity:    rd.Humidity,
		Timestamp:   at.UTC().Format(time.RFC3339),
	})
}

// handleHistoric returns the readings between two unix timestamps, inclusive.
func (s *Server) handleHistoric(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	start, err1 := strconv.ParseInt(vars["start"], 10, 64)
	end, err2 := strconv.ParseInt(vars["end"], 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.store.Readings(time.Unix(start, 0), time.Unix(end, 0))
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]historicJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, historicJSON{
			Time:        rec.Time.Unix(),
			Temperature: rec.Temperature,
			Humidity:    rec.Humidity,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.List()
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	p, err := s.store.Create(req.Name, req.Description, s.now())
	if err != nil {
		s.internalError(w, err)
		return
	}
	log.Printf("web: created project %d %q", p.ID, p.Name)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := s.store.Get(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.store.Update(id, req.Name, req.Description)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.refreshProject()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	wasActive := s.isActive(id)
	if err := s.store.Delete(id); err != nil {
		s.storeError(w, err)
		return
	}
	log.Printf("web: deleted project %d", id)
	if wasActive {
		s.projectChanged()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartProject(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "started", s.store.Start)
}

func (s *Server) handleEndProject(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, "ended", s.store.End)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, verb string, fn func(uint64, time.Time) (store.Project, error)) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := fn(id, s.now())
	if err != nil {
		s.storeError(w, err)
		return
	}
	log.Printf("web: project %d %s", id, verb)
	s.projectChanged()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Temperature == nil || req.Humidity == nil {
		writeError(w, http.StatusBadRequest, errors.New("temperature and humidity are required"))
		return
	}
	p, err := s.store.SetSettings(id, store.Settings{Temperature: *req.Temperature, Humidity: *req.Humidity})
	if err != nil {
		s.storeError(w, err)
		return
	}
	log.Printf("web: project %d settings: temperature=%.1f humidity=%.1f", id, p.Settings.Temperature, p.Settings.Humidity)
	if p.Active() {
		s.projectChanged()
	}
	writeJSON(w, http.StatusOK, p)
}

// projectChanged restarts the control loops and refreshes the status page.
func (s *Server) projectChanged() {
	if s.reloader != nil {
		s.reloader.Reload()
	}
	s.refreshProject()
}

func (s *Server) refreshProject() {
	p, err := s.store.Active()
	if err != nil {
		s.tracker.SetProject(nil)
		return
	}
	s.tracker.SetProject(&p)
}

func (s *Server) isActive(id uint64) bool {
	p, err := s.store.Get(id)
	return err == nil && p.Active()
}

func projectID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad project id: %w", err))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrProjectActive):
		writeError(w, http.StatusConflict, err)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Printf("web: %v", err)
	writeError(w, http.StatusInternalServerError, err)
}
