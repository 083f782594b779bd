package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/logging"
	"github.com/breeze-rmm/swtrack/internal/scanner"
	"github.com/breeze-rmm/swtrack/internal/tracker"
	"github.com/breeze-rmm/swtrack/internal/workerpool"
)

const maxBodyBytes = 64 * 1024

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metricsHandler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/software", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleAdd)
			r.Put("/{index}", s.handleUpdate)
			r.Delete("/{index}", s.handleRemove)
		})
		r.Post("/scan", s.handleScan)
		r.Get("/scan", s.handleScanStatus)
	})
}

type recordView struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	InstalledOn string `json:"installedOn"`
	Status      string `json:"status"`
}

func viewOf(i int, r inventory.Record) recordView {
	return recordView{
		Index:       i,
		Name:        r.Name,
		Version:     r.Version,
		InstalledOn: r.DateString(),
		Status:      string(r.Status),
	}
}

type listResponse struct {
	Count    int          `json:"count"`
	Software []recordView `json:"software"`
}

type mutationResponse struct {
	Record  *recordView `json:"record,omitempty"`
	Removed bool        `json:"removed,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

type scanResponse struct {
	Added      int    `json:"added"`
	Total      int    `json:"total"`
	Strategy   string `json:"strategy"`
	DurationMs int64  `json:"durationMs"`
	Warning    string `json:"warning,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records := s.svc.ListAll()
	resp := listResponse{Count: len(records), Software: make([]recordView, 0, len(records))}
	for i, rec := range records {
		resp.Software = append(resp.Software, viewOf(i, rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	rec, index, err := s.svc.AddRecord(in)
	warning, err := splitPersistError(err)
	if err != nil {
		respondMutationError(w, err)
		return
	}

	view := viewOf(index, rec)
	respondJSON(w, http.StatusCreated, mutationResponse{Record: &view, Warning: warning})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}

	found, err := s.svc.UpdateRecord(index, in)
	warning, err := splitPersistError(err)
	if err != nil {
		respondMutationError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no record at index %d", index))
		return
	}

	rec, _ := s.svc.Get(index)
	view := viewOf(index, rec)
	respondJSON(w, http.StatusOK, mutationResponse{Record: &view, Warning: warning})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}

	found, err := s.svc.RemoveRecord(index)
	warning, err := splitPersistError(err)
	if err != nil {
		respondMutationError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no record at index %d", index))
		return
	}
	respondJSON(w, http.StatusOK, mutationResponse{Removed: true, Warning: warning})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		s.startAsyncScan(w)
		return
	}

	res, err := s.svc.Scan(r.Context())
	if err != nil {
		if errors.Is(err, tracker.ErrNoScanner) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, scanResponseOf(res))
}

func (s *Server) startAsyncScan(w http.ResponseWriter) {
	if s.svc.Scanning() || s.scans.Busy() {
		respondError(w, http.StatusConflict, scanner.ErrScanInProgress.Error())
		return
	}

	err := s.scans.Submit(func(ctx context.Context) {
		res, err := s.svc.TryScan(ctx)
		switch {
		case err != nil:
			log.Warn("background scan did not complete", logging.KeyError, err)
		case res.PersistErr != nil:
			log.Error("background scan could not save", logging.KeyError, res.PersistErr)
		}
	})
	switch {
	case errors.Is(err, workerpool.ErrQueueFull):
		respondError(w, http.StatusConflict, scanner.ErrScanInProgress.Error())
		return
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"inProgress": s.svc.Scanning() || s.scans.Busy()})
}

// handleHealth reports 503 only when the inventory file cannot be written;
// missing scan tools leave the service usable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": string(health.Unknown)})
		return
	}
	status := http.StatusOK
	if c, ok := s.health.Get(scanner.ComponentStorage); ok && c.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, s.health.Report())
}

func scanResponseOf(res scanner.Result) scanResponse {
	resp := scanResponse{
		Added:      res.Added,
		Total:      res.Total,
		Strategy:   res.Strategy,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.PersistErr != nil {
		resp.Warning = res.PersistErr.Error()
	}
	return resp
}

func decodeInput(w http.ResponseWriter, r *http.Request) (tracker.RecordInput, bool) {
	var in tracker.RecordInput
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return in, false
	}
	return in, true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid index %q", raw))
		return 0, false
	}
	return i, true
}

// splitPersistError turns a save failure into a warning; the change itself
// is kept in memory.
func splitPersistError(err error) (string, error) {
	var pe *inventory.PersistError
	if errors.As(err, &pe) {
		return pe.Error(), nil
	}
	return "", err
}

func respondMutationError(w http.ResponseWriter, err error) {
	var ve *tracker.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug("failed to write response", logging.KeyError, err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
