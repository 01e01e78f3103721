// Package server exposes the capture job API over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/railvision/wagon-capture/internal/export"
	"github.com/railvision/wagon-capture/internal/jobs"
	"github.com/railvision/wagon-capture/internal/metrics"
	"github.com/railvision/wagon-capture/internal/runstore"
)

const maxRequestBody = 1 << 20

// Options configure the handler.
type Options struct {
	EnablePprof bool
}

// Server serves the job API.
type Server struct {
	opts    Options
	jobs    *jobs.Manager
	store   *runstore.Store
	metrics *metrics.Metrics
	started time.Time
}

// New returns a server. store and m may be nil.
func New(opts Options, mgr *jobs.Manager, store *runstore.Store, m *metrics.Metrics) *Server {
	return &Server{
		opts:    opts,
		jobs:    mgr,
		store:   store,
		metrics: m,
		started: time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/jobs/{id}/captures", s.handleCaptures)
	mux.HandleFunc("GET /api/jobs/{id}/captures/{n}", s.handleCapture)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := s.jobs.Submit(req)
	switch {
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSONWithStatus(w, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	}, http.StatusAccepted)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before reading the snapshot so no update falls in between.
	subID, eventCh := s.jobs.Events().Subscribe()
	defer s.jobs.Events().Unsubscribe(subID)

	job, err := s.jobs.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	first, err := jobs.Serialize(job)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	streamJobEvents(w, r, first, eventCh, wantsProtobuf(r))
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	captures, err := s.jobs.Captures(id)
	if err != nil {
		writeJobError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "datauri" {
		uris := make([]string, len(captures))
		for i, c := range captures {
			uris[i] = export.DataURI(c)
		}
		writeJSON(w, map[string]any{"count": len(uris), "captures": uris})
		return
	}

	urls := make([]string, len(captures))
	for i := range captures {
		urls[i] = fmt.Sprintf("/api/jobs/%s/captures/%d", id, i+1)
	}
	writeJSON(w, map[string]any{"count": len(urls), "captures": urls})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, "capture index must be a number", http.StatusBadRequest)
		return
	}
	data, err := s.jobs.Capture(r.PathValue("id"), n)
	if err != nil {
		writeJobError(w, err)
		return
	}

	if width, _ := strconv.Atoi(r.URL.Query().Get("width")); width > 0 {
		thumb, err := thumbnail(data, width)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data = thumb
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func thumbnail(data []byte, width int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, export.Thumbnail(img, width), &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "run history is not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"event_clients":  s.jobs.Events().Clients(),
	}
	if s.metrics != nil {
		payload["active_runs"] = s.metrics.ActiveRuns.Load()
		payload["queued_jobs"] = s.metrics.QueuedJobs.Load()
	}
	writeJSON(w, payload)
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrNoCapture):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, jobs.ErrNotFinished):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
