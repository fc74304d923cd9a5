// Package server provides the HTTP control surface for the analysis engine:
// phase start/stop/status, store inspection and the progress WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dkratky/casecoder/internal/analysis"
	"github.com/dkratky/casecoder/internal/config"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/models"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/store"
)

// Server wires the HTTP handlers to the analysis service.
type Server struct {
	cfg         config.Config
	analysis    *analysis.Service
	broadcaster *progress.Broadcaster
	metrics     *metrics.Collector
	mux         *http.ServeMux
}

// New creates the server and registers all routes.
func New(cfg config.Config, svc *analysis.Service, bc *progress.Broadcaster, mc *metrics.Collector) *Server {
	s := &Server{
		cfg:         cfg,
		analysis:    svc,
		broadcaster: bc,
		metrics:     mc,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the middleware-wrapped root handler.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/phases/{phase}/start", s.handlePhaseStart)
	s.mux.HandleFunc("POST /api/phases/{phase}/stop", s.handlePhaseStop)
	s.mux.HandleFunc("GET /api/phases/{phase}/status", s.handlePhaseStatus)
	s.mux.HandleFunc("GET /api/phases", s.handlePhases)

	s.mux.HandleFunc("GET /api/stores", s.handleStoreList)
	s.mux.HandleFunc("GET /api/stores/{name}", s.handleStoreShow)
	s.mux.HandleFunc("POST /api/stores/{name}/cases/{id}/clear", s.handleCaseClear)

	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handlePhaseStart(w http.ResponseWriter, r *http.Request) {
	phase, err := analysis.ParsePhase(r.PathValue("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req analysis.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	run, err := s.analysis.Start(r.Context(), phase, req)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrPhaseRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, analysis.ErrStoreNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, analysis.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("phase start failed", "phase", phase, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"phase":    phase.Slug(),
		"run_id":   run.ID,
	})
}

func (s *Server) handlePhaseStop(w http.ResponseWriter, r *http.Request) {
	phase, err := analysis.ParsePhase(r.PathValue("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.analysis.Stop(phase); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": true,
		"phase":   phase.Slug(),
	})
}

func (s *Server) handlePhaseStatus(w http.ResponseWriter, r *http.Request) {
	phase, err := analysis.ParsePhase(r.PathValue("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":   phase.Slug(),
		"running": s.analysis.Registry().IsRunning(phase),
	})
}

func (s *Server) handlePhases(w http.ResponseWriter, r *http.Request) {
	running := s.analysis.Registry().Running()
	out := make(map[string]any, len(running))
	for phase, isRunning := range running {
		out[phase.Slug()] = map[string]bool{"running": isRunning}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStoreList(w http.ResponseWriter, r *http.Request) {
	names, err := store.ListStores(s.cfg.DataDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": names})
}

// storeSummary reports pipeline progress across one case store.
type storeSummary struct {
	Name        string   `json:"name"`
	Cases       int      `json:"cases"`
	Coded       int      `json:"coded"`
	Themed      int      `json:"themed"`
	Assigned    int      `json:"assigned"`
	Finalized   bool     `json:"finalized"`
	FinalThemes []string `json:"final_themes,omitempty"`
}

func (s *Server) handleStoreShow(w http.ResponseWriter, r *http.Request) {
	path, err := s.analysis.ResolveStore(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	d, err := store.New(path, s.metrics).Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := storeSummary{Name: r.PathValue("name"), Cases: len(d.Cases)}
	for _, rec := range d.Cases {
		if rec.Codes != nil {
			summary.Coded++
		}
		if rec.CandidateTheme != "" {
			summary.Themed++
		}
		if rec.FinalTheme != "" {
			summary.Assigned++
		}
	}
	if d.Finalization != nil {
		summary.Finalized = true
		summary.FinalThemes = d.Finalization.ThemeNames()
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCaseClear(w http.ResponseWriter, r *http.Request) {
	path, err := s.analysis.ResolveStore(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	var req struct {
		Field string `json:"field"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caseID := r.PathValue("id")
	if err := store.New(path, s.metrics).ClearCaseField(caseID, req.Field); err != nil {
		switch {
		case errors.Is(err, store.ErrCaseNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, models.ErrUnknownField):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared": true,
		"case_id": caseID,
		"field":   req.Field,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrStoreNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analysis.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
