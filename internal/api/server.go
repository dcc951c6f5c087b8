// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/config"
	"github.com/JakeFAU/vacancy-ingest/internal/dispatcher"
	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// RangeScraper fetches raw vacancies for a page range without persisting them.
type RangeScraper interface {
	ParseRange(ctx context.Context, region, query string, pageStart, pageEnd int) ([]vacancy.RawVacancy, error)
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	runStore   vacancy.RunStore
	dispatcher *dispatcher.Dispatcher
	store      vacancy.Store
	scraper    RangeScraper
	idGen      vacancy.IDGenerator
	clock      vacancy.Clock
	cfg        config.Config
	logger     *zap.Logger
}

const defaultRequestTimeout = 2 * time.Minute

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runStore vacancy.RunStore,
	dispatcher *dispatcher.Dispatcher,
	store vacancy.Store,
	scraper RangeScraper,
	idGen vacancy.IDGenerator,
	clock vacancy.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runStore:   runStore,
		dispatcher: dispatcher,
		store:      store,
		scraper:    scraper,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/result", s.getRunResult)
				r.Post("/cancel", s.cancelRun)
			})
		})
		r.Post("/scrape", s.scrape)
		r.Route("/skills", func(r chi.Router) {
			r.Post("/", s.upsertSkills)
			r.Get("/exists", s.skillExists)
			r.Post("/exists", s.skillsExist)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type rangeRequest struct {
	Region    string `json:"region"`
	Query     string `json:"query"`
	PageStart *int   `json:"page_start"`
	PageEnd   *int   `json:"page_end"`
}

func (req rangeRequest) toRunRequest() (vacancy.RunRequest, error) {
	if req.PageStart == nil || req.PageEnd == nil {
		return vacancy.RunRequest{}, errors.New("page_start and page_end required")
	}
	if *req.PageStart < 0 || *req.PageEnd < *req.PageStart {
		return vacancy.RunRequest{}, fmt.Errorf("%w: [%d, %d]", vacancy.ErrInvalidRange, *req.PageStart, *req.PageEnd)
	}
	return vacancy.RunRequest{
		Region:    req.Region,
		Query:     req.Query,
		PageStart: *req.PageStart,
		PageEnd:   *req.PageEnd,
	}, nil
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var body rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.toRunRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) enqueueRun(ctx context.Context, req vacancy.RunRequest) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	req.RunID = runID
	now := s.clock.Now()
	run := vacancy.Run{
		ID:        runID,
		Status:    vacancy.RunStatusQueued,
		Submitted: now,
		Request:   req,
	}
	if err := s.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := vacancy.QueueItem{
		RunID:     runID,
		Request:   req,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if uerr := s.runStore.UpdateRunStatus(context.WithoutCancel(ctx), runID, vacancy.RunStatusFailed, "enqueue failed", vacancy.RunCounters{}); uerr != nil {
			s.logger.Error("mark unqueued run failed", zap.String("run_id", runID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued",
		zap.String("run_id", runID),
		zap.Int("page_start", req.PageStart),
		zap.Int("page_end", req.PageEnd),
	)
	return runID, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	results, err := s.runStore.ListResults(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("list run results failed", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch run results")
		return
	}
	writeJSON(w, http.StatusOK, vacancy.RunResult{Run: run, Results: results})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run already %s", run.Status))
		return
	}
	if s.dispatcher.Cancel(run.ID) {
		// Takes effect at the next batch boundary; the worker records the final status.
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": "canceling"})
		return
	}
	if err := s.runStore.UpdateRunStatus(r.Context(), run.ID, vacancy.RunStatusCanceled, "canceled via API", run.Counters); err != nil {
		s.logger.Error("cancel run failed", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": run.ID, "status": string(vacancy.RunStatusCanceled)})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (vacancy.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, vacancy.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch run")
		}
		return vacancy.Run{}, false
	}
	return run, true
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var body rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.toRunRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Region == "" {
		req.Region = s.cfg.Pipeline.DefaultRegion
	}
	if req.Query == "" {
		req.Query = s.cfg.Pipeline.DefaultQuery
	}
	raws, err := s.scraper.ParseRange(r.Context(), req.Region, req.Query, req.PageStart, req.PageEnd)
	if err != nil {
		s.logger.Error("scrape failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if raws == nil {
		raws = []vacancy.RawVacancy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": raws})
}

type namesRequest struct {
	Items []string `json:"items"`
}

func (s *Server) skillExists(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	exists, err := s.store.SkillExists(r.Context(), name)
	if err != nil {
		s.storeError(w, "skill exists", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "exists": exists})
}

func (s *Server) skillsExist(w http.ResponseWriter, r *http.Request) {
	var body namesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	flags, err := s.store.SkillsExist(r.Context(), body.Items)
	if err != nil {
		s.storeError(w, "skills exist", err)
		return
	}
	if flags == nil {
		flags = []bool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": flags})
}

func (s *Server) upsertSkills(w http.ResponseWriter, r *http.Request) {
	var body namesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ids, err := s.store.UpsertSkills(r.Context(), body.Items)
	if err != nil {
		s.storeError(w, "upsert skills", err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ids})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure only means the client went away.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
