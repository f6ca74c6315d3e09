// Package api exposes the harvested inventory and job log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pbaille/geoharvest/internal/config"
	"github.com/pbaille/geoharvest/internal/domain"
	"github.com/pbaille/geoharvest/internal/harvest"
	"github.com/pbaille/geoharvest/internal/store"
)

// Store is the read side of the repository served by the API.
type Store interface {
	Query(ctx context.Context, f domain.DatasetFilter) ([]domain.Dataset, error)
	GetByPrefix(ctx context.Context, prefix string) (*domain.Dataset, error)
	ListJobs(ctx context.Context, source string, limit int) ([]domain.JobRecord, error)
	GetJob(ctx context.Context, id string) (*domain.JobRecord, error)
	Ping() error
}

// Runner triggers harvest jobs.
type Runner interface {
	Run(ctx context.Context, src config.Source) (*domain.JobRecord, error)
}

// Server handles HTTP requests for the harvest API
type Server struct {
	store  Store
	runner Runner
	cfg    *config.Config
	addr   string
	logger *slog.Logger
}

// New creates a new API server
func New(s Store, runner Runner, cfg *config.Config, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, runner: runner, cfg: cfg, addr: addr, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/health", s.health)

	// Datasets
	r.Get("/datasets", s.listDatasets)
	r.Get("/datasets/{id}", s.getDataset)

	// Jobs
	r.Get("/jobs", s.listJobs)
	r.Get("/jobs/{id}", s.getJob)

	// Sources
	r.Get("/sources", s.listSources)
	r.Post("/sources/{name}/run", s.runSource)

	return r
}

// Run starts the HTTP server and shuts it down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api: listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("api: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.DatasetFilter{
		Domain:   q.Get("domain"),
		SourceID: q.Get("source"),
		Limit:    queryInt(q.Get("limit"), 100),
	}
	if p := q.Get("private"); p != "" {
		private, err := strconv.ParseBool(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "private must be a boolean")
			return
		}
		f.Private = &private
	}

	datasets, err := s.store.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if datasets == nil {
		datasets = []domain.Dataset{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": datasets,
		"limit":    f.Limit,
	})
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.GetByPrefix(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "dataset not found")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 20)

	jobs, err := s.store.ListJobs(r.Context(), q.Get("source"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []domain.JobRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"limit": limit,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// SourceInfo describes a configured source.
type SourceInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources := make([]SourceInfo, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		sources = append(sources, SourceInfo{
			Name:    src.Name,
			Title:   src.Title(),
			Backend: src.Backend,
			URL:     src.URL,
			Domain:  src.Domain(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// runSource harvests synchronously. The job outlives a client disconnect.
func (s *Server) runSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := s.cfg.Source(name)
	if !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	job, err := s.runner.Run(context.WithoutCancel(r.Context()), src)
	switch {
	case errors.Is(err, harvest.ErrJobInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && job == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, job)
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func queryInt(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
