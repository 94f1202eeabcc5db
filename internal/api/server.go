package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

// Version is reported by GET /api.
var Version = "dev"

// Store is the read side of the persisted store plus job deletion.
type Store interface {
	Ping(ctx context.Context) error
	ListJobs(ctx context.Context, f store.JobFilter) ([]model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, threshold int, now time.Time) (store.Summary, error)
	ListSignals(ctx context.Context, f store.SignalFilter) ([]model.Signal, error)
	GetSignal(ctx context.Context, id string) (model.Signal, error)
}

// Server serves the query API over the store.
type Server struct {
	store     Store
	threshold int
	logger    *slog.Logger
	now       func() time.Time
	router    chi.Router
}

// NewServer builds the router. threshold is the alert threshold reported in
// the stats summary.
func NewServer(st Store, threshold int, logger *slog.Logger) *Server {
	s := &Server{
		store:     st,
		threshold: threshold,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(allowCORS)

	r.Get("/health", s.handleHealth)
	r.Get("/api", s.handleRoot)
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/stats/summary", s.handleStats)
		r.Get("/{id}", s.handleGetJob)
	})
	r.Route("/api/signals", func(r chi.Router) {
		r.Get("/", s.handleListSignals)
		r.Get("/{id}", s.handleGetSignal)
	})
	r.Delete("/jobs/{id}", s.handleDeleteJob)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
