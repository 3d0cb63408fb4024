package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feeward/feeward/distributor/pkg/metrics"
)

// Server exposes health, readiness, the distribution state and metrics.
type Server struct {
	log     *slog.Logger
	cfg     Config
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger.With("component", "server"),
		cfg: cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/state", s.stateHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.State.Snapshot()
	if !snap.Ready {
		s.writeText(w, http.StatusServiceUnavailable, "state not loaded\n")
		return
	}
	if s.cfg.MaxCycleAge > 0 && snap.Cycles > 0 {
		if age := s.cfg.Clock.Since(snap.LastCycleAt); age > s.cfg.MaxCycleAge {
			s.log.Debug("readyz: last cycle too old", "age", age)
			s.writeText(w, http.StatusServiceUnavailable, fmt.Sprintf("last cycle finished %s ago\n", age.Round(time.Second)))
			return
		}
	}
	if s.cfg.Journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Journal.Ping(ctx); err != nil {
			s.log.Debug("readyz: journal unavailable", "error", err)
			s.writeText(w, http.StatusServiceUnavailable, "journal unavailable\n")
			return
		}
	}
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) stateHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.cfg.State.Snapshot())
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.cfg.VersionInfo)
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write json response", "error", err)
	}
}
