// Package server exposes job records and pipeline state over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/server/handlers"
	"github.com/3leaps/hepgrid/internal/server/middleware"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

type Options struct {
	Version string
	Store   *jobstore.Store
	Tables  map[scheduler.Kind]string
	Backend scheduler.Kind
	States  *pipeline.StateStore
	Logger  *zap.Logger

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the status HTTP server.
type Server struct {
	host    string
	port    int
	opts    Options
	router  chi.Router
	health  *handlers.HealthManager
	logger  *zap.Logger
	httpSrv *http.Server
}

func New(host string, port int, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Backend == "" {
		opts.Backend = scheduler.KindGrid
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		host:   host,
		port:   port,
		opts:   opts,
		health: handlers.NewHealthManager(opts.Version),
		logger: opts.Logger,
	}
	if opts.Store != nil {
		s.health.RegisterChecker("jobstore", handlers.DBChecker{DB: opts.Store.DB()})
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery)
	r.Use(chimw.StripSlashes)

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/health", s.health.HealthHandler)
	r.Get("/healthz", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/version", s.health.VersionHandler)

	if s.opts.Store != nil {
		runs := &handlers.RunsHandler{
			Store:   s.opts.Store,
			Tables:  s.opts.Tables,
			Default: s.opts.Backend,
			States:  s.opts.States,
			Logger:  s.logger,
		}
		runs.Routes(r)
	}
	s.router = r
}

// Health exposes the health manager so callers can add checks.
func (s *Server) Health() *handlers.HealthManager { return s.health }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Port() int { return s.port }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
