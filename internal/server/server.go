// Package server exposes a read-only local HTTP view of the agent: its
// modules and the state of delayed jobs.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	Engine *gin.Engine
	addr   string
}

// NewServer builds the router. The registry must already be loaded.
func NewServer(addr string, reg *module.Registry, mgr *jobs.Manager, logger *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	RegisterRoutes(r, &handlers{registry: reg, jobs: mgr})
	return &Server{Engine: r, addr: addr}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status API listening.", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
