// Package healthserver exposes liveness, readiness and Prometheus scraping
// endpoints for a running worker. It is a pure ops surface: no auth, no
// DTOs, no CORS, and deliberately separate from any user-facing API.
package healthserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geocoder89/jobqueue/controller"
)

// Server serves /healthz, /readyz and /metrics on its own address.
type Server struct {
	addr       string
	controller controller.Controller
	reg        *prometheus.Registry

	readyMu sync.RWMutex
	ready   bool
}

func New(addr string, c controller.Controller, reg *prometheus.Registry) *Server {
	return &Server{addr: addr, controller: c, reg: reg, ready: true}
}

func (s *Server) handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/readyz", func(c *gin.Context) {
		s.readyMu.RLock()
		ready := s.ready && !s.controller.IsPaused()
		s.readyMu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts it
// down within a short grace window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Default().Info("health server starting", "addr", s.addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.readyMu.Lock()
	s.ready = false
	s.readyMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
