package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/screa/origins-minter/internal/logger"
	"github.com/screa/origins-minter/pkg/minter"
)

// ProgressFunc returns the current run progress.
type ProgressFunc func() minter.Progress

// Server exposes /healthz, /progress and /metrics for a running batch.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer builds the server; nothing listens until Run.
func NewServer(addr string, gatherer prometheus.Gatherer, progress ProgressFunc, log *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(gatherer, progress),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the router used by Server.
func Handler(gatherer prometheus.Gatherer, progress ProgressFunc) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/progress", func(c *gin.Context) {
		p := progress()
		c.JSON(http.StatusOK, gin.H{
			"total":     p.Total,
			"processed": p.Processed,
			"outcomes":  p.ByName(),
			"elapsed_s": p.Elapsed.Seconds(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("status server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
