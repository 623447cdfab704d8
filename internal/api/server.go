// Package api exposes the analysis jobs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

// Jobs is the part of the orchestrator the HTTP surface needs.
type Jobs interface {
	Start(ctx context.Context, audioRef string) model.AnalysisJob
	StartSegments(ctx context.Context, segments []model.TranscriptSegment) model.AnalysisJob
	Get(ctx context.Context, id string) (model.AnalysisJob, error)
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
}

type Server struct {
	engine *gin.Engine
	jobs   Jobs
	opts   Options
	log    *logrus.Entry
}

func NewServer(jobs Jobs, opts Options, log *logrus.Entry) (*Server, error) {
	if opts.UploadDir != "" {
		if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}

	s := &Server{
		engine: gin.New(),
		jobs:   jobs,
		opts:   opts,
		log:    logger.Component(log, "api"),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(s.log))
	s.engine.Use(maxBodySize(opts.MaxUploadBytes))
	s.registerRoutes()
	return s, nil
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	}
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	}
}

func maxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
