package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/config"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

const (
	queryTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server exposes health, metrics and ad-hoc queries over HTTP.
type Server struct {
	address string
	buffer  config.BufferConfig
	router  *gin.Engine
	logger  *zap.Logger
}

func New(cfg config.ServerConfig, buffer config.BufferConfig, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		address: cfg.Address,
		buffer:  buffer,
		router:  router,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.POST("/query", s.handleQuery)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.address,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server starting", zap.String("address", s.address))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) cursorOptions(columns []window.Column, windows []window.Window, descending bool) window.Options {
	return window.Options{
		Columns:         columns,
		Windows:         windows,
		Descending:      descending,
		InitialCapacity: s.buffer.InitialCapacity,
		MaxCapacity:     s.buffer.MaxCapacity,
		Lookahead:       s.buffer.Lookahead,
		Logger:          s.logger.Named("cursor"),
	}
}
