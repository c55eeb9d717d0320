package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vcu-server/services/token-api/internal/config"
	"vcu-server/services/token-api/internal/domain/tokenservice"
	"vcu-server/services/token-api/internal/interfaces/httpserver/handlers/tokenhandler"
	"vcu-server/services/token-api/internal/interfaces/httpserver/middlewares"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

// New builds the HTTP server with middleware and routes registered.
func New(cfg *config.Config, service *tokenservice.Service, logger zerolog.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares.RequestID())
	engine.Use(middlewares.LoggingMiddleware(logger))
	engine.Use(middlewares.RateLimitMiddleware(cfg.HTTPRateLimitPerMinute))

	s := &Server{
		engine: engine,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "http-server").Logger(),
	}

	s.registerRoutes(service, logger)
	return s
}

func (s *Server) registerRoutes(service *tokenservice.Service, logger zerolog.Logger) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := tokenhandler.NewHandler(service, logger)

	v1 := s.engine.Group("/v1")
	{
		tokens := v1.Group("/tokens")
		{
			tokens.POST("", h.Create)
			tokens.GET("/:id", h.Get)
			tokens.GET("/:id/validate", h.Validate)
			tokens.POST("/:id/consume", h.Consume)
			tokens.POST("/:id/rotate", h.Rotate)
			tokens.POST("/:id/reveal", h.Reveal)
			tokens.DELETE("/:id", h.Revoke)
		}
	}
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
