package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/observability"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/server/endpoint"
	"github.com/postersafari/postr-engine/server/middleware"
)

// Server serves the status endpoints.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger
	addr       net.Addr
}

// New creates a Server with the middleware stack applied and no routes.
func New(cfg Config, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("status")

	engine := gin.New()
	engine.Use(middleware.Recovery(log), middleware.RequestID(), middleware.RequestLogger(log))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
		},
		engine: engine,
		config: cfg,
		log:    log,
	}
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine { return s.engine }

// RegisterEngine mounts /alive, /health and /status for a pump.
func (s *Server) RegisterEngine(info endpoint.Info, stats endpoint.PumpStats, stages []pipeline.Stage, checkers ...observability.HealthChecker) {
	s.engine.GET("/alive", endpoint.Liveness(info.Service))
	s.engine.GET("/health", endpoint.Health(info, checkers...))
	s.engine.GET("/status", endpoint.Status(info, stats, stages))
}

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("status server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.addr = listener.Addr()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server error", logger.ErrorFields("serve", err))
		}
	}()

	s.log.Info("status server started", logger.Fields("addr", s.addr.String()))
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("status server shutdown error", logger.ErrorFields("shutdown", err))
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.log.Debug("status server stopped")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.addr != nil {
		return s.addr.String()
	}
	return s.httpServer.Addr
}
