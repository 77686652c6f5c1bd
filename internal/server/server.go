// Package server exposes the dashboard and operator API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"defect-sorter/internal/config"
	"defect-sorter/internal/health"
	"defect-sorter/internal/observability"
	"defect-sorter/internal/process"
	"defect-sorter/internal/state"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr        string
	CORSOrigins []string
}

// Server wires the operator routes over the orchestrator.
type Server struct {
	cfg     Config
	orch    *process.Orchestrator
	states  *state.Manager
	monitor *health.Monitor
	log     zerolog.Logger
	started time.Time

	router *gin.Engine
	srv    *http.Server
}

// New builds the router. monitor may be nil when health probing is disabled.
func New(cfg Config, orch *process.Orchestrator, states *state.Manager, monitor *health.Monitor, log zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		states:  states,
		monitor: monitor,
		log:     log.With().Str("component", "server").Logger(),
		started: time.Now(),
		router:  r,
	}
	s.registerRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start serves until the listener fails. It blocks.
func (s *Server) Start() error {
	s.srv = &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http listener up")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// settingsResponse is the envelope for every settings route.
func (s *Server) settingsResponse(c *gin.Context, settings config.Settings) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"settings": settings,
	})
}
