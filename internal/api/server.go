// Package api serves live meter statistics over REST and a websocket feed.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/health"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/telemetry"
	"github.com/aionmeter/aionmeter/internal/util"
)

// DiagnosticsReader is the read side of the decode failure journal.
type DiagnosticsReader interface {
	Recent(field string, limit int) ([]db.DecodeFailure, error)
	CountsByField() ([]db.FieldCount, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Report() []health.Result
	Overall() health.Level
}

// Server is the HTTP front of a running pipeline.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Service
	metrics  *telemetry.Metrics
	eventBus *events.EventBus
	journal  DiagnosticsReader
	health   HealthReporter
	hub      *Hub
	logger   zerolog.Logger

	// baseCtx is handed to pipeline.Start so a capture outlives the request
	// that started it.
	baseCtx context.Context

	once       sync.Once
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, svc *pipeline.Service, metrics *telemetry.Metrics, eventBus *events.EventBus) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		pipeline: svc,
		metrics:  metrics,
		eventBus: eventBus,
		logger:   util.ComponentLogger("api"),
		baseCtx:  context.Background(),
	}
	s.hub = NewHub(svc.Manager(), eventBus, time.Duration(cfg.GetAPI().WebsocketIntervalMs)*time.Millisecond)
	return s
}

// SetDiagnostics attaches the decode failure journal. Without it the
// diagnostics endpoint answers 503.
func (s *Server) SetDiagnostics(journal DiagnosticsReader) {
	s.journal = journal
}

// SetHealth attaches the health check manager.
func (s *Server) SetHealth(reporter HealthReporter) {
	s.health = reporter
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Start listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	s.baseCtx = ctx

	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go s.hub.Run(ctx)

	s.logger.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.hub.CloseAll()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	router.GET("/ws", s.hub.ServeWS)

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/system", s.handleSystem)
		api.GET("/config", s.handleConfig)
		api.GET("/diagnostics", s.handleDiagnostics)
		api.GET("/health", s.handleHealth)

		api.GET("/combat", s.handleCombat)
		api.GET("/players", s.handlePlayers)
		api.GET("/players/:id/skills", s.handlePlayerSkills)
		api.GET("/players/:id/log", s.handlePlayerLog)
		api.GET("/entities", s.handleEntities)
	}

	control := api.Group("/control")
	{
		control.POST("/start", s.handleStart)
		control.POST("/stop", s.handleStop)
		control.POST("/reset", s.handleReset)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "aionmeter API is running"})
	})

	return router
}
