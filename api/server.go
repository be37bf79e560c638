package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/commandbus"
	"example.com/platform/services/eventcore/config"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/projections"
	"example.com/platform/services/eventcore/query"
	"example.com/platform/services/eventcore/utils"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
	store      eventstore.EventStore
	processor  *projections.Processor
	replay     *projections.ReplayService
	queries    *query.Service
	metrics    *metrics.Metrics
	bus        *commandbus.Bus
	validator  utils.SchemaValidator
}

// NewServer creates a new API server
func NewServer(cfg config.Config, store eventstore.EventStore, processor *projections.Processor, replay *projections.ReplayService, queries *query.Service, m *metrics.Metrics) *Server {
	server := &Server{
		cfg:       cfg,
		router:    gin.New(),
		store:     store,
		processor: processor,
		replay:    replay,
		queries:   queries,
		metrics:   m,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// SetSchemaValidator installs the payload schema check run before an event
// is accepted.
func (s *Server) SetSchemaValidator(validator utils.SchemaValidator) {
	s.validator = validator
}

// SetCommandBus enables the aggregate command endpoint.
func (s *Server) SetCommandBus(bus *commandbus.Bus) {
	s.bus = bus
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/ping", s.ping)
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", s.getMetrics)

	v1 := s.router.Group("/api/v1")

	eventRoutes := v1.Group("/events")
	{
		eventRoutes.POST("", s.createEvent)
		eventRoutes.GET("", s.listEvents)
		eventRoutes.GET("/:id", s.getEvent)
	}

	aggregateRoutes := v1.Group("/aggregates")
	{
		aggregateRoutes.GET("/:type", s.listAggregates)
		aggregateRoutes.GET("/:type/:id", s.getAggregate)
		aggregateRoutes.POST("/:type/:id/events", s.emitAggregateEvent)
	}

	adminRoutes := v1.Group("/admin")
	{
		adminRoutes.POST("/projections/trigger", s.triggerProjections)
		adminRoutes.POST("/projections/replay", s.replayProjections)
		adminRoutes.GET("/deadletters", s.listDeadLetters)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
