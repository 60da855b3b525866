// Package api serves the indexed creators, posts and subscriptions over HTTP
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AurelienDEMEUSY/SUI-patreon/config"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/api/handlers"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/api/middleware"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/metrics"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/repositories"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      handlers.ResponseCache
	searcher   handlers.Searcher
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server. respCache, m and gatherer may be nil
func NewServer(
	cfg config.Config,
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	respCache handlers.ResponseCache,
	searcher handlers.Searcher,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	tracer tracing.Tracer,
) *Server {
	if tracer == nil {
		tracer = tracing.Noop()
	}

	server := &Server{
		config:     cfg,
		db:         db,
		readOnlyDB: readOnlyDB,
		cache:      respCache,
		searcher:   searcher,
		metrics:    m,
		gatherer:   gatherer,
		tracer:     tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// Router exposes the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers.RegisterValidations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(s.config.Server.CorsOrigins))
	router.Use(middleware.Metrics(s.metrics))
	router.Use(middleware.NewRelic(s.tracer.Application()))

	creatorHandler := handlers.NewCreatorHandler(
		repositories.NewCreatorRepository(s.db, s.readOnlyDB),
		repositories.NewPostRepository(s.db, s.readOnlyDB),
		s.cache,
		s.config.Redis.TTL,
		s.tracer,
	)
	creatorHandler.RegisterRoutes(router)

	subscriptionHandler := handlers.NewSubscriptionHandler(
		repositories.NewSubscriptionRepository(s.db, s.readOnlyDB),
		s.tracer,
	)
	subscriptionHandler.RegisterRoutes(router)

	if s.searcher != nil {
		handlers.NewSearchHandler(s.searcher, s.tracer).RegisterRoutes(router)
	}

	router.GET("/health", func(c *gin.Context) {
		if err := database.Ping(s.readOnlyDB); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
