// Package api exposes the optimizer over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/gasignal/internal/cache"
	"github.com/ajitpratap0/gasignal/internal/db"
	"github.com/ajitpratap0/gasignal/internal/metrics"
	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// Server represents the REST API server
type Server struct {
	router       *gin.Engine
	defaults     genetic.Config
	seed         int64
	maxJobs      int
	runnerOpts   []runner.Option
	runs         *db.RunRepository
	database     *db.DB
	cache        *cache.ResultCache
	limiter      *rate.Limiter
	serveMetrics bool
	addr         string
	server       *http.Server
	startTime    time.Time
}

// Config contains server configuration
type Config struct {
	Host string
	Port int

	Defaults    genetic.Config // hyperparameters used when a request omits them
	Seed        int64          // seed used when a request omits one
	Parallelism int            // batch concurrency

	RateLimit float64 // optimize requests per second
	Burst     int
	NoMetrics bool // omit the /metrics route

	Cache     *cache.ResultCache
	Publisher runner.Publisher
	DB        *db.DB // enables run history endpoints
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))

	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}

	s := &Server{
		router:       router,
		defaults:     config.Defaults.Clone(),
		seed:         config.Seed,
		maxJobs:      config.Parallelism,
		cache:        config.Cache,
		database:     config.DB,
		limiter:      rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		serveMetrics: !config.NoMetrics,
		addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		startTime:    time.Now(),
	}

	if config.Cache != nil {
		s.runnerOpts = append(s.runnerOpts, runner.WithCache(config.Cache))
	}
	if config.Publisher != nil {
		s.runnerOpts = append(s.runnerOpts, runner.WithPublisher(config.Publisher))
	}
	if config.DB != nil {
		s.runs = db.NewRunRepository(config.DB)
		s.runnerOpts = append(s.runnerOpts, runner.WithHistory(s.runs))
	}

	s.setupRoutes()

	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // optimisation runs are synchronous
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}
