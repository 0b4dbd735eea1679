package api

import "github.com/ajitpratap0/gasignal/internal/metrics"

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	if s.serveMetrics {
		s.router.GET("/metrics", metrics.GinHandler())
	}

	v1 := s.router.Group("/api/v1")
	{
		optimize := v1.Group("/optimize")
		optimize.Use(RateLimitMiddleware(s.limiter))
		{
			optimize.POST("", s.handleOptimize)
			optimize.POST("/batch", s.handleOptimizeBatch)
			optimize.GET("/stream", s.handleOptimizeStream)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
		}
	}
}
