package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/db"
	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// ParamsOverride replaces individual hyperparameters for one request
type ParamsOverride struct {
	Lookback       *int     `json:"lookback,omitempty"`
	PopulationSize *int     `json:"population_size,omitempty"`
	TournamentSize *int     `json:"tournament_size,omitempty"`
	CrossoverRate  *float64 `json:"crossover_rate,omitempty"`
	MutationRate   *float64 `json:"mutation_rate,omitempty"`
	Iterations     *int     `json:"n_iter,omitempty"`
}

// JobRequest is one price matrix to optimise. A null close price marks a
// missing observation.
type JobRequest struct {
	Name    string       `json:"name"`
	Markets []string     `json:"markets" binding:"required,min=1"`
	Close   [][]*float64 `json:"close" binding:"required,min=2"`
}

// OptimizeRequest is the body of POST /api/v1/optimize
type OptimizeRequest struct {
	JobRequest
	Seed   *int64          `json:"seed,omitempty"`
	Params *ParamsOverride `json:"params,omitempty"`
}

// BatchRequest is the body of POST /api/v1/optimize/batch
type BatchRequest struct {
	Jobs   []JobRequest    `json:"jobs" binding:"required,min=1,dive"`
	Seed   *int64          `json:"seed,omitempty"`
	Params *ParamsOverride `json:"params,omitempty"`
}

// OptimizeResponse describes a finished run
type OptimizeResponse struct {
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	Seed        int64     `json:"seed"`
	Cached      bool      `json:"cached"`
	Markets     []string  `json:"markets"`
	Positions   []int     `json:"positions"`
	Score       float64   `json:"score"`
	Generations int       `json:"generations"`
	History     []float64 `json:"history"`
	DurationMs  int64     `json:"duration_ms"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "gasignal",
		"version": config.GetVersion(),
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleHealth reports the service and its optional backends
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	components := gin.H{}

	check := func(name string, configured bool, probe func(context.Context) error) {
		switch {
		case !configured:
			components[name] = gin.H{"status": "not_configured"}
		case probe(ctx) != nil:
			components[name] = gin.H{"status": "unhealthy"}
			status = "degraded"
		default:
			components[name] = gin.H{"status": "healthy"}
		}
	}
	check("cache", s.cache != nil, func(ctx context.Context) error { return s.cache.Health(ctx) })
	check("database", s.database != nil, func(ctx context.Context) error { return s.database.Health(ctx) })

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"version":    config.GetVersion(),
		"uptime":     time.Since(s.startTime).Seconds(),
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *Server) handleOptimize(c *gin.Context) {
	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: []string{err.Error()}})
		return
	}

	cfg := s.configFor(req.Params)
	job := toJob(req.JobRequest)
	seed := s.seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	out, err := runner.New(cfg, s.runnerOpts...).Run(c.Request.Context(), job, seed)
	if err != nil {
		s.writeRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(out))
}

func (s *Server) handleOptimizeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: []string{err.Error()}})
		return
	}

	jobs := make([]runner.Job, len(req.Jobs))
	for i, j := range req.Jobs {
		jobs[i] = toJob(j)
	}
	seed := s.seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	outputs, err := runner.New(s.configFor(req.Params), s.runnerOpts...).
		RunBatch(c.Request.Context(), jobs, seed, s.maxJobs)
	if err != nil {
		s.writeRunError(c, err)
		return
	}

	results := make([]OptimizeResponse, len(outputs))
	for i, out := range outputs {
		results[i] = toResponse(out)
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is not enabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(db.DefaultListLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, err := s.runs.ListRuns(c.Request.Context(), c.Query("name"), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is not enabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid run id"})
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
			return
		}
		log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to get run")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// ============================================================================
// HELPERS
// ============================================================================

// configFor applies request overrides to the server defaults
func (s *Server) configFor(p *ParamsOverride) genetic.Config {
	cfg := s.defaults.Clone()
	if p == nil {
		return cfg
	}
	if p.Lookback != nil {
		cfg.Lookback = *p.Lookback
	}
	if p.PopulationSize != nil {
		cfg.PopulationSize = *p.PopulationSize
	}
	if p.TournamentSize != nil {
		cfg.TournamentSize = *p.TournamentSize
	}
	if p.CrossoverRate != nil {
		cfg.CrossoverRate = *p.CrossoverRate
	}
	if p.MutationRate != nil {
		cfg.MutationRate = *p.MutationRate
	}
	if p.Iterations != nil {
		cfg.Iterations = *p.Iterations
	}
	return cfg
}

func toJob(j JobRequest) runner.Job {
	rows := make([][]float64, len(j.Close))
	for i, row := range j.Close {
		rows[i] = make([]float64, len(row))
		for m, v := range row {
			if v == nil {
				rows[i][m] = math.NaN()
				continue
			}
			rows[i][m] = *v
		}
	}
	return runner.Job{
		Name:    j.Name,
		Markets: j.Markets,
		Snapshot: genetic.PriceSnapshot{
			Markets: j.Markets,
			Close:   rows,
		},
	}
}

func toResponse(out *runner.Output) OptimizeResponse {
	return OptimizeResponse{
		RunID:       out.RunID,
		Name:        out.Name,
		Seed:        out.Seed,
		Cached:      out.Cached,
		Markets:     out.Result.Config.Markets,
		Positions:   []int(out.Result.Best),
		Score:       out.Result.Score,
		Generations: out.Result.Generations,
		History:     out.Result.History,
		DurationMs:  out.Result.Duration.Milliseconds(),
	}
}

// runErrorResponse maps run failures to HTTP statuses
func runErrorResponse(err error) (int, ErrorResponse) {
	var verrs genetic.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		details := make([]string, len(verrs))
		for i, v := range verrs {
			details[i] = v.Field + ": " + v.Message
		}
		return http.StatusBadRequest, ErrorResponse{Error: "invalid optimizer configuration", Details: details}
	case errors.Is(err, genetic.ErrInsufficientHistory), errors.Is(err, genetic.ErrColumnMismatch),
		errors.Is(err, genetic.ErrNonFinitePrice):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid price matrix", Details: []string{err.Error()}}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "optimization cancelled"}
	default:
		log.Error().Err(err).Msg("Optimization failed")
		return http.StatusInternalServerError, ErrorResponse{Error: "optimization failed"}
	}
}

func (s *Server) writeRunError(c *gin.Context, err error) {
	status, body := runErrorResponse(err)
	c.JSON(status, body)
}
