package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Run outcomes (bounded set)
	RunStatusSuccess   = "success"
	RunStatusCached    = "cached"
	RunStatusCancelled = "cancelled"
	RunStatusInvalid   = "invalid"
	RunStatusError     = "error"

	// Cache results (bounded set)
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStore = "store"
	CacheError = "error"

	// Signal publication results (bounded set)
	PublishSuccess  = "success"
	PublishRejected = "circuit_open"
	PublishFailure  = "failure"
)

// NormalizeRunStatus maps a run error to the bounded status set
func NormalizeRunStatus(err error) string {
	if err == nil {
		return RunStatusSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return RunStatusCancelled
	}
	var verrs genetic.ValidationErrors
	if errors.As(err, &verrs) || errors.Is(err, genetic.ErrInsufficientHistory) || errors.Is(err, genetic.ErrColumnMismatch) ||
		errors.Is(err, genetic.ErrNonFinitePrice) {
		return RunStatusInvalid
	}
	if strings.Contains(strings.ToLower(err.Error()), "invalid") {
		return RunStatusInvalid
	}
	return RunStatusError
}

// Optimisation Metrics
var (
	// Finished runs by outcome
	OptimizationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasignal_optimization_runs_total",
		Help: "Total number of optimisation runs by status",
	}, []string{"status"})

	// Runs currently executing
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasignal_active_runs",
		Help: "Number of optimisation runs currently executing",
	})

	// Wall-clock run duration
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gasignal_run_duration_seconds",
		Help:    "Duration of completed optimisation runs in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// Generations evaluated across all runs
	Generations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gasignal_generations_total",
		Help: "Total number of generations evaluated",
	})

	// Improvements of the best-so-far individual
	Improvements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gasignal_best_improvements_total",
		Help: "Number of generations that improved the best-so-far fitness",
	})

	// Latest generation statistics
	BestEverFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasignal_best_ever_fitness",
		Help: "Best-so-far fitness of the most recently observed generation",
	})

	GenerationBestFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasignal_generation_best_fitness",
		Help: "Best fitness within the most recently observed generation",
	})

	GenerationAverageFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasignal_generation_average_fitness",
		Help: "Average fitness of the most recently observed generation",
	})

	// Final score of the last completed run
	LastRunScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasignal_last_run_score",
		Help: "Fitness of the best individual from the last completed run",
	})
)

// Infrastructure Metrics
var (
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasignal_cache_operations_total",
		Help: "Result cache operations by result",
	}, []string{"result"})

	SignalsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasignal_signals_published_total",
		Help: "Signal publications by result",
	}, []string{"result"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasignal_api_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "path", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gasignal_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"method", "path"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasignal_errors_total",
		Help: "Total number of errors by type and component",
	}, []string{"type", "component"})
)

// RecordRun records a finished run
func RecordRun(status string, durationSeconds float64) {
	OptimizationRuns.WithLabelValues(status).Inc()
	if status == RunStatusSuccess {
		RunDuration.Observe(durationSeconds)
	}
}

// RecordRunScore records the final score of a successful run
func RecordRunScore(score float64) {
	LastRunScore.Set(score)
}

// RecordCacheOperation records a result cache lookup or write
func RecordCacheOperation(result string) {
	CacheOperations.WithLabelValues(result).Inc()
}

// RecordSignalPublish records a signal publication attempt
func RecordSignalPublish(result string) {
	SignalsPublished.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an API request
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequests.WithLabelValues(method, path, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(durationMs)
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// ============================================================================
// GENERATION RECORDER
// ============================================================================

// Recorder exports per-generation statistics. It satisfies genetic.Observer.
type Recorder struct{}

// NewRecorder creates a generation recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnGeneration implements genetic.Observer
func (r *Recorder) OnGeneration(stats genetic.GenerationStats) {
	Generations.Inc()
	if stats.Improved {
		Improvements.Inc()
	}
	BestEverFitness.Set(stats.BestEver)
	GenerationBestFitness.Set(stats.Best)
	GenerationAverageFitness.Set(stats.Average)
}

var _ genetic.Observer = (*Recorder)(nil)
