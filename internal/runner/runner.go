// Package runner drives optimisation runs end to end: result cache lookup,
// the genetic search itself, metrics, and signal publication.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/gasignal/internal/cache"
	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/db"
	"github.com/ajitpratap0/gasignal/internal/metrics"
	"github.com/ajitpratap0/gasignal/internal/signals"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// ErrNoJobs is returned when a batch is empty
var ErrNoJobs = errors.New("no jobs to run")

// Publisher sends finished signals downstream
type Publisher interface {
	Publish(ctx context.Context, msg *signals.SignalMessage) error
}

// History persists finished runs
type History interface {
	SaveRun(ctx context.Context, run *db.RunRecord) error
}

// Job is one independent optimisation problem
type Job struct {
	Name     string                `json:"name"`
	Markets  []string              `json:"markets,omitempty"` // overrides the snapshot and base config markets
	Snapshot genetic.PriceSnapshot `json:"snapshot"`

	Observer genetic.Observer `json:"-"` // optional per-job progress hook
}

// Output is the outcome of a single job
type Output struct {
	RunID  string          `json:"run_id" yaml:"run_id"`
	Name   string          `json:"name" yaml:"name"`
	Seed   int64           `json:"seed" yaml:"seed"`
	Cached bool            `json:"cached" yaml:"cached"`
	Result *genetic.Result `json:"result" yaml:"result"`
}

// Runner executes jobs against a base configuration
type Runner struct {
	base      genetic.Config
	cache     *cache.ResultCache
	publisher Publisher
	history   History
	recorder  *metrics.Recorder
	logger    zerolog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithCache enables result caching. A nil cache disables it.
func WithCache(c *cache.ResultCache) Option {
	return func(r *Runner) {
		r.cache = c
	}
}

// WithPublisher enables signal publication
func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithHistory records every freshly computed run
func WithHistory(h History) Option {
	return func(r *Runner) {
		r.history = h
	}
}

// New creates a runner. The base config is validated per job, after the
// job's markets are applied.
func New(base genetic.Config, opts ...Option) *Runner {
	r := &Runner{
		base:     base.Clone(),
		recorder: metrics.NewRecorder(),
		logger:   log.With().Str("component", "runner").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// configFor resolves the market list for a job
func (r *Runner) configFor(job Job) genetic.Config {
	cfg := r.base.Clone()
	switch {
	case len(job.Markets) > 0:
		cfg.Markets = append([]string(nil), job.Markets...)
	case len(job.Snapshot.Markets) > 0:
		cfg.Markets = append([]string(nil), job.Snapshot.Markets...)
	}
	return cfg
}

// Run executes a single job with the given seed
func (r *Runner) Run(ctx context.Context, job Job, seed int64) (*Output, error) {
	runID := uuid.New().String()
	logger := config.NewRunLogger(runID, seed).With().Str("job", job.Name).Logger()

	cfg := r.configFor(job)
	snapshot := job.Snapshot.Window(cfg.Lookback)

	// The cache key covers only the scored bars, so reject bad input first
	if err := cfg.Validate(); err != nil {
		metrics.RecordRun(metrics.RunStatusInvalid, 0)
		return nil, fmt.Errorf("job %q: %w", job.Name, err)
	}
	if err := snapshot.Validate(cfg.NumMarkets()); err != nil {
		metrics.RecordRun(metrics.RunStatusInvalid, 0)
		return nil, fmt.Errorf("job %q: invalid price snapshot: %w", job.Name, err)
	}

	key := cache.Key(cfg, seed, snapshot)

	if entry, ok := r.cache.Get(ctx, key); ok {
		metrics.RecordRun(metrics.RunStatusCached, 0)
		logger.Info().
			Str("cached_run_id", entry.RunID).
			Float64("best_score", entry.Result.Score).
			Msg("Serving cached optimization result")

		out := &Output{RunID: entry.RunID, Name: job.Name, Seed: seed, Cached: true, Result: entry.Result}
		r.publish(ctx, logger, out)
		return out, nil
	}

	opt, err := genetic.New(cfg, genetic.NewRand(seed),
		genetic.WithLogger(logger),
		genetic.WithObserver(r.recorder),
		genetic.WithObserver(job.Observer),
	)
	if err != nil {
		metrics.RecordRun(metrics.RunStatusInvalid, 0)
		return nil, fmt.Errorf("job %q: %w", job.Name, err)
	}

	logger.Info().
		Strs("markets", cfg.Markets).
		Int("rows", snapshot.Rows()).
		Msg("Optimization run started")

	metrics.ActiveRuns.Inc()
	result, err := opt.Run(ctx, snapshot)
	metrics.ActiveRuns.Dec()
	if err != nil {
		metrics.RecordRun(metrics.NormalizeRunStatus(err), 0)
		return nil, fmt.Errorf("job %q: %w", job.Name, err)
	}

	metrics.RecordRun(metrics.RunStatusSuccess, result.Duration.Seconds())
	metrics.RecordRunScore(result.Score)

	logger.Info().
		Float64("best_score", result.Score).
		Ints("positions", result.Best).
		Dur("duration", result.Duration).
		Msg("Optimization run finished")

	out := &Output{RunID: runID, Name: job.Name, Seed: seed, Result: result}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, cache.Entry{RunID: runID, Seed: seed, Result: result}); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache optimization result")
		}
	}

	r.record(ctx, logger, out)
	r.publish(ctx, logger, out)
	return out, nil
}

// record is best effort, like publish
func (r *Runner) record(ctx context.Context, logger zerolog.Logger, out *Output) {
	if r.history == nil {
		return
	}

	rec, err := db.NewRunRecord(out.RunID, out.Name, out.Seed, out.Result)
	if err == nil {
		err = r.history.SaveRun(ctx, rec)
	}
	if err != nil {
		metrics.RecordError("history", "runner")
		logger.Warn().Err(err).Msg("Failed to record optimization run")
	}
}

// publish is best effort: a failed publication never fails the run
func (r *Runner) publish(ctx context.Context, logger zerolog.Logger, out *Output) {
	if r.publisher == nil {
		return
	}

	msg := &signals.SignalMessage{
		RunID:       out.RunID,
		Name:        out.Name,
		Markets:     out.Result.Config.Markets,
		Positions:   out.Result.Best,
		Score:       out.Result.Score,
		Seed:        out.Seed,
		Generations: out.Result.Generations,
		Cached:      out.Cached,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		metrics.RecordError("publish", "runner")
		logger.Warn().Err(err).Msg("Failed to publish signal")
	}
}

// RunBatch executes independent jobs concurrently, at most parallelism at a
// time. Job i runs with seed baseSeed+i, so a batch is reproducible regardless
// of scheduling. The first failure cancels the remaining jobs.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job, baseSeed int64, parallelism int) ([]*Output, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	if parallelism < 1 {
		parallelism = 1
	}

	outputs := make([]*Output, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			out, err := r.Run(gctx, job, baseSeed+int64(i))
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("jobs", len(jobs)).
		Int("parallelism", parallelism).
		Msg("Batch complete")

	return outputs, nil
}
