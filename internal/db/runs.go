package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

const (
	// DefaultListLimit is the default number of list results
	DefaultListLimit = 50
	// MaxListLimit is the maximum number of list results
	MaxListLimit = 500
)

// ErrRunNotFound is returned when a run id has no record
var ErrRunNotFound = errors.New("optimization run not found")

// RunRecord is a persisted optimisation result
type RunRecord struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Seed        int64          `json:"seed"`
	Markets     []string       `json:"markets"`
	Positions   []int          `json:"positions"`
	Score       float64        `json:"score"`
	Generations int            `json:"generations"`
	Config      genetic.Config `json:"config"`
	DurationMs  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewRunRecord builds a record from a finished run
func NewRunRecord(runID, name string, seed int64, result *genetic.Result) (*RunRecord, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	return &RunRecord{
		ID:          id,
		Name:        name,
		Seed:        seed,
		Markets:     append([]string(nil), result.Config.Markets...),
		Positions:   append([]int(nil), result.Best...),
		Score:       result.Score,
		Generations: result.Generations,
		Config:      result.Config.Clone(),
		DurationMs:  result.Duration.Milliseconds(),
	}, nil
}

// RunRepository handles database operations for optimisation runs
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveRun inserts a run. Re-saving the same id is a no-op.
func (r *RunRepository) SaveRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO optimization_runs (
			id, name, seed, markets, positions, score, generations,
			config, duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (id) DO NOTHING
	`

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, query,
		run.ID,
		run.Name,
		run.Seed,
		run.Markets,
		run.Positions,
		run.Score,
		run.Generations,
		cfg,
		run.DurationMs,
		run.CreatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", run.ID.String()).
			Msg("Failed to save optimization run")
		return fmt.Errorf("failed to save optimization run: %w", err)
	}

	return nil
}

const selectRunColumns = `
	SELECT id, name, seed, markets, positions, score, generations,
		config, duration_ms, created_at
	FROM optimization_runs
`

// GetRun retrieves a run by id
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	row := r.db.pool.QueryRow(ctx, selectRunColumns+` WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get optimization run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, optionally filtered by name
func (r *RunRepository) ListRuns(ctx context.Context, name string, limit, offset int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows pgx.Rows
		err  error
	)
	if name != "" {
		rows, err = r.db.pool.Query(ctx,
			selectRunColumns+` WHERE name = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			name, limit, offset)
	} else {
		rows, err = r.db.pool.Query(ctx,
			selectRunColumns+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan optimization run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		run RunRecord
		cfg []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.Name,
		&run.Seed,
		&run.Markets,
		&run.Positions,
		&run.Score,
		&run.Generations,
		&cfg,
		&run.DurationMs,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &run.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
	}
	return &run, nil
}
