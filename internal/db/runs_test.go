package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

var runColumns = []string{
	"id", "name", "seed", "markets", "positions", "score", "generations",
	"config", "duration_ms", "created_at",
}

func testRecord(t *testing.T) *RunRecord {
	t.Helper()
	cfg := genetic.DefaultConfig([]string{"CASH", "BTC", "ETH"})
	result := &genetic.Result{
		Best:        genetic.Individual{0, 1, -1},
		Score:       4.5,
		Config:      cfg,
		Generations: 3,
		Duration:    12 * time.Millisecond,
	}
	rec, err := NewRunRecord(uuid.New().String(), "majors", 42, result)
	require.NoError(t, err)
	return rec
}

func TestNewRunRecord(t *testing.T) {
	rec := testRecord(t)
	assert.Equal(t, "majors", rec.Name)
	assert.Equal(t, []string{"CASH", "BTC", "ETH"}, rec.Markets)
	assert.Equal(t, []int{0, 1, -1}, rec.Positions)
	assert.Equal(t, int64(12), rec.DurationMs)

	_, err := NewRunRecord("not-a-uuid", "x", 1, &genetic.Result{})
	assert.Error(t, err)
}

func TestSaveRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := testRecord(t)
	mock.ExpectExec("INSERT INTO optimization_runs").
		WithArgs(rec.ID, "majors", int64(42), rec.Markets, rec.Positions, 4.5, 3,
			pgxmock.AnyArg(), int64(12), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewRunRepository(NewWithQuerier(mock))
	require.NoError(t, repo.SaveRun(context.Background(), rec))
	assert.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO optimization_runs").WillReturnError(errors.New("disk full"))

	err = NewRunRepository(NewWithQuerier(mock)).SaveRun(context.Background(), testRecord(t))
	assert.ErrorContains(t, err, "failed to save optimization run")
}

func TestGetRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := testRecord(t)
	cfg, err := json.Marshal(rec.Config)
	require.NoError(t, err)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, seed").
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			rec.ID, rec.Name, rec.Seed, rec.Markets, rec.Positions, rec.Score,
			rec.Generations, cfg, rec.DurationMs, created,
		))

	got, err := NewRunRepository(NewWithQuerier(mock)).GetRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Positions, got.Positions)
	assert.Equal(t, rec.Config, got.Config)
	assert.Equal(t, created, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, name, seed").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRunRepository(NewWithQuerier(mock)).GetRun(context.Background(), id)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := testRecord(t)
	cfg, err := json.Marshal(rec.Config)
	require.NoError(t, err)
	rows := func() *pgxmock.Rows {
		return pgxmock.NewRows(runColumns).AddRow(
			rec.ID, rec.Name, rec.Seed, rec.Markets, rec.Positions, rec.Score,
			rec.Generations, cfg, rec.DurationMs, time.Now(),
		)
	}

	mock.ExpectQuery("FROM optimization_runs").
		WithArgs(DefaultListLimit, 0).
		WillReturnRows(rows())
	mock.ExpectQuery("WHERE name = \\$1").
		WithArgs("majors", MaxListLimit, 10).
		WillReturnRows(rows())

	repo := NewRunRepository(NewWithQuerier(mock))

	runs, err := repo.ListRuns(context.Background(), "", 0, -5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)

	runs, err = repo.ListRuns(context.Background(), "majors", 10000, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
