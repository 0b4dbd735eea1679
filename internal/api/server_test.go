package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gasignal/internal/db"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

func setupTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	defaults := genetic.DefaultConfig([]string{"CASH"})
	defaults.PopulationSize = 20
	defaults.TournamentSize = 3
	defaults.Iterations = 10

	cfg := Config{
		Host:        "127.0.0.1",
		Port:        0,
		Defaults:    defaults,
		Seed:        42,
		Parallelism: 2,
		RateLimit:   1000,
		Burst:       1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func f(v float64) *float64 { return &v }

func optimizeBody() map[string]interface{} {
	return map[string]interface{}{
		"name":    "majors",
		"markets": []string{"CASH", "BTC", "ETH"},
		"close": [][]*float64{
			{f(1), f(100), f(50)},
			{f(1), f(103), f(48)},
		},
	}
}

func TestHandleRootAndHealth(t *testing.T) {
	s := setupTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gasignal")

	w = doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "not_configured", components["cache"].(map[string]interface{})["status"])
	assert.Equal(t, "not_configured", components["database"].(map[string]interface{})["status"])
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t, nil)
	doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeBody())

	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gasignal_optimization_runs_total")
}

func TestMetricsRouteDisabled(t *testing.T) {
	s := setupTestServer(t, func(c *Config) { c.NoMetrics = true })

	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleOptimize(t *testing.T) {
	s := setupTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp OptimizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "majors", resp.Name)
	assert.Equal(t, int64(42), resp.Seed)
	assert.Equal(t, []string{"CASH", "BTC", "ETH"}, resp.Markets)
	require.Len(t, resp.Positions, 3)
	for _, p := range resp.Positions {
		assert.True(t, genetic.IsAllele(p))
	}
	assert.Len(t, resp.History, 10)
	assert.Equal(t, 10, resp.Generations)

	// deltas are [0, 3, -2]
	expected := 3*float64(resp.Positions[1]) - 2*float64(resp.Positions[2])
	assert.Equal(t, expected, resp.Score)
}

func TestHandleOptimizeIsReproducible(t *testing.T) {
	s := setupTestServer(t, nil)
	body := optimizeBody()
	body["seed"] = 7

	var first, second OptimizeResponse
	w := doJSON(t, s, http.MethodPost, "/api/v1/optimize", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, s, http.MethodPost, "/api/v1/optimize", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	assert.Equal(t, int64(7), first.Seed)
	assert.Equal(t, first.Positions, second.Positions)
	assert.Equal(t, first.Score, second.Score)
}

func TestHandleOptimizeMissingPrices(t *testing.T) {
	s := setupTestServer(t, nil)
	body := optimizeBody()
	body["close"] = [][]*float64{
		{f(1), nil, f(50)},
		{f(1), f(103), f(48)},
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/optimize", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp OptimizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, -2*float64(resp.Positions[2]), resp.Score)
}

func TestHandleOptimizeErrors(t *testing.T) {
	s := setupTestServer(t, nil)

	tests := []struct {
		name   string
		body   func() map[string]interface{}
		status int
		substr string
	}{
		{
			name:   "missing markets",
			body:   func() map[string]interface{} { b := optimizeBody(); delete(b, "markets"); return b },
			status: http.StatusBadRequest,
			substr: "invalid request body",
		},
		{
			name: "single row",
			body: func() map[string]interface{} {
				b := optimizeBody()
				b["close"] = [][]*float64{{f(1), f(2), f(3)}}
				return b
			},
			status: http.StatusBadRequest,
			substr: "invalid request body",
		},
		{
			name: "ragged matrix",
			body: func() map[string]interface{} {
				b := optimizeBody()
				b["close"] = [][]*float64{{f(1), f(2)}, {f(1), f(2), f(3)}}
				return b
			},
			status: http.StatusBadRequest,
			substr: "invalid price matrix",
		},
		{
			name: "overflowing price change",
			body: func() map[string]interface{} {
				b := optimizeBody()
				b["close"] = [][]*float64{{f(1), f(1e308), f(50)}, {f(1), f(-1e308), f(48)}}
				return b
			},
			status: http.StatusBadRequest,
			substr: "invalid price matrix",
		},
		{
			name: "odd population",
			body: func() map[string]interface{} {
				b := optimizeBody()
				b["params"] = map[string]interface{}{"population_size": 11}
				return b
			},
			status: http.StatusBadRequest,
			substr: "population_size",
		},
		{
			name: "mutation rate out of range",
			body: func() map[string]interface{} {
				b := optimizeBody()
				b["params"] = map[string]interface{}{"mutation_rate": 2}
				return b
			},
			status: http.StatusBadRequest,
			substr: "mutation_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/v1/optimize", tt.body())
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.substr)
		})
	}
}

func TestHandleOptimizeBatch(t *testing.T) {
	s := setupTestServer(t, nil)
	job := optimizeBody()
	body := map[string]interface{}{
		"jobs": []interface{}{job, job, job},
		"seed": 100,
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/optimize/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []OptimizeResponse `json:"results"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	for i, r := range resp.Results {
		assert.Equal(t, int64(100+i), r.Seed)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/optimize/batch", map[string]interface{}{"jobs": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimizeRateLimit(t *testing.T) {
	s := setupTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.Burst = 1
	})

	w := doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeBody())
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeBody())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// health is not rate limited
	w = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunsWithoutHistory(t *testing.T) {
	s := setupTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunsWithHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := setupTestServer(t, func(c *Config) {
		c.DB = db.NewWithQuerier(mock)
	})

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := uuid.New()
	mock.ExpectQuery("FROM optimization_runs").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	w = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	mock.ExpectQuery("FROM optimization_runs").
		WithArgs("majors", 5, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "seed", "markets", "positions", "score", "generations",
			"config", "duration_ms", "created_at",
		}))
	w = doJSON(t, s, http.MethodGet, "/api/v1/runs?name=majors&limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	require.NoError(t, mock.ExpectationsWereMet())
}
