package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/services/health"
	"github.com/BearBump/FleetBox/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, st *memStorage, state *health.RunState, swaggerPath string) chi.Router {
	t.Helper()
	cfg := testConfig()
	cfg.FleetAPI.Password = "s3cret"
	cfg.Database.Password = "db-s3cret"

	sched := scheduler.New().Add(scheduler.Job{Name: jobIngest, Run: func(ctx context.Context) error { return nil }})
	return newWorkerRouter(workerHTTPOpts{
		scheduler:   sched,
		reporter:    health.NewReporter(state, nil, nil, nil, 0),
		storage:     st,
		cfg:         cfg,
		swaggerPath: swaggerPath,
	})
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestWorkerRouter_Health(t *testing.T) {
	state := health.NewRunState()
	r := newTestRouter(t, newMemStorage(), state, "")

	rec := do(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"last_job_time":"never"`)

	state.Publish(models.IngestionRunResult{RunID: "r", Success: true, Timestamp: time.Date(2025, 4, 28, 6, 0, 0, 0, time.UTC)})
	rec = do(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"last_job_time":"2025-04-28T06:00:00Z"`)

	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz").Code)
}

func TestWorkerRouter_Readyz(t *testing.T) {
	st := newMemStorage()
	r := newTestRouter(t, st, health.NewRunState(), "")
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz").Code)

	st.pingErr = errors.New("connection refused")
	require.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/readyz").Code)
}

func TestWorkerRouter_TriggerAndStats(t *testing.T) {
	r := newTestRouter(t, newMemStorage(), health.NewRunState(), "")

	rec := do(r, http.MethodPost, "/trigger")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"triggered":true,"job":"ingest"}`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/trigger?job=nope").Code)

	rec = do(r, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"ingest"`)
	require.Contains(t, rec.Body.String(), `"lastTriggerAt"`)
}

func TestWorkerRouter_ConfigHidesSecrets(t *testing.T) {
	rec := do(newTestRouter(t, newMemStorage(), health.NewRunState(), ""), http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "s3cret")
	require.Contains(t, rec.Body.String(), `"fetchIntervalSeconds":60`)
}

func TestWorkerRouter_Metrics(t *testing.T) {
	rec := do(newTestRouter(t, newMemStorage(), health.NewRunState(), ""), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "fleetbox_")
}

func TestWorkerRouter_Swagger(t *testing.T) {
	r := newTestRouter(t, newMemStorage(), health.NewRunState(), "")
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/swagger.json").Code)

	p := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"swagger":"2.0"}`), 0o644))
	r = newTestRouter(t, newMemStorage(), health.NewRunState(), p)

	rec := do(r, http.MethodGet, "/swagger.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
