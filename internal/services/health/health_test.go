package health

import (
	"errors"
	"testing"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct{ snap ratelimit.Snapshot }

func (s stubLimiter) Snapshot() ratelimit.Snapshot { return s.snap }

type stubBackups struct {
	at  time.Time
	ok  bool
	err error
}

func (s stubBackups) LatestBackup() (time.Time, bool, error) { return s.at, s.ok, s.err }

type stubPhase string

func (p stubPhase) Phase() string { return string(p) }

func TestReporter_NeverRun(t *testing.T) {
	r := NewReporter(NewRunState(), nil, nil, nil, 0)
	rep := r.Report()
	require.Equal(t, StatusUnhealthy, rep.Status)
	require.Equal(t, "never", rep.LastJobTime)
	require.Nil(t, rep.LastRun)
	require.Equal(t, StatusDisabled, rep.BackupStatus)
	require.False(t, r.Healthy())
}

func TestReporter_LastRunOverwritten(t *testing.T) {
	state := NewRunState()
	ts := time.Date(2025, 4, 28, 6, 0, 0, 0, time.UTC)
	state.Publish(models.IngestionRunResult{Success: false, Timestamp: ts.Add(-time.Minute)})
	state.Publish(models.IngestionRunResult{Success: true, Timestamp: ts, RowsAttempted: 12})

	r := NewReporter(state, stubLimiter{snap: ratelimit.Snapshot{RequestsInWindow: 2, LastWait: 15 * time.Second}}, nil, stubPhase("succeeded"), 0)
	rep := r.Report()
	require.Equal(t, StatusHealthy, rep.Status)
	require.Equal(t, "2025-04-28T06:00:00Z", rep.LastJobTime)
	require.Equal(t, 12, rep.LastRun.RowsAttempted)
	require.Equal(t, 2, rep.RequestsInCurrentMinute)
	require.Equal(t, 15.0, rep.RateLimitWaitSeconds)
	require.Equal(t, "succeeded", rep.Phase)
	require.True(t, r.Healthy())
}

func TestReporter_BackupFreshness(t *testing.T) {
	now := time.Date(2025, 4, 28, 6, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		probe      stubBackups
		wantStatus string
		wantTime   string
	}{
		{name: "fresh", probe: stubBackups{at: now.Add(-25 * time.Hour), ok: true}, wantStatus: StatusHealthy, wantTime: "2025-04-27T05:00:00Z"},
		{name: "stale", probe: stubBackups{at: now.Add(-49 * time.Hour), ok: true}, wantStatus: StatusUnhealthy, wantTime: "2025-04-26T05:00:00Z"},
		{name: "none", probe: stubBackups{}, wantStatus: StatusUnhealthy, wantTime: "never"},
		{name: "error", probe: stubBackups{err: errors.New("permission denied")}, wantStatus: StatusUnhealthy, wantTime: "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReporter(NewRunState(), nil, tc.probe, nil, 48*time.Hour)
			r.now = func() time.Time { return now }
			rep := r.Report()
			require.Equal(t, tc.wantStatus, rep.BackupStatus)
			require.Equal(t, tc.wantTime, rep.LastBackupTime)
		})
	}
}
