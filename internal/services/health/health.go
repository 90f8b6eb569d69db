package health

import (
	"sync"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/ratelimit"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDisabled  = "disabled"

	never = "never"
)

// RunState holds the latest ingestion result. Each Publish overwrites it.
type RunState struct {
	mu   sync.RWMutex
	last *models.IngestionRunResult
}

func NewRunState() *RunState { return &RunState{} }

func (s *RunState) Publish(res models.IngestionRunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &res
}

func (s *RunState) Last() (models.IngestionRunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.IngestionRunResult{}, false
	}
	return *s.last, true
}

type LimiterStats interface {
	Snapshot() ratelimit.Snapshot
}

// BackupProbe reports the modification time of the newest backup artifact.
type BackupProbe interface {
	LatestBackup() (time.Time, bool, error)
}

type PhaseSource interface {
	Phase() string
}

type Report struct {
	Status                  string                     `json:"status"`
	LastJobTime             string                     `json:"last_job_time"`
	LastRun                 *models.IngestionRunResult `json:"last_run,omitempty"`
	Phase                   string                     `json:"phase,omitempty"`
	RateLimitWaitSeconds    float64                    `json:"rate_limit_wait_seconds"`
	RequestsInCurrentMinute int                        `json:"requests_in_current_minute"`
	BackupStatus            string                     `json:"backup_status"`
	LastBackupTime          string                     `json:"last_backup_time"`
}

type Reporter struct {
	state        *RunState
	limiter      LimiterStats
	backups      BackupProbe
	phase        PhaseSource
	maxBackupAge time.Duration

	now func() time.Time
}

// NewReporter wires the read-only health sources. limiter, backups and phase may be nil.
func NewReporter(state *RunState, limiter LimiterStats, backups BackupProbe, phase PhaseSource, maxBackupAge time.Duration) *Reporter {
	if maxBackupAge <= 0 {
		maxBackupAge = 48 * time.Hour
	}
	return &Reporter{
		state:        state,
		limiter:      limiter,
		backups:      backups,
		phase:        phase,
		maxBackupAge: maxBackupAge,
		now:          time.Now,
	}
}

func (r *Reporter) Report() Report {
	rep := Report{
		Status:         StatusUnhealthy,
		LastJobTime:    never,
		BackupStatus:   StatusDisabled,
		LastBackupTime: never,
	}

	if last, ok := r.state.Last(); ok {
		rep.LastRun = &last
		rep.LastJobTime = last.Timestamp.Format(time.RFC3339)
		if last.Success {
			rep.Status = StatusHealthy
		}
	}
	if r.phase != nil {
		rep.Phase = r.phase.Phase()
	}
	if r.limiter != nil {
		snap := r.limiter.Snapshot()
		rep.RateLimitWaitSeconds = snap.LastWait.Seconds()
		rep.RequestsInCurrentMinute = snap.RequestsInWindow
	}
	if r.backups != nil {
		rep.BackupStatus = StatusUnhealthy
		at, ok, err := r.backups.LatestBackup()
		switch {
		case err != nil:
			log.Error(err, "check backup status")
			rep.LastBackupTime = "error"
		case ok:
			rep.LastBackupTime = at.UTC().Format(time.RFC3339)
			if r.now().Sub(at) < r.maxBackupAge {
				rep.BackupStatus = StatusHealthy
			}
		}
	}
	return rep
}

// Healthy reports whether the last cycle succeeded.
func (r *Reporter) Healthy() bool {
	last, ok := r.state.Last()
	return ok && last.Success
}
