package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"golang.org/x/sync/errgroup"
)

// MinFetchInterval is the lower bound for the ingestion job interval.
const MinFetchInterval = 60 * time.Second

// FetchInterval clamps the configured ingestion interval.
func FetchInterval(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if d < MinFetchInterval {
		return MinFetchInterval
	}
	return d
}

// Job is a periodic task. Runs of one job never overlap: a tick that fires
// while the job is still running is dropped.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type job struct {
	Job

	triggerCh chan struct{}

	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalErrors         atomic.Int64
	running             atomic.Bool
	lastErrorMu         sync.Mutex
	lastError           string
}

type Scheduler struct {
	jobs              map[string]*job
	startedAtUnixNano int64
}

func New() *Scheduler {
	return &Scheduler{
		jobs:              map[string]*job{},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// Add registers a job. Jobs with a non-positive interval run only on Trigger.
func (s *Scheduler) Add(j Job) *Scheduler {
	s.jobs[j.Name] = &job{Job: j, triggerCh: make(chan struct{}, 1)}
	return s
}

// Trigger forces an immediate run of the named job (best-effort, non-blocking).
func (s *Scheduler) Trigger(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	j.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case j.triggerCh <- struct{}{}:
	default:
	}
	return true
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			j.loop(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (j *job) loop(ctx context.Context) {
	var tick <-chan time.Time
	if j.Interval > 0 {
		t := time.NewTicker(j.Interval)
		defer t.Stop()
		tick = t.C
	}
	log.Info("job scheduled", "job", j.Name, "interval", j.Interval)

	if j.RunOnStart {
		j.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			j.runOnce(ctx)
		case <-j.triggerCh:
			j.runOnce(ctx)
		}
	}
}

func (j *job) runOnce(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)
	j.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	j.totalRuns.Add(1)

	if err := j.Run(ctx); err != nil {
		j.totalErrors.Add(1)
		j.lastErrorMu.Lock()
		j.lastError = err.Error()
		j.lastErrorMu.Unlock()
		log.Error(err, "job failed", "job", j.Name)
	}
}

type JobStats struct {
	Name          string     `json:"name"`
	Interval      string     `json:"interval"`
	Running       bool       `json:"running"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

type Stats struct {
	StartedAt time.Time  `json:"startedAt"`
	Jobs      []JobStats `json:"jobs"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{StartedAt: time.Unix(0, s.startedAtUnixNano).UTC()}
	for _, j := range s.jobs {
		js := JobStats{
			Name:        j.Name,
			Interval:    j.Interval.String(),
			Running:     j.running.Load(),
			TotalRuns:   j.totalRuns.Load(),
			TotalErrors: j.totalErrors.Load(),
		}
		if n := j.lastRunUnixNano.Load(); n > 0 {
			t := time.Unix(0, n).UTC()
			js.LastRunAt = &t
		}
		if n := j.lastTriggerUnixNano.Load(); n > 0 {
			t := time.Unix(0, n).UTC()
			js.LastTriggerAt = &t
		}
		j.lastErrorMu.Lock()
		js.LastError = j.lastError
		j.lastErrorMu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	sort.Slice(st.Jobs, func(a, b int) bool { return st.Jobs[a].Name < st.Jobs[b].Name })
	return st
}
