package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
)

type Config struct {
	Window  time.Duration // default: 60s
	Ceiling int           // requests per window, default: 4
	MinGap  time.Duration // default: 15s
}

func DefaultConfig() Config {
	return Config{
		Window:  60 * time.Second,
		Ceiling: 4,
		MinGap:  15 * time.Second,
	}
}

// Limiter gates outbound API requests. Acquire calls are serialized: a caller
// that has to wait keeps the gate until its request is recorded.
type Limiter struct {
	cfg Config

	gate chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	windowStart time.Time
	count       int
	last        time.Time
	lastWait    time.Duration
	totalWait   time.Duration
}

func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.MinGap < 0 {
		cfg.MinGap = def.MinGap
	}
	return &Limiter{
		cfg:   cfg,
		gate:  make(chan struct{}, 1),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// WithClock replaces the time source and the sleeper (tests).
func (l *Limiter) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Limiter {
	if now != nil {
		l.now = now
	}
	if sleep != nil {
		l.sleep = sleep
	}
	return l
}

// Acquire blocks until one more request may be issued, then records it.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.gate }()

	var waited time.Duration

	now := l.now()
	l.mu.Lock()
	l.rollWindow(now)
	var untilReset time.Duration
	if l.count+1 >= l.cfg.Ceiling && l.count > 0 {
		untilReset = l.windowStart.Add(l.cfg.Window).Sub(now)
	}
	requests := l.count
	l.mu.Unlock()

	if untilReset > 0 {
		log.Warn("rate limit ceiling reached, waiting for window reset",
			"requests_in_window", requests, "wait", untilReset)
		if err := l.sleep(ctx, untilReset); err != nil {
			return err
		}
		waited += untilReset
		now = l.now()
	}

	l.mu.Lock()
	l.rollWindow(now)
	var gap time.Duration
	if !l.last.IsZero() {
		gap = l.last.Add(l.cfg.MinGap).Sub(now)
	}
	l.mu.Unlock()

	if gap > 0 {
		log.Debug("rate limit gap", "wait", gap)
		if err := l.sleep(ctx, gap); err != nil {
			return err
		}
		waited += gap
		now = l.now()
	}

	l.mu.Lock()
	l.rollWindow(now)
	l.count++
	l.last = now
	l.lastWait = waited
	l.totalWait += waited
	l.mu.Unlock()

	metrics.RateLimitWaitSeconds.Observe(waited.Seconds())
	return nil
}

// rollWindow starts a new window when the current one has elapsed. Caller holds mu.
func (l *Limiter) rollWindow(now time.Time) {
	if l.windowStart.IsZero() || !now.Before(l.windowStart.Add(l.cfg.Window)) {
		l.windowStart = now
		l.count = 0
	}
}

type Snapshot struct {
	WindowStart      time.Time     `json:"window_start"`
	RequestsInWindow int           `json:"requests_in_window"`
	LastRequestAt    time.Time     `json:"last_request_at"`
	LastWait         time.Duration `json:"last_wait"`
	TotalWait        time.Duration `json:"total_wait"`
}

// Snapshot never blocks on a waiting Acquire.
func (l *Limiter) Snapshot() Snapshot {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		WindowStart:      l.windowStart,
		RequestsInWindow: l.count,
		LastRequestAt:    l.last,
		LastWait:         l.lastWait,
		TotalWait:        l.totalWait,
	}
	if !l.windowStart.IsZero() && !now.Before(l.windowStart.Add(l.cfg.Window)) {
		s.RequestsInWindow = 0
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
