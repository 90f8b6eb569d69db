package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchInterval(t *testing.T) {
	require.Equal(t, 60*time.Second, FetchInterval(0))
	require.Equal(t, 60*time.Second, FetchInterval(15))
	require.Equal(t, 300*time.Second, FetchInterval(300))
}

func TestScheduler_TickAndTrigger(t *testing.T) {
	var ticks, manual atomic.Int64
	s := New().
		Add(Job{Name: "fast", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			ticks.Add(1)
			return nil
		}}).
		Add(Job{Name: "manual", Run: func(ctx context.Context) error {
			manual.Add(1)
			return errors.New("boom")
		}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.False(t, s.Trigger("missing"))
	require.True(t, s.Trigger("manual"))

	require.Eventually(t, func() bool { return ticks.Load() >= 2 && manual.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st := s.Stats()
	require.Len(t, st.Jobs, 2)
	require.Equal(t, "fast", st.Jobs[0].Name)
	require.Equal(t, "manual", st.Jobs[1].Name)
	require.Equal(t, int64(1), st.Jobs[1].TotalErrors)
	require.Equal(t, "boom", st.Jobs[1].LastError)
	require.NotNil(t, st.Jobs[1].LastTriggerAt)
}

func TestScheduler_RunOnStartNoOverlap(t *testing.T) {
	var inFlight, maxInFlight, runs atomic.Int64
	s := New().Add(Job{Name: "slow", Interval: 5 * time.Millisecond, RunOnStart: true, Run: func(ctx context.Context) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.Equal(t, int64(1), maxInFlight.Load())
}
