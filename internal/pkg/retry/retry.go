package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule lists the waits between consecutive attempts.
// A schedule of length n allows n+1 attempts in total.
type Schedule []time.Duration

// Exponential returns a schedule of base*2^attempt for attempt 1..attempts-1,
// so base=1s, attempts=3 waits 2s then 4s.
func Exponential(base time.Duration, attempts int) Schedule {
	if attempts < 1 {
		attempts = 1
	}
	s := make(Schedule, 0, attempts-1)
	for a := 1; a < attempts; a++ {
		s = append(s, base*time.Duration(1<<a))
	}
	return s
}

func (s Schedule) Attempts() int { return len(s) + 1 }

type scheduleBackOff struct {
	s Schedule
	i int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.i >= len(b.s) {
		return backoff.Stop
	}
	d := b.s[b.i]
	b.i++
	return d
}

func (b *scheduleBackOff) Reset() { b.i = 0 }

// Notify is called after a failed attempt that is going to be retried.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, the schedule is
// exhausted or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, s Schedule, op func(attempt int) error, notify Notify) (int, error) {
	attempt := 0
	operation := func() error {
		attempt++
		return op(attempt)
	}
	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(&scheduleBackOff{s: s}, ctx), onRetry)
	return attempt, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
