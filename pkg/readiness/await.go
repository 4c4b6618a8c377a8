package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("readiness: timed out")

// TimeoutError is returned when a condition never became true within its budget.
type TimeoutError struct {
	Name     string
	Attempts int
	Elapsed  time.Duration
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("readiness: %s not ready after %d attempt(s) in %s (timeout %s)",
		e.Name, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) succeed.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Clock abstracts time so poll loops can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock uses the wall clock and a context-aware sleep.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DefaultInterval is used when Policy.Interval is not positive.
const DefaultInterval = time.Second

// Policy configures one poll loop.
type Policy struct {
	// Name identifies the condition in logs and errors.
	Name string
	// Interval between attempts; non-positive selects DefaultInterval.
	Interval time.Duration
	// Timeout bounds the total wait. Zero means a single attempt. Negative
	// means poll until ctx is done.
	Timeout time.Duration
	Clock   Clock
	Logger  zerolog.Logger
}

// Check is one poll attempt. It returns the ready value and true once the
// condition holds, or false to keep polling.
type Check[T any] func(ctx context.Context) (T, bool)

// Await runs check until it reports ready, sleeping p.Interval between
// attempts. The condition is always evaluated at least once, and once more at
// the deadline. When the elapsed time reaches p.Timeout after a failed attempt,
// Await returns a *TimeoutError.
func Await[T any](ctx context.Context, p Policy, check Check[T]) (T, error) {
	var zero T
	if check == nil {
		return zero, errors.New("readiness: nil check")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clock := p.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	name := p.Name
	if name == "" {
		name = "condition"
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := clock.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrapf(err, "readiness: waiting for %s", name)
		}
		if val, ok := check(ctx); ok {
			p.Logger.Debug().Str("condition", name).Int("attempt", attempt).Msg("readiness: condition met")
			return val, nil
		}
		elapsed := clock.Now().Sub(start)
		if p.Timeout >= 0 && elapsed >= p.Timeout {
			return zero, &TimeoutError{Name: name, Attempts: attempt, Elapsed: elapsed, Timeout: p.Timeout}
		}
		wait := interval
		if p.Timeout >= 0 && elapsed+wait > p.Timeout {
			// last attempt lands on the deadline
			wait = p.Timeout - elapsed
		}
		p.Logger.Info().Str("condition", name).Int("attempt", attempt).Dur("elapsed", elapsed).Msg("readiness: waiting")
		if err := clock.Sleep(ctx, wait); err != nil {
			return zero, errors.Wrapf(err, "readiness: waiting for %s", name)
		}
	}
}
