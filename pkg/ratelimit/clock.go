package ratelimit

import (
	"context"
	"time"

	"venuelink/pkg/backoff"
)

// Clock abstracts monotonic time so buckets can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock reads the runtime monotonic clock.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	return backoff.SleepContext(ctx, d)
}
