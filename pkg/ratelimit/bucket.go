package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

const _minWait = 10 * time.Millisecond

// Bucket is a weighted token bucket refilled continuously at capacity/60
// tokens per second.
type Bucket struct {
	mu            sync.Mutex
	clock         Clock
	capacity      float64
	refillPerSec  float64
	tokens        float64
	lastRefill    time.Time
	throttleUntil time.Time
}

// BucketOption customizes a Bucket.
type BucketOption func(*Bucket)

// WithClock replaces the system clock.
func WithClock(clock Clock) BucketOption {
	return func(b *Bucket) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithInitialTokens starts the bucket at tokens instead of full.
func WithInitialTokens(tokens float64) BucketOption {
	return func(b *Bucket) {
		b.tokens = tokens
	}
}

// NewBucket builds a full bucket allowing capacityPerMinute tokens per minute.
func NewBucket(capacityPerMinute uint32, opts ...BucketOption) (*Bucket, error) {
	if capacityPerMinute == 0 {
		return nil, errors.Wrap(exception.ErrConfiguration, "rate limit: zero capacity")
	}
	b := &Bucket{
		clock:        SystemClock(),
		capacity:     float64(capacityPerMinute),
		refillPerSec: float64(capacityPerMinute) / 60,
		tokens:       float64(capacityPerMinute),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = clamp(b.tokens, 0, b.capacity)
	b.lastRefill = b.clock.Now()
	return b, nil
}

// RefillPerSec returns the refill rate.
func (b *Bucket) RefillPerSec() float64 {
	return b.refillPerSec
}

// Acquire blocks until weight tokens are available and removes them.
func (b *Bucket) Acquire(ctx context.Context, weight uint32) error {
	if float64(weight) > b.capacity {
		return errors.Wrap(exception.ErrWeightTooLarge, "acquire").With("weight", weight).With("capacity", b.capacity)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := b.reserve(float64(weight))
		if ok {
			return nil
		}
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAcquire removes weight tokens if they are available now.
func (b *Bucket) TryAcquire(weight uint32) bool {
	_, ok := b.reserve(float64(weight))
	return ok
}

func (b *Bucket) reserve(weight float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Before(b.throttleUntil) {
		return b.throttleUntil.Sub(now), false
	}
	b.refillLocked(now)
	if b.tokens >= weight {
		b.tokens -= weight
		return 0, true
	}
	wait := time.Duration((weight - b.tokens) / b.refillPerSec * float64(time.Second))
	if wait < _minWait {
		wait = _minWait
	}
	return wait, false
}

// DebitExtra removes n tokens after the fact, saturating at zero.
func (b *Bucket) DebitExtra(n uint32) {
	if n == 0 {
		return
	}
	b.mu.Lock()
	b.refillLocked(b.clock.Now())
	b.tokens = clamp(b.tokens-float64(n), 0, b.capacity)
	b.mu.Unlock()
}

// SyncUsed reconciles local accounting with a venue-reported used weight for
// the current window. Only debits, never credits.
func (b *Bucket) SyncUsed(used uint32) {
	b.mu.Lock()
	b.refillLocked(b.clock.Now())
	remaining := b.capacity - float64(used)
	if remaining < b.tokens {
		b.tokens = clamp(remaining, 0, b.capacity)
	}
	b.mu.Unlock()
}

// ApplyCooldown empties the bucket and blocks acquirers for d, as requested by
// a server Retry-After.
func (b *Bucket) ApplyCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	now := b.clock.Now()
	until := now.Add(d)
	if until.After(b.throttleUntil) {
		b.throttleUntil = until
	}
	b.tokens = 0
	b.lastRefill = b.throttleUntil
	b.mu.Unlock()
}

// Snapshot returns the capacity and the refilled token count.
func (b *Bucket) Snapshot() (capacity float64, tokens float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.capacity, b.tokens
}

func (b *Bucket) refillLocked(now time.Time) {
	if !now.After(b.lastRefill) {
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = clamp(b.tokens+elapsed*b.refillPerSec, 0, b.capacity)
	b.lastRefill = now
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
