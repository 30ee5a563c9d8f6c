package backoff

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

// Config defines exponential backoff behavior.
type Config struct {
	// Initial is the first non-zero delay.
	Initial time.Duration `yaml:"initial"`
	// Max caps the base delay.
	Max time.Duration `yaml:"max"`
	// Factor multiplies the base delay after every emitted delay.
	Factor float64 `yaml:"factor"`
	// JitterMs adds uniform random [0, JitterMs] milliseconds to each delay.
	JitterMs uint64 `yaml:"jitter_ms"`
	// ImmediateFirst makes the first delay after construction or Reset zero.
	ImmediateFirst bool `yaml:"immediate_first"`
}

// DefaultReconnect provides the websocket reconnect defaults.
func DefaultReconnect() Config {
	return Config{
		Initial:        2 * time.Second,
		Max:            30 * time.Second,
		Factor:         1.5,
		JitterMs:       100,
		ImmediateFirst: true,
	}
}

// DefaultHTTP provides the request retry defaults.
func DefaultHTTP() Config {
	return Config{
		Initial:  200 * time.Millisecond,
		Max:      3 * time.Second,
		Factor:   2,
		JitterMs: 50,
	}
}

// Validate checks the config without building a controller.
func (c Config) Validate() error {
	if c.Initial <= 0 {
		return errors.Wrap(exception.ErrConfiguration, "backoff: initial must be positive").With("initial", c.Initial)
	}
	if c.Factor < 1.0 || c.Factor > 100 {
		return errors.Wrap(exception.ErrConfiguration, "backoff: factor must be in [1, 100]").With("factor", c.Factor)
	}
	if c.Max < c.Initial {
		return errors.Wrap(exception.ErrConfiguration, "backoff: max must be >= initial").With("max", c.Max)
	}
	return nil
}

// Backoff is an exponential delay controller. It is safe for concurrent use.
type Backoff struct {
	mu         sync.Mutex
	cfg        Config
	base       time.Duration
	immediate  bool
	jitterFunc func(maxMs uint64) time.Duration
}

// Option customizes a Backoff.
type Option func(*Backoff)

// WithJitterFunc replaces the random jitter source.
func WithJitterFunc(fn func(maxMs uint64) time.Duration) Option {
	return func(b *Backoff) {
		if fn != nil {
			b.jitterFunc = fn
		}
	}
}

// New validates cfg and builds a controller.
func New(cfg Config, opts ...Option) (*Backoff, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backoff{
		cfg:        cfg,
		base:       cfg.Initial,
		immediate:  cfg.ImmediateFirst,
		jitterFunc: uniformJitter,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func uniformJitter(maxMs uint64) time.Duration {
	if maxMs == 0 {
		return 0
	}
	return time.Duration(rand.Uint64N(maxMs+1)) * time.Millisecond
}

// Next returns the next delay and advances the base delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.immediate {
		b.immediate = false
		return 0
	}

	delay := b.base + b.jitterFunc(b.cfg.JitterMs)
	next := time.Duration(float64(b.base) * b.cfg.Factor)
	if next > b.cfg.Max || next < b.base {
		next = b.cfg.Max
	}
	b.base = next
	return delay
}

// Current returns the base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// Reset restores the initial delay and re-arms immediate-first.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.base = b.cfg.Initial
	b.immediate = b.cfg.ImmediateFirst
	b.mu.Unlock()
}

// Sleep waits for the next delay. It returns ctx.Err() if ctx ends first.
func (b *Backoff) Sleep(ctx context.Context) error {
	return SleepContext(ctx, b.Next())
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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
