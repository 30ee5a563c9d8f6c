package backoff

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/pkg/exception"
)

// RetryConfig bounds how an operation is retried.
type RetryConfig struct {
	// MaxRetries bounds the retries after the first attempt. Unbounded retries
	// until ctx ends or the elapsed budget is spent.
	MaxRetries       int           `yaml:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Factor           float64       `yaml:"factor"`
	JitterMs         uint64        `yaml:"jitter_ms"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	ImmediateFirst   bool          `yaml:"immediate_first"`
	// MaxElapsed caps the total time spent retrying, 0 means unbounded.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// Unbounded is the MaxRetries value that never exhausts.
const Unbounded = -1

// HTTPRetryConfig returns the request retry preset.
func HTTPRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2,
		JitterMs:         1000,
		OperationTimeout: 60 * time.Second,
		MaxElapsed:       180 * time.Second,
	}
}

// WebSocketRetryConfig returns the connect retry preset.
func WebSocketRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       5,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2,
		JitterMs:         1000,
		OperationTimeout: 30 * time.Second,
		ImmediateFirst:   true,
		MaxElapsed:       120 * time.Second,
	}
}

func (c RetryConfig) backoff() Config {
	return Config{
		Initial:        c.InitialDelay,
		Max:            c.MaxDelay,
		Factor:         c.Factor,
		JitterMs:       c.JitterMs,
		ImmediateFirst: c.ImmediateFirst,
	}
}

// RetryManager runs operations with timeouts and exponential backoff between
// attempts.
type RetryManager struct {
	cfg  RetryConfig
	opts []Option
}

// NewRetryManager validates cfg.
func NewRetryManager(cfg RetryConfig, opts ...Option) (*RetryManager, error) {
	if cfg.MaxRetries < Unbounded {
		return nil, errors.Wrap(exception.ErrConfiguration, "retry: negative max retries")
	}
	if err := cfg.backoff().Validate(); err != nil {
		return nil, err
	}
	return &RetryManager{cfg: cfg, opts: opts}, nil
}

// Policy decides how failed attempts are handled. Zero fields keep the
// defaults: every error is retried and delays follow the backoff.
type Policy struct {
	ShouldRetry func(err error) bool
	// DelayHint returns a server-directed delay for err. A positive hint
	// replaces the backoff delay and resets the backoff.
	DelayHint func(err error) time.Duration
	// OnRetry runs before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Config returns the retry settings.
func (m *RetryManager) Config() RetryConfig {
	return m.cfg
}

// Execute runs op until it succeeds, shouldRetry rejects the error, retries
// are exhausted, the elapsed budget is spent or ctx ends. A nil shouldRetry
// retries every error.
func (m *RetryManager) Execute(ctx context.Context, name string, op func(ctx context.Context) error, shouldRetry func(error) bool) error {
	return m.ExecutePolicy(ctx, name, op, Policy{ShouldRetry: shouldRetry})
}

// ExecutePolicy is Execute with delay hints and retry hooks. Errors rejected
// by ShouldRetry are returned unwrapped.
func (m *RetryManager) ExecutePolicy(ctx context.Context, name string, op func(ctx context.Context) error, policy Policy) error {
	b, err := New(m.cfg.backoff(), m.opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := m.run(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), name)
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return err
		}
		if m.cfg.MaxRetries != Unbounded && attempt >= m.cfg.MaxRetries {
			return errors.Wrap(err, name+": retries exhausted").With("attempts", attempt+1)
		}

		delay := b.Next()
		if policy.DelayHint != nil {
			if hint := policy.DelayHint(err); hint > 0 {
				delay = hint
				b.Reset()
			}
		}
		if m.cfg.MaxElapsed > 0 && time.Since(start)+delay > m.cfg.MaxElapsed {
			return errors.Wrap(err, name+": retry budget exceeded").With("elapsed", time.Since(start))
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}
		logs.Infof("%s failed, retry %d/%d in %s, err: %+v", name, attempt+1, m.cfg.MaxRetries, delay, err)
		if err := SleepContext(ctx, delay); err != nil {
			return errors.Wrap(err, name)
		}
	}
}

func (m *RetryManager) run(ctx context.Context, op func(ctx context.Context) error) error {
	if m.cfg.OperationTimeout <= 0 {
		return op(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	err := op(opCtx)
	if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(exception.ErrRetryTimeout, err.Error()).With("timeout", m.cfg.OperationTimeout)
	}
	return err
}
