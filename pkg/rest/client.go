package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/backoff"
	"venuelink/pkg/exception"
	"venuelink/pkg/ratelimit"
)

// Config configures a venue REST client.
type Config struct {
	BaseURL    string         `yaml:"base_url"`
	Timeout    time.Duration  `yaml:"timeout"`
	MaxRetries int            `yaml:"max_retries"`
	Backoff    backoff.Config `yaml:"backoff"`
	// MaxElapsed caps the time spent retrying one request, 0 means unbounded.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
	UserAgent  string        `yaml:"user_agent"`
	// UsedWeightHeader names a response header reporting the used weight of the
	// current window, e.g. X-MBX-USED-WEIGHT-1m.
	UsedWeightHeader string            `yaml:"used_weight_header"`
	Headers          map[string]string `yaml:"headers"`
}

// DefaultConfig returns the request defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    60 * time.Second,
		MaxRetries: 5,
		Backoff:    backoff.DefaultHTTP(),
		MaxElapsed: backoff.HTTPRetryConfig().MaxElapsed,
		UserAgent:  "venuelink",
	}
}

// Observer receives request outcomes.
type Observer interface {
	ObserveRequest(path string, status int, latency time.Duration)
	ObserveRetry(path string)
}

// Request describes one venue call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is marshaled as JSON unless it is already a []byte.
	Body any
	// Form is sent form-encoded when Body is nil.
	Form   url.Values
	Header http.Header
	// Auth requires a signer.
	Auth bool
	// Weight is charged before sending, 0 means 1.
	Weight uint32
	// Keys select rate classes in the limiter registry.
	Keys []string
	// Idempotent marks non-GET requests as safe to resend.
	Idempotent bool
	// ExtraWeight computes a post-response debit from the body.
	ExtraWeight func(body []byte) uint32
}

func (r Request) idempotent() bool {
	return r.Idempotent || r.Method == "" || r.Method == http.MethodGet
}

// Response is a successful raw response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client sends signed, rate limited requests with retries.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *ratelimit.Registry
	signer   Signer
	observer Observer
	retry    *backoff.RetryManager
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

func WithLimiter(limiter *ratelimit.Registry) Option {
	return func(c *Client) { c.limiter = limiter }
}

func WithSigner(signer Signer) Option {
	return func(c *Client) { c.signer = signer }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New builds a client with a keep-alive connection pool.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(exception.ErrConfiguration, "rest: empty base url")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(exception.ErrConfiguration, "rest: invalid base url").With("url", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultHTTP()
	}
	retry, err := backoff.NewRetryManager(retryConfig(cfg))
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        128,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		retry: retry,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// retryConfig lays cfg over the HTTP retry preset. Each attempt is bounded by
// the request timeout.
func retryConfig(cfg Config) backoff.RetryConfig {
	rc := backoff.HTTPRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	rc.InitialDelay = cfg.Backoff.Initial
	rc.MaxDelay = cfg.Backoff.Max
	rc.Factor = cfg.Backoff.Factor
	rc.JitterMs = cfg.Backoff.JitterMs
	rc.ImmediateFirst = cfg.Backoff.ImmediateFirst
	rc.OperationTimeout = cfg.Timeout
	rc.MaxElapsed = cfg.MaxElapsed
	return rc
}

// HasSigner reports whether authenticated requests can be sent.
func (c *Client) HasSigner() bool {
	return c.signer != nil
}

// Do runs the request lifecycle and decodes a JSON body into out when out is
// not nil.
func (c *Client) Do(ctx context.Context, req Request, out any) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Auth && c.signer == nil {
		return nil, errors.Wrap(exception.ErrAuthRequired, "rest: "+req.Path)
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	weight := req.Weight
	if weight == 0 {
		weight = 1
	}
	if c.limiter != nil {
		if err := c.limiter.AcquireKeys(ctx, req.Keys, weight); err != nil {
			return nil, errors.Wrap(err, "rest: acquire rate limit").With("path", req.Path)
		}
	}

	var resp *Response
	err = c.retry.ExecutePolicy(ctx, "rest: "+req.Method+" "+req.Path, func(ctx context.Context) error {
		r, err := c.send(ctx, req, body, contentType)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, backoff.Policy{
		ShouldRetry: func(err error) bool {
			return req.idempotent() && retryable(err)
		},
		DelayHint: retryAfter,
		OnRetry: func(int, time.Duration, error) {
			if c.observer != nil {
				c.observer.ObserveRetry(req.Path)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	c.debit(req, resp.Body)
	if out != nil && len(resp.Body) != 0 {
		if err := sonic.ConfigFastest.Unmarshal(resp.Body, out); err != nil {
			return resp, errors.Wrap(exception.ErrProtocol, "rest: decode response").With("path", req.Path).With("error", err.Error())
		}
	}
	return resp, nil
}

func retryable(err error) bool {
	if httpErr, ok := err.(*HTTPError); ok {
		return retryableStatus(httpErr.Status)
	}
	return errors.Is(err, exception.ErrTransport)
}

func retryAfter(err error) time.Duration {
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.RetryAfter
	}
	return 0
}

func (c *Client) send(ctx context.Context, req Request, body []byte, contentType string) (*Response, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) != 0 {
		u += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, u, reader)
	if err != nil {
		return nil, errors.Wrap(exception.ErrBadRequest, "rest: build request").With("url", u).With("error", err.Error())
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		r.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		r.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if req.Auth {
		if err := c.signer.Sign(r, body); err != nil {
			return nil, errors.Wrap(exception.ErrAuth, "rest: sign request").With("error", err.Error())
		}
	}

	start := c.now()
	resp, err := c.http.Do(r)
	if err != nil {
		return nil, errors.Wrap(exception.ErrTransport, "rest: "+req.Method+" "+req.Path).With("error", err.Error())
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(exception.ErrTransport, "rest: read body").With("error", err.Error())
	}
	if c.observer != nil {
		c.observer.ObserveRequest(req.Path, resp.StatusCode, c.now().Sub(start))
	}
	c.syncUsedWeight(req, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: payload}, nil
	}

	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		wait, _ = ParseRetryAfter(resp.Header, c.now())
	}
	if wait > 0 && c.limiter != nil {
		c.limiter.ApplyCooldown(req.Keys, wait)
	}
	return nil, newHTTPError(resp.StatusCode, payload, wait)
}

func (c *Client) debit(req Request, body []byte) {
	if c.limiter == nil || req.ExtraWeight == nil {
		return
	}
	if extra := req.ExtraWeight(body); extra > 0 {
		c.limiter.DebitExtra(req.Keys, extra)
	}
}

func (c *Client) syncUsedWeight(req Request, h http.Header) {
	if c.limiter == nil || c.cfg.UsedWeightHeader == "" {
		return
	}
	v := h.Get(c.cfg.UsedWeightHeader)
	if v == "" {
		return
	}
	used, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return
	}
	c.limiter.SyncUsed(req.Keys, uint32(used))
}

func encodeBody(req Request) ([]byte, string, error) {
	switch body := req.Body.(type) {
	case nil:
		if len(req.Form) != 0 {
			return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
		}
		return nil, "", nil
	case []byte:
		return body, "application/json", nil
	default:
		payload, err := sonic.ConfigFastest.Marshal(body)
		if err != nil {
			return nil, "", errors.Wrap(exception.ErrBadRequest, "rest: encode body").With("error", err.Error())
		}
		return payload, "application/json", nil
	}
}
