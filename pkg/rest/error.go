package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"venuelink/pkg/exception"
)

// HTTPError is a non-2xx response. It unwraps to its error class.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
	class      error
}

func (e *HTTPError) Error() string {
	return "http " + strconv.Itoa(e.Status) + ": " + e.class.Error() + ": " + e.Body
}

func (e *HTTPError) Unwrap() error {
	return e.class
}

func newHTTPError(status int, body []byte, retryAfter time.Duration) *HTTPError {
	return &HTTPError{
		Status:     status,
		Body:       string(body),
		RetryAfter: retryAfter,
		class:      classifyStatus(status),
	}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return exception.ErrRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return exception.ErrServerError
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return exception.ErrAuth
	default:
		return exception.ErrBadRequest
	}
}

// retryableStatus reports whether an idempotent request may be resent.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// ParseRetryAfter reads Retry-After (delta seconds or HTTP date), falling back
// to X-RateLimit-Remaining: 0 with X-RateLimit-Reset (epoch seconds or delta).
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
		if at, err := http.ParseTime(v); err == nil {
			return nonNegative(at.Sub(now)), true
		}
	}

	if strings.TrimSpace(h.Get("X-RateLimit-Remaining")) != "0" {
		return 0, false
	}
	reset, err := strconv.ParseInt(strings.TrimSpace(h.Get("X-RateLimit-Reset")), 10, 64)
	if err != nil {
		return 0, false
	}
	if reset > 1_000_000_000 {
		return nonNegative(time.Unix(reset, 0).Sub(now)), true
	}
	return time.Duration(reset) * time.Second, true
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
