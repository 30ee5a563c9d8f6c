package exception

import "github.com/yanun0323/errors"

// Error classes. Specific errors below wrap exactly one of these so callers can
// branch on the class with errors.Is.
var (
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrAuth          = errors.New("auth error")
	ErrRateLimited   = errors.New("rate limited")
	ErrBadRequest    = errors.New("bad request")
	ErrServerError   = errors.New("server error")
	ErrIntegrity     = errors.New("integrity error")
	ErrConfiguration = errors.New("configuration error")
)

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInternal        = errors.New("internal error")
	ErrInvalidArgument = errors.Wrap(ErrConfiguration, "invalid argument")
	ErrAuthRequired    = errors.Wrap(ErrAuth, "credentials required")
)
