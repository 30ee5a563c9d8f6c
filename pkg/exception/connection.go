package exception

import "github.com/yanun0323/errors"

var (
	ErrInResponseError = errors.Wrap(ErrProtocol, "there is an error in response error field")
	ErrConnectionClose = errors.Wrap(ErrTransport, "connection closed")
	ErrRetryTimeout    = errors.Wrap(ErrTransport, "retry: operation timed out")
	ErrWeightTooLarge  = errors.Wrap(ErrConfiguration, "rate limit: weight exceeds capacity")
)
