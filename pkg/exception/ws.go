package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.Wrap(ErrTransport, "websocket: connection closed")
	ErrWebSocketProtocol        = errors.Wrap(ErrProtocol, "websocket: protocol error")
	ErrWebSocketNotConnected    = errors.Wrap(ErrTransport, "websocket: not connected")
	ErrWebSocketHeartbeat       = errors.Wrap(ErrTransport, "websocket: heartbeat timeout")
	ErrWebSocketFailed          = errors.New("websocket: session failed")
	ErrWebSocketClosed          = errors.New("websocket: session closed")
	ErrWebSocketAuthRejected    = errors.Wrap(ErrAuth, "websocket: auth rejected")
	ErrWebSocketNoCodec         = errors.Wrap(ErrConfiguration, "websocket: nil codec")
	ErrWebSocketQueueFull       = errors.New("websocket: outbound queue full")
)
