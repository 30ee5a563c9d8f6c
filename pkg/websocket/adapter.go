package websocket

import (
	"context"
	"net/http"
)

// Conn is a minimal interface for a WebSocket connection. Writes are only
// issued from one goroutine at a time; Close may be called concurrently.
type Conn interface {
	ReadMessage() (MessageType, []byte, error)
	WriteMessage(msgType MessageType, payload []byte) error
	// SetHeartbeatHandler registers fn to run on every inbound ping or pong.
	SetHeartbeatHandler(fn func())
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Codec translates between venue frames and session messages.
type Codec interface {
	// EncodeSubscribe builds one subscribe frame. isLast marks the final
	// frame of a batch.
	EncodeSubscribe(channel string, symbols []string, isLast bool) ([]byte, error)
	EncodeUnsubscribe(channel string, symbols []string) ([]byte, error)
	Decode(payload []byte) ([]Message, error)
}

// Authenticator runs after the handshake and before subscriptions replay.
// It may read and write conn directly.
type Authenticator interface {
	Authenticate(ctx context.Context, conn Conn) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, conn Conn) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, conn Conn) error {
	return f(ctx, conn)
}
