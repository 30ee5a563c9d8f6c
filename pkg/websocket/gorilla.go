package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

// GorillaDialer dials venues with gorilla/websocket.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadLimit caps inbound message size in bytes; zero keeps the library default.
	ReadLimit         int64
	EnableCompression bool
}

func (d GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  d.HandshakeTimeout,
		EnableCompression: d.EnableCompression,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, errors.Wrap(exception.ErrWebSocketAuthRejected, err.Error()).With("status", resp.StatusCode)
			}
		}
		return nil, errors.Wrap(exception.ErrTransport, err.Error()).With("url", url)
	}

	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &gorillaConn{conn: c, writeTimeout: writeTimeout}, nil
}

type gorillaConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *gorillaConn) ReadMessage() (MessageType, []byte, error) {
	msgType, payload, err := c.conn.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return 0, nil, &CloseError{Code: CloseCode(ce.Code), Reason: ce.Text}
		}
		return 0, nil, err
	}
	return MessageType(msgType), payload, nil
}

func (c *gorillaConn) WriteMessage(msgType MessageType, payload []byte) error {
	deadline := time.Now().Add(c.writeTimeout)
	if msgType == MessagePing || msgType == MessagePong {
		return c.conn.WriteControl(int(msgType), payload, deadline)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msgType), payload)
}

func (c *gorillaConn) SetHeartbeatHandler(fn func()) {
	c.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		fn()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
}

func (c *gorillaConn) Close(code CloseCode, reason string) error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason),
		time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}
