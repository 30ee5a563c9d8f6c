package websocket

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/pkg/backoff"
)

type fakeFrame struct {
	msgType MessageType
	data    []byte
	err     error
}

type fakeConn struct {
	inbound   chan fakeFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	writes    []string
	pings     int
	closeCode CloseCode
	heartbeat func()
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{
		inbound: make(chan fakeFrame, 64),
		closed:  make(chan struct{}),
	}
	for _, f := range frames {
		c.push(f)
	}
	return c
}

func (c *fakeConn) push(frame string) {
	c.inbound <- fakeFrame{msgType: MessageText, data: []byte(frame)}
}

func (c *fakeConn) fail(err error) {
	c.inbound <- fakeFrame{err: err}
}

func (c *fakeConn) ReadMessage() (MessageType, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, &CloseError{Code: CloseAbnormal}
	default:
	}
	select {
	case f := <-c.inbound:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.msgType, f.data, nil
	case <-c.closed:
		return 0, nil, &CloseError{Code: CloseAbnormal}
	}
}

func (c *fakeConn) WriteMessage(msgType MessageType, payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msgType == MessagePing {
		c.pings++
		return nil
	}
	c.writes = append(c.writes, string(payload))
	return nil
}

func (c *fakeConn) SetHeartbeatHandler(fn func()) {
	c.mu.Lock()
	c.heartbeat = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close(code CloseCode, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) CloseCode() CloseCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.errs) != 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestSession(t *testing.T, dialer Dialer, mutate func(*Config)) *Session {
	t.Helper()

	cfg := Config{
		Name:   "test",
		URL:    "wss://venue.test/realtime",
		Codec:  EnvelopeCodec{},
		Dialer: dialer,
		Reconnect: backoff.Config{
			Initial:        time.Millisecond,
			Max:            5 * time.Millisecond,
			Factor:         2,
			ImmediateFirst: true,
		},
		PingInterval:     time.Hour,
		HeartbeatTimeout: time.Hour,
		ShutdownTimeout:  time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond)
}

func nextEvent(t *testing.T, s *Session) Message {
	t.Helper()
	select {
	case msg, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no event")
		return Message{}
	}
}

func backoffConfig(factor float64) backoff.Config {
	return backoff.Config{Initial: time.Millisecond, Max: time.Second, Factor: factor}
}
