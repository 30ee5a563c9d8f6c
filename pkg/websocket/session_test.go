package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

const _tradesSubscribe = `{"op":"subscribe","channels":["trades"],"symbols":["XBTUSD"],"is_last":true}`

func decodeControl(t *testing.T, raw string) controlFrame {
	t.Helper()
	var f controlFrame
	require.NoError(t, sonic.ConfigFastest.UnmarshalFromString(raw, &f))
	return f
}

func TestNewSessionValidatesConfig(t *testing.T) {
	_, err := NewSession(Config{URL: "wss://x"})
	assert.True(t, errors.Is(err, exception.ErrWebSocketNoCodec))

	_, err = NewSession(Config{Codec: EnvelopeCodec{}})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))

	_, err = NewSession(Config{URL: "wss://x", Codec: EnvelopeCodec{}, Reconnect: backoffConfig(0.5)})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestSubscribeThenReconnectReplaysBeforeEvents(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn(`{"topic":"trades","type":"trade","data":{"px":"101.5"},"ts":5}`)
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, nil)

	require.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD"))
	eventually(t, func() bool { return len(conn1.Writes()) == 1 })
	assert.JSONEq(t, _tradesSubscribe, conn1.Writes()[0])

	conn1.fail(errors.New("connection reset by peer"))

	msg := nextEvent(t, s)
	assert.Equal(t, KindData, msg.Kind)
	assert.Equal(t, "trades", msg.Topic)
	assert.JSONEq(t, `{"px":"101.5"}`, string(msg.Payload))
	assert.Equal(t, int64(5), msg.TsEvent)
	assert.NotZero(t, msg.TsInit)

	writes := conn2.Writes()
	require.NotEmpty(t, writes)
	assert.JSONEq(t, _tradesSubscribe, writes[0])

	assert.Equal(t, CloseGoingAway, conn1.CloseCode())
	assert.Equal(t, uint64(1), s.Stats().Reconnects)
	assert.Equal(t, 2, dialer.Dials())

	sub, ok := s.Registry().Get("trades", "XBTUSD")
	require.True(t, ok)
	assert.Equal(t, SubPending, sub.State)
}

func TestSubscribeWhileDisconnectedIsReplayedInChunks(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.ChunkSize = 2
	})

	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD", "ETHUSD", "SOLUSD"))
	require.NoError(t, s.Subscribe(t.Context(), "quotes", "XBTUSD"))
	require.NoError(t, s.Subscribe(t.Context(), "instruments"))
	assert.Equal(t, 5, s.Registry().Len())

	require.NoError(t, s.Connect(t.Context()))

	writes := conn.Writes()
	require.Len(t, writes, 4)

	frames := make([]controlFrame, 0, len(writes))
	for _, w := range writes {
		frames = append(frames, decodeControl(t, w))
	}

	assert.Equal(t, controlFrame{Op: "subscribe", Channels: []string{"instruments"}}, frames[0])
	assert.Equal(t, controlFrame{Op: "subscribe", Channels: []string{"quotes"}, Symbols: []string{"XBTUSD"}}, frames[1])
	assert.Equal(t, controlFrame{Op: "subscribe", Channels: []string{"trades"}, Symbols: []string{"ETHUSD", "SOLUSD"}}, frames[2])
	assert.Equal(t, controlFrame{Op: "subscribe", Channels: []string{"trades"}, Symbols: []string{"XBTUSD"}, IsLast: true}, frames[3])
}

func TestSubscriptionAcks(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil)
	require.NoError(t, s.Connect(t.Context()))
	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD", "ETHUSD"))

	// a data frame after the acks proves the reader processed them
	flush := func() {
		conn.push(`{"topic":"trades","type":"data","data":{}}`)
		nextEvent(t, s)
	}

	conn.push(`{"topic":"trades","type":"subscribed","symbols":["XBTUSD"]}`)
	conn.push(`{"topic":"trades","type":"subscribed","symbols":["ETHUSD"],"success":false,"error":"unknown symbol"}`)
	flush()

	sub, _ := s.Registry().Get("trades", "XBTUSD")
	assert.Equal(t, SubActive, sub.State)
	sub, _ = s.Registry().Get("trades", "ETHUSD")
	assert.Equal(t, SubFailed, sub.State)
	assert.Equal(t, StateConnected, s.State())

	require.NoError(t, s.Unsubscribe(t.Context(), "trades", "XBTUSD"))
	eventually(t, func() bool { return len(conn.Writes()) == 2 })
	assert.JSONEq(t, `{"op":"unsubscribe","channels":["trades"],"symbols":["XBTUSD"]}`, conn.Writes()[1])

	conn.push(`{"topic":"trades","type":"subscribed","symbols":["XBTUSD"]}`)
	flush()
	sub, _ = s.Registry().Get("trades", "XBTUSD")
	assert.Equal(t, SubUnsubscribing, sub.State)

	conn.push(`{"topic":"trades","type":"unsubscribed","symbols":["XBTUSD"]}`)
	flush()
	sub, ok := s.Registry().Get("trades", "XBTUSD")
	assert.False(t, ok)
	assert.Equal(t, SubInactive, sub.State)
}

func TestUnsubscribeWhileDisconnectedForgets(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, nil)
	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD"))
	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD"))

	require.NoError(t, s.Unsubscribe(t.Context(), "trades", "XBTUSD"))
	sub, ok := s.Registry().Get("trades", "XBTUSD")
	require.True(t, ok)
	assert.Equal(t, 1, sub.Refs)

	require.NoError(t, s.Unsubscribe(t.Context(), "trades", "XBTUSD"))
	_, ok = s.Registry().Get("trades", "XBTUSD")
	assert.False(t, ok)
}

func TestCRAMAuthentication(t *testing.T) {
	const key = "db-0123456789ABCDE"

	conn := newFakeConn("lsg_version=0.4.2\n", "cram=nonce42\n", "success=1|session_id=7\n")
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.Authenticator = CRAM{APIKey: key}
	})
	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD"))
	require.NoError(t, s.Connect(t.Context()))

	sum := sha256.Sum256([]byte("nonce42|" + key))
	writes := conn.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "auth="+hex.EncodeToString(sum[:])+"-ABCDE\n", writes[0])
	assert.JSONEq(t, _tradesSubscribe, writes[1])
}

func TestCRAMRejectedFailsSession(t *testing.T) {
	conn := newFakeConn("cram=nonce42\n", "success=0|error=invalid key\n")
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn, newFakeConn()}}, func(c *Config) {
		c.Authenticator = CRAM{APIKey: "db-bad"}
	})

	err := s.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrAuth))
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, errors.Is(s.Err(), exception.ErrWebSocketAuthRejected))

	_, ok := <-s.Events()
	assert.False(t, ok)

	err = s.Connect(t.Context())
	assert.True(t, errors.Is(err, exception.ErrWebSocketFailed))
}

func TestMissingAPIKeyFailsLocally(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.Authenticator = CRAM{}
	})

	err := s.Connect(t.Context())
	assert.True(t, errors.Is(err, exception.ErrAuthRequired))
	assert.Empty(t, conn.Writes())
	assert.Equal(t, StateFailed, s.State())
}

func TestHeartbeatTimeoutReconnects(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, func(c *Config) {
		c.PingInterval = 5 * time.Millisecond
		c.HeartbeatTimeout = 60 * time.Millisecond
	})
	require.NoError(t, s.Connect(t.Context()))

	eventually(t, func() bool { return dialer.Dials() == 2 && s.State() == StateConnected })
	assert.Positive(t, conn1.Pings())
	assert.Equal(t, CloseGoingAway, conn1.CloseCode())
	assert.Equal(t, uint64(1), s.Stats().Reconnects)
}

func TestPongKeepsSessionAlive(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	s := newTestSession(t, dialer, func(c *Config) {
		c.PingInterval = 5 * time.Millisecond
		c.HeartbeatTimeout = 80 * time.Millisecond
	})
	require.NoError(t, s.Connect(t.Context()))

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		hb := conn.heartbeat
		conn.mu.Unlock()
		if hb != nil {
			hb()
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, StateConnected, s.State())
}

func TestCloseSendsNormalCloseAndClosesEvents(t *testing.T) {
	conn := newFakeConn()
	var transitions []string
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.OnStateChange = func(from, to State) {
			transitions = append(transitions, to.String())
		}
	})
	require.NoError(t, s.Connect(t.Context()))
	require.NoError(t, s.Close(t.Context()))

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, CloseNormal, conn.CloseCode())
	_, ok := <-s.Events()
	assert.False(t, ok)

	assert.Equal(t, []string{"CONNECTING", "AUTHENTICATING", "CONNECTED", "DISCONNECTING", "DISCONNECTED"}, transitions)

	assert.True(t, errors.Is(s.Connect(t.Context()), exception.ErrWebSocketClosed))
	require.NoError(t, s.Close(t.Context()))
}

func TestVenueNormalCloseDisconnects(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, nil)
	require.NoError(t, s.Connect(t.Context()))

	conn1.fail(&CloseError{Code: CloseNormal, Reason: "maintenance"})
	eventually(t, func() bool { return s.State() == StateDisconnected })
	assert.Equal(t, 1, dialer.Dials())
	assert.Zero(t, s.Stats().Reconnects)

	require.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 2, dialer.Dials())
}

func TestAbnormalCloseReconnects(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, nil)
	require.NoError(t, s.Connect(t.Context()))

	conn1.fail(&CloseError{Code: CloseAbnormal})
	eventually(t, func() bool { return dialer.Dials() == 2 && s.State() == StateConnected })
}

func TestExplicitReconnect(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, nil)
	require.NoError(t, s.Connect(t.Context()))
	require.NoError(t, s.Subscribe(t.Context(), "trades", "XBTUSD"))
	eventually(t, func() bool { return len(conn1.Writes()) == 1 })

	s.Reconnect()
	eventually(t, func() bool { return len(conn2.Writes()) == 1 && s.State() == StateConnected })
	assert.JSONEq(t, _tradesSubscribe, conn2.Writes()[0])
}

func TestVenueErrorFrameReconnects(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, nil)
	require.NoError(t, s.Connect(t.Context()))

	conn1.push(`{"type":"error","error":"malformed subscription"}`)
	eventually(t, func() bool { return dialer.Dials() == 2 && s.State() == StateConnected })
}

func TestDecodeErrorIsSkipped(t *testing.T) {
	conn := newFakeConn("not json", `{"topic":"quotes","type":"quote","data":{"bid":1}}`)
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, nil)
	require.NoError(t, s.Connect(t.Context()))

	msg := nextEvent(t, s)
	assert.Equal(t, "quotes", msg.Topic)
	assert.Equal(t, uint64(1), s.Stats().DecodeErrors)
	assert.Equal(t, StateConnected, s.State())
}

func TestIntegrityErrorTriggersResnapshot(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(t, dialer, func(c *Config) {
		c.ResnapshotOnIntegrity = true
		c.OnMessage = func(m Message) error {
			if string(m.Payload) == `"bad"` {
				return errors.Wrap(exception.ErrBookOrderNotFound, "delete 999")
			}
			return nil
		}
	})
	require.NoError(t, s.Subscribe(t.Context(), "deltas", "XBTUSD"))
	require.NoError(t, s.Connect(t.Context()))

	conn1.push(`{"topic":"deltas","type":"deltas","data":"bad"}`)
	eventually(t, func() bool { return dialer.Dials() == 2 && s.State() == StateConnected })
	require.Len(t, conn2.Writes(), 1)
}

func TestIntegrityErrorWithoutResnapshotFails(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.OnMessage = func(Message) error {
			return errors.Wrap(exception.ErrBookCrossed, "bid 101 >= ask 100")
		}
	})
	require.NoError(t, s.Connect(t.Context()))

	conn.push(`{"topic":"deltas","type":"deltas","data":{}}`)
	eventually(t, func() bool { return s.State() == StateFailed })
	assert.True(t, errors.Is(s.Err(), exception.ErrIntegrity))

	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestBackPressurePausesReads(t *testing.T) {
	frames := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		frames = append(frames, `{"topic":"trades","type":"trade","data":`+string(rune('0'+i))+`}`)
	}
	conn := newFakeConn(frames...)
	s := newTestSession(t, &fakeDialer{conns: []*fakeConn{conn}}, func(c *Config) {
		c.EventBuffer = 1
	})
	require.NoError(t, s.Connect(t.Context()))

	eventually(t, func() bool { return s.Stats().FramesIn == 2 })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, uint64(2), s.Stats().FramesIn)

	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, string(nextEvent(t, s).Payload))
	}
	assert.Equal(t, "0,1,2,3,4", strings.Join(got, ","))
}

func TestConnectRetriesTransportErrors(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{
		conns: []*fakeConn{conn},
		errs: []error{
			errors.Wrap(exception.ErrTransport, "dial tcp: connection refused"),
			errors.Wrap(exception.ErrTransport, "tls handshake timeout"),
		},
	}
	s := newTestSession(t, dialer, nil)

	require.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, 3, dialer.Dials())
	assert.Equal(t, StateConnected, s.State())
}

func TestConnectCanceledLeavesDisconnected(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	err := s.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
}
