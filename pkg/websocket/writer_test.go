package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

func TestWriterRejectsWhileDisconnected(t *testing.T) {
	w := NewWriter(1, OverflowBlock)
	err := w.Send(t.Context(), MessageText, []byte("x"))
	assert.True(t, errors.Is(err, exception.ErrWebSocketNotConnected))
}

func TestWriterDropNewest(t *testing.T) {
	w := NewWriter(1, OverflowDropNewest)
	w.SetConnected(true)

	require.NoError(t, w.Send(t.Context(), MessageText, []byte("a")))
	err := w.Send(t.Context(), MessageText, []byte("b"))
	assert.True(t, errors.Is(err, exception.ErrWebSocketQueueFull))

	frame := <-w.Queue()
	assert.Equal(t, "a", string(frame.Buf))
	frame.Release()
}

func TestWriterDropOldest(t *testing.T) {
	w := NewWriter(1, OverflowDropOldest)
	w.SetConnected(true)

	require.NoError(t, w.Send(t.Context(), MessageText, []byte("a")))
	require.NoError(t, w.Send(t.Context(), MessageText, []byte("b")))

	frame := <-w.Queue()
	assert.Equal(t, "b", string(frame.Buf))
}

func TestWriterBlockedSenderWakesOnDisconnect(t *testing.T) {
	w := NewWriter(1, OverflowBlock)
	w.SetConnected(true)
	require.NoError(t, w.Send(t.Context(), MessageText, []byte("a")))

	done := make(chan error, 1)
	go func() {
		done <- w.Send(t.Context(), MessageText, []byte("b"))
	}()

	time.Sleep(10 * time.Millisecond)
	w.SetConnected(false)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, exception.ErrWebSocketNotConnected))
	case <-time.After(time.Second):
		require.FailNow(t, "sender still blocked")
	}

	assert.Equal(t, 1, w.Drain())
	assert.Zero(t, w.Drain())
}
