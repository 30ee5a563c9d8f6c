package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"venuelink/pkg/exception"
)

// OutboundFrame represents a queued write payload.
type OutboundFrame struct {
	// MsgType is the WebSocket message type for the payload.
	MsgType MessageType
	// Buf is the payload to send. The frame owns it once queued.
	Buf  []byte
	pool *OutboundPool
}

// Release returns the frame to its pool.
func (f *OutboundFrame) Release() {
	if f == nil || f.pool == nil {
		return
	}
	f.MsgType = 0
	f.Buf = nil
	f.pool.pool.Put(f)
}

// OutboundPool recycles outbound frames.
type OutboundPool struct {
	pool sync.Pool
}

// NewOutboundPool creates an OutboundPool.
func NewOutboundPool() *OutboundPool {
	op := &OutboundPool{}
	op.pool.New = func() any {
		return &OutboundFrame{}
	}
	return op
}

// New takes a frame from the pool and attaches buf.
func (p *OutboundPool) New(msgType MessageType, buf []byte) *OutboundFrame {
	frame := p.pool.Get().(*OutboundFrame)
	frame.MsgType = msgType
	frame.Buf = buf
	frame.pool = p
	return frame
}

// Writer provides a bounded outbound queue. Frames are only accepted while
// connected; disconnecting wakes every blocked sender.
type Writer struct {
	pool      *OutboundPool
	queue     chan *OutboundFrame
	policy    OverflowPolicy
	connected atomic.Bool

	mu   sync.Mutex
	down chan struct{}
}

// NewWriter creates a Writer with a bounded queue.
func NewWriter(capacity int, policy OverflowPolicy) *Writer {
	if capacity <= 0 {
		capacity = 1
	}
	down := make(chan struct{})
	close(down)
	return &Writer{
		pool:   NewOutboundPool(),
		queue:  make(chan *OutboundFrame, capacity),
		policy: policy,
		down:   down,
	}
}

// SetConnected toggles the writer connection state.
func (w *Writer) SetConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if connected == w.connected.Load() {
		return
	}
	if connected {
		w.down = make(chan struct{})
	} else {
		close(w.down)
	}
	w.connected.Store(connected)
}

func (w *Writer) IsConnected() bool {
	return w.connected.Load()
}

func (w *Writer) downSignal() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.down
}

// Send queues payload according to the overflow policy. The writer takes
// ownership of payload.
func (w *Writer) Send(ctx context.Context, msgType MessageType, payload []byte) error {
	if !w.connected.Load() {
		return exception.ErrWebSocketNotConnected
	}
	frame := w.pool.New(msgType, payload)
	if err := w.enqueue(ctx, frame); err != nil {
		frame.Release()
		return err
	}
	return nil
}

func (w *Writer) enqueue(ctx context.Context, frame *OutboundFrame) error {
	down := w.downSignal()
	switch w.policy {
	case OverflowBlock:
		select {
		case w.queue <- frame:
			return nil
		case <-down:
			return exception.ErrWebSocketNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	case OverflowDropOldest:
		for {
			select {
			case w.queue <- frame:
				return nil
			default:
				select {
				case old := <-w.queue:
					old.Release()
				default:
					return exception.ErrWebSocketQueueFull
				}
			}
		}
	default:
		select {
		case w.queue <- frame:
			return nil
		default:
			return exception.ErrWebSocketQueueFull
		}
	}
}

// Queue exposes the outbound frames to the connection writer.
func (w *Writer) Queue() <-chan *OutboundFrame {
	return w.queue
}

// Drain clears the queue and releases all frames.
func (w *Writer) Drain() int {
	count := 0
	for {
		select {
		case frame := <-w.queue:
			frame.Release()
			count++
		default:
			return count
		}
	}
}
