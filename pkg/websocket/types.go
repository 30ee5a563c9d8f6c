package websocket

import (
	"fmt"
	"time"
)

// MessageType represents a WebSocket message type.
// Values match RFC 6455 opcodes where applicable.
type MessageType uint8

const (
	// MessageText is a text data frame.
	MessageText MessageType = 1
	// MessageBinary is a binary data frame.
	MessageBinary MessageType = 2
	// MessageClose is a close control frame.
	MessageClose MessageType = 8
	// MessagePing is a ping control frame.
	MessagePing MessageType = 9
	// MessagePong is a pong control frame.
	MessagePong MessageType = 10
)

// CloseCode is a WebSocket close code.
type CloseCode uint16

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway is sent when the client drops a connection to reconnect.
	CloseGoingAway CloseCode = 1001
	// CloseAbnormal is reported when the peer vanished without a close frame.
	CloseAbnormal CloseCode = 1006
)

// CloseError is returned by Conn.ReadMessage when the peer closed the connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket: close %d %s", e.Code, e.Reason)
}

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowBlock blocks until space is available.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropNewest drops the incoming item if the queue is full.
	OverflowDropNewest
	// OverflowDropOldest drops the oldest item to make room.
	OverflowDropOldest
)

// State is the session lifecycle state.
type State int32

const (
	_state_beg State = iota
	StateDisconnected
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateFailed
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SubState is the acknowledgement state of one subscription.
type SubState uint8

const (
	_sub_state_beg SubState = iota
	SubPending
	SubActive
	SubUnsubscribing
	SubFailed
	SubInactive
	_sub_state_end
)

func (s SubState) IsAvailable() bool {
	return s > _sub_state_beg && s < _sub_state_end
}

func (s SubState) String() string {
	switch s {
	case SubPending:
		return "PENDING"
	case SubActive:
		return "ACTIVE"
	case SubUnsubscribing:
		return "UNSUBSCRIBING"
	case SubFailed:
		return "FAILED"
	case SubInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies a decoded inbound message.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindInstrument
	KindData
	KindDeltas
	KindMarkPrice
	KindIndexPrice
	KindOrderEvent
	KindAuth
	KindSubscriptionAck
	KindError
	KindHeartbeat
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

// IsControl reports whether the session consumes the message itself.
func (k Kind) IsControl() bool {
	return k == KindAuth || k == KindSubscriptionAck || k == KindError || k == KindHeartbeat
}

func (k Kind) String() string {
	switch k {
	case KindInstrument:
		return "INSTRUMENT"
	case KindData:
		return "DATA"
	case KindDeltas:
		return "DELTAS"
	case KindMarkPrice:
		return "MARK_PRICE"
	case KindIndexPrice:
		return "INDEX_PRICE"
	case KindOrderEvent:
		return "ORDER_EVENT"
	case KindAuth:
		return "AUTH"
	case KindSubscriptionAck:
		return "SUBSCRIPTION_ACK"
	case KindError:
		return "ERROR"
	case KindHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// Ack is a venue answer to a subscribe or unsubscribe frame.
// Empty Symbols applies the ack to every entry of Channel.
type Ack struct {
	Channel   string
	Symbols   []string
	Subscribe bool
	Success   bool
	Reason    string
}

// Message is one decoded inbound message.
type Message struct {
	Kind    Kind
	Topic   string
	Payload []byte
	Ack     *Ack
	// TsEvent is the venue timestamp in unix nanoseconds, zero if absent.
	TsEvent int64
	// TsInit is stamped by the session when the frame is read.
	TsInit int64
}

// Stats is a point-in-time copy of session counters.
type Stats struct {
	State        State
	Reconnects   uint64
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
	Events       uint64
	LastInbound  time.Time
}
