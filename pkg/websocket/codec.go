package websocket

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

type controlFrame struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Symbols  []string `json:"symbols,omitempty"`
	IsLast   bool     `json:"is_last,omitempty"`
}

type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Ts      int64           `json:"ts"`
	Symbols []string        `json:"symbols"`
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
}

var _envelopeKinds = map[string]Kind{
	"instrument":  KindInstrument,
	"data":        KindData,
	"quote":       KindData,
	"trade":       KindData,
	"bar":         KindData,
	"depth":       KindData,
	"deltas":      KindDeltas,
	"mark_price":  KindMarkPrice,
	"index_price": KindIndexPrice,
	"order":       KindOrderEvent,
	"auth":        KindAuth,
	"error":       KindError,
	"pong":        KindHeartbeat,
}

// EnvelopeCodec speaks the generic wire: outbound
// {op, channels[], symbols?[], is_last} and inbound {topic, type, data, ts}.
// Acks arrive as type "subscribed" or "unsubscribed" with the channel in topic.
type EnvelopeCodec struct{}

func (EnvelopeCodec) EncodeSubscribe(channel string, symbols []string, isLast bool) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(controlFrame{
		Op:       "subscribe",
		Channels: []string{channel},
		Symbols:  symbols,
		IsLast:   isLast,
	})
}

func (EnvelopeCodec) EncodeUnsubscribe(channel string, symbols []string) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(controlFrame{
		Op:       "unsubscribe",
		Channels: []string{channel},
		Symbols:  symbols,
	})
}

func (EnvelopeCodec) Decode(payload []byte) ([]Message, error) {
	var env envelope
	if err := sonic.ConfigFastest.Unmarshal(payload, &env); err != nil {
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, err.Error())
	}

	switch env.Type {
	case "subscribed", "unsubscribed":
		return []Message{{
			Kind:    KindSubscriptionAck,
			Topic:   env.Topic,
			TsEvent: env.Ts,
			Ack: &Ack{
				Channel:   env.Topic,
				Symbols:   env.Symbols,
				Subscribe: env.Type == "subscribed",
				Success:   env.Success == nil || *env.Success,
				Reason:    env.Error,
			},
		}}, nil
	}

	kind, ok := _envelopeKinds[env.Type]
	if !ok {
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, "unknown message type").With("type", env.Type)
	}

	data := []byte(env.Data)
	if kind == KindError && len(data) == 0 {
		data = []byte(env.Error)
	}

	return []Message{{
		Kind:    kind,
		Topic:   env.Topic,
		Payload: data,
		TsEvent: env.Ts,
	}}, nil
}
