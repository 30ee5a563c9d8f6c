package dydx

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

type command struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id,omitempty"`
	Batched bool   `json:"batched,omitempty"`
}

type frameHead struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

var _channelKinds = map[string]websocket.Kind{
	ChannelOrderbook:   websocket.KindDeltas,
	ChannelTrades:      websocket.KindData,
	ChannelMarkets:     websocket.KindInstrument,
	ChannelSubaccounts: websocket.KindOrderEvent,
}

// Codec speaks the indexer wire. One frame carries one id, so sessions use
// a chunk size of one.
type Codec struct{}

func (Codec) EncodeSubscribe(channel string, symbols []string, _ bool) ([]byte, error) {
	return encode("subscribe", channel, symbols)
}

func (Codec) EncodeUnsubscribe(channel string, symbols []string) ([]byte, error) {
	return encode("unsubscribe", channel, symbols)
}

func encode(op, channel string, symbols []string) ([]byte, error) {
	if len(symbols) > 1 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "one id per frame").With("ids", len(symbols))
	}
	cmd := command{Type: op, Channel: channel}
	if len(symbols) == 1 {
		cmd.ID = symbols[0]
	}
	// batched updates halve the frame count of busy books
	cmd.Batched = op == "subscribe" && channel == ChannelOrderbook
	return sonic.ConfigFastest.Marshal(cmd)
}

func (Codec) Decode(payload []byte) ([]websocket.Message, error) {
	var head frameHead
	if err := sonic.ConfigFastest.Unmarshal(payload, &head); err != nil {
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, err.Error())
	}

	switch head.Type {
	case "connected":
		return []websocket.Message{{Kind: websocket.KindHeartbeat}}, nil
	case "subscribed":
		return []websocket.Message{
			ack(head, true, true),
			data(head, payload),
		}, nil
	case "unsubscribed":
		return []websocket.Message{ack(head, false, true)}, nil
	case "channel_data", "channel_batch_data":
		return []websocket.Message{data(head, payload)}, nil
	case "error":
		if head.Channel != "" {
			msg := ack(head, true, false)
			msg.Ack.Reason = head.Message
			return []websocket.Message{msg}, nil
		}
		return []websocket.Message{{Kind: websocket.KindError, Payload: []byte(head.Message)}}, nil
	default:
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, "unrecognized frame").With("type", head.Type)
	}
}

func ack(head frameHead, subscribe, success bool) websocket.Message {
	var symbols []string
	if head.ID != "" {
		symbols = []string{head.ID}
	}
	return websocket.Message{
		Kind:  websocket.KindSubscriptionAck,
		Topic: head.Channel,
		Ack: &websocket.Ack{
			Channel:   head.Channel,
			Symbols:   symbols,
			Subscribe: subscribe,
			Success:   success,
		},
	}
}

func data(head frameHead, payload []byte) websocket.Message {
	kind, ok := _channelKinds[head.Channel]
	if !ok {
		kind = websocket.KindData
	}
	return websocket.Message{Kind: kind, Topic: head.Channel, Payload: payload}
}
