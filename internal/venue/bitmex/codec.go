package bitmex

import (
	"bytes"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

type command struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type request struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type frameHead struct {
	Table       string   `json:"table"`
	Action      string   `json:"action"`
	Info        string   `json:"info"`
	Success     *bool    `json:"success"`
	Subscribe   string   `json:"subscribe"`
	Unsubscribe string   `json:"unsubscribe"`
	Status      int      `json:"status"`
	Error       string   `json:"error"`
	Request     *request `json:"request"`
}

var _tableKinds = map[string]websocket.Kind{
	TableInstrument:  websocket.KindInstrument,
	TableQuote:       websocket.KindData,
	TableTrade:       websocket.KindData,
	TableOrderBook10: websocket.KindData,
	TableOrderBookL2: websocket.KindDeltas,
	TableOrderBook25: websocket.KindDeltas,
	TableOrder:       websocket.KindOrderEvent,
	TableExecution:   websocket.KindOrderEvent,
	TableMargin:      websocket.KindOrderEvent,
}

// Codec speaks the realtime wire: {"op":"subscribe","args":["trade:XBTUSD"]}
// out and {"table","action","data"} in. Channels are table names.
type Codec struct{}

func (Codec) EncodeSubscribe(channel string, symbols []string, _ bool) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(command{Op: "subscribe", Args: topicArgs(channel, symbols)})
}

func (Codec) EncodeUnsubscribe(channel string, symbols []string) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(command{Op: "unsubscribe", Args: topicArgs(channel, symbols)})
}

func topicArgs(table string, symbols []string) []string {
	if len(symbols) == 0 {
		return []string{table}
	}
	args := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			args = append(args, table)
			continue
		}
		args = append(args, table+":"+symbol)
	}
	return args
}

// splitTopic parses "table:symbol" or "table".
func splitTopic(topic string) (table, symbol string) {
	table, symbol, _ = strings.Cut(topic, ":")
	return table, symbol
}

func (Codec) Decode(payload []byte) ([]websocket.Message, error) {
	if bytes.Equal(bytes.TrimSpace(payload), []byte("pong")) {
		return []websocket.Message{{Kind: websocket.KindHeartbeat}}, nil
	}

	var head frameHead
	if err := sonic.ConfigFastest.Unmarshal(payload, &head); err != nil {
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, err.Error())
	}

	switch {
	case head.Table != "":
		kind, ok := _tableKinds[head.Table]
		if !ok {
			kind = websocket.KindData
		}
		return []websocket.Message{{Kind: kind, Topic: head.Table, Payload: payload}}, nil
	case head.Subscribe != "":
		return []websocket.Message{ack(head.Subscribe, true, true, "")}, nil
	case head.Unsubscribe != "":
		return []websocket.Message{ack(head.Unsubscribe, false, true, "")}, nil
	case head.Request != nil && head.Request.Op == "authKeyExpires":
		return []websocket.Message{{Kind: websocket.KindAuth, Payload: payload}}, nil
	case head.Error != "" && head.Request != nil && (head.Request.Op == "subscribe" || head.Request.Op == "unsubscribe"):
		return rejectedAcks(head), nil
	case head.Error != "":
		return []websocket.Message{{Kind: websocket.KindError, Payload: []byte(head.Error)}}, nil
	case head.Info != "":
		return []websocket.Message{{Kind: websocket.KindHeartbeat}}, nil
	default:
		return nil, errors.Wrap(exception.ErrWebSocketProtocol, "unrecognized frame").With("frame", string(payload))
	}
}

func ack(topic string, subscribe, success bool, reason string) websocket.Message {
	table, symbol := splitTopic(topic)
	var symbols []string
	if symbol != "" {
		symbols = []string{symbol}
	}
	return websocket.Message{
		Kind:  websocket.KindSubscriptionAck,
		Topic: table,
		Ack: &websocket.Ack{
			Channel:   table,
			Symbols:   symbols,
			Subscribe: subscribe,
			Success:   success,
			Reason:    reason,
		},
	}
}

// rejectedAcks builds one failed ack per table named in the request args.
func rejectedAcks(head frameHead) []websocket.Message {
	subscribe := head.Request.Op == "subscribe"
	symbols := map[string][]string{}
	for _, arg := range head.Request.Args {
		topic, ok := arg.(string)
		if !ok {
			continue
		}
		table, symbol := splitTopic(topic)
		if symbol != "" {
			symbols[table] = append(symbols[table], symbol)
		} else if _, seen := symbols[table]; !seen {
			symbols[table] = nil
		}
	}

	tables := make([]string, 0, len(symbols))
	for table := range symbols {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	msgs := make([]websocket.Message, 0, len(tables))
	for _, table := range tables {
		msgs = append(msgs, websocket.Message{
			Kind:  websocket.KindSubscriptionAck,
			Topic: table,
			Ack: &websocket.Ack{
				Channel:   table,
				Symbols:   symbols[table],
				Subscribe: subscribe,
				Reason:    head.Error,
			},
		})
	}
	return msgs
}
