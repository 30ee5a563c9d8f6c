package dydx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

func TestCodecEncode(t *testing.T) {
	var c Codec

	payload, err := c.EncodeSubscribe(ChannelOrderbook, []string{"BTC-USD"}, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","channel":"v4_orderbook","id":"BTC-USD","batched":true}`, string(payload))

	payload, err = c.EncodeSubscribe(ChannelMarkets, nil, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","channel":"v4_markets"}`, string(payload))

	payload, err = c.EncodeUnsubscribe(ChannelTrades, []string{"ETH-USD"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unsubscribe","channel":"v4_trades","id":"ETH-USD"}`, string(payload))

	_, err = c.EncodeSubscribe(ChannelTrades, []string{"BTC-USD", "ETH-USD"}, true)
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestCodecDecode(t *testing.T) {
	var c Codec

	testCases := []struct {
		desc  string
		frame string
		kinds []websocket.Kind
		ack   *websocket.Ack
	}{
		{
			desc:  "connected",
			frame: `{"type":"connected","connection_id":"c1","message_id":0}`,
			kinds: []websocket.Kind{websocket.KindHeartbeat},
		},
		{
			desc:  "subscribed with snapshot",
			frame: `{"type":"subscribed","connection_id":"c1","message_id":1,"channel":"v4_orderbook","id":"BTC-USD","contents":{"bids":[],"asks":[]}}`,
			kinds: []websocket.Kind{websocket.KindSubscriptionAck, websocket.KindDeltas},
			ack:   &websocket.Ack{Channel: ChannelOrderbook, Symbols: []string{"BTC-USD"}, Subscribe: true, Success: true},
		},
		{
			desc:  "unsubscribed",
			frame: `{"type":"unsubscribed","connection_id":"c1","message_id":5,"channel":"v4_trades","id":"BTC-USD"}`,
			kinds: []websocket.Kind{websocket.KindSubscriptionAck},
			ack:   &websocket.Ack{Channel: ChannelTrades, Symbols: []string{"BTC-USD"}, Success: true},
		},
		{
			desc:  "batch data",
			frame: `{"type":"channel_batch_data","connection_id":"c1","message_id":7,"channel":"v4_orderbook","id":"BTC-USD","contents":[{"bids":[["65000","1"]]}]}`,
			kinds: []websocket.Kind{websocket.KindDeltas},
		},
		{
			desc:  "subscription error",
			frame: `{"type":"error","message":"Invalid subscription id","connection_id":"c1","message_id":2,"channel":"v4_trades","id":"NOPE-USD"}`,
			kinds: []websocket.Kind{websocket.KindSubscriptionAck},
			ack:   &websocket.Ack{Channel: ChannelTrades, Symbols: []string{"NOPE-USD"}, Subscribe: true, Reason: "Invalid subscription id"},
		},
		{
			desc:  "connection error",
			frame: `{"type":"error","message":"Internal error","connection_id":"c1","message_id":3}`,
			kinds: []websocket.Kind{websocket.KindError},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			msgs, err := c.Decode([]byte(tc.frame))
			require.NoError(t, err)
			require.Len(t, msgs, len(tc.kinds))
			for i, kind := range tc.kinds {
				assert.Equal(t, kind, msgs[i].Kind)
			}
			if tc.ack != nil {
				require.NotNil(t, msgs[0].Ack)
				assert.Equal(t, *tc.ack, *msgs[0].Ack)
			}
		})
	}

	_, err := c.Decode([]byte(`{"type":"pong"}`))
	assert.True(t, errors.Is(err, exception.ErrWebSocketProtocol))
}
