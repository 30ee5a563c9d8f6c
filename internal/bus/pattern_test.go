package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
)

func TestIsMatching(t *testing.T) {
	testCases := []struct {
		topic, pattern string
		want           bool
	}{
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANCE.ETHUSDT", true},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.*.*", true},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.*", false},
		{"data.quotes.BINANCE.ETHUSDT", "data.*.BINANCE.*", true},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANCE.ETH*", true},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANCE.BTC*", false},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANC?.ETHUSDT", true},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANCE?ETHUSDT", false},
		{"data.quotes.BINANCE.ETHUSDT", "data.quotes.BINANCE.ETHUSD", false},
		{"events.order.BITMEX", "events.order.??????", true},
		{"events.order.BITMEX", "events.order.?????", false},
		{"events.order.BITMEX", "events.*.BITMEX", true},
		{"events.order", "events.order.*", false},
	}

	for _, tc := range testCases {
		t.Run(tc.topic+"~"+tc.pattern, func(t *testing.T) {
			assert.Equal(t, tc.want, IsMatching(tc.topic, tc.pattern))
		})
	}
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("data.quotes.*.*"))
	for _, pattern := range []string{"", "data..quotes", ".data", "data."} {
		err := ValidatePattern(pattern)
		assert.True(t, errors.Is(err, exception.ErrBusInvalidPattern), pattern)
	}
}
