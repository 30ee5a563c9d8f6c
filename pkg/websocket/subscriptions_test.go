package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReferenceCounts(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"XBTUSD", "ETHUSD"}, r.Add("trades", []string{"XBTUSD", "ETHUSD"}))
	assert.Empty(t, r.Add("trades", []string{"XBTUSD"}))

	assert.Empty(t, r.Remove("trades", []string{"XBTUSD"}))
	assert.Equal(t, []string{"XBTUSD"}, r.Remove("trades", []string{"XBTUSD"}))
	assert.Empty(t, r.Remove("trades", []string{"XBTUSD"}))
	assert.Empty(t, r.Remove("quotes", []string{"XBTUSD"}))

	sub, ok := r.Get("trades", "XBTUSD")
	require.True(t, ok)
	assert.False(t, sub.Desired)
	assert.Equal(t, SubUnsubscribing, sub.State)

	// resubscribing while the unsubscribe is in flight restores intent
	assert.Equal(t, []string{"XBTUSD"}, r.Add("trades", []string{"XBTUSD"}))
	sub, _ = r.Get("trades", "XBTUSD")
	assert.True(t, sub.Desired)
	assert.Equal(t, SubPending, sub.State)
	assert.Equal(t, 1, sub.Refs)
}

func TestRegistryChannelWide(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{""}, r.Add("instruments", nil))

	r.Confirm(Ack{Channel: "instruments", Subscribe: true, Success: true})
	sub, ok := r.Get("instruments", "")
	require.True(t, ok)
	assert.Equal(t, SubActive, sub.State)
}

func TestRegistryConfirmWithoutSymbolsAppliesToChannel(t *testing.T) {
	r := NewRegistry()
	r.Add("trades", []string{"A", "B"})
	r.Add("quotes", []string{"A"})

	r.Confirm(Ack{Channel: "trades", Subscribe: true, Success: true})

	for _, sub := range r.List() {
		if sub.Channel == "trades" {
			assert.Equal(t, SubActive, sub.State, sub.Symbol)
		} else {
			assert.Equal(t, SubPending, sub.State, sub.Symbol)
		}
	}
}

func TestRegistryReplayIsDeterministic(t *testing.T) {
	r := NewRegistry()
	r.Add("trades", []string{"SOLUSD", "XBTUSD", "ETHUSD"})
	r.Add("book", []string{"XBTUSD"})
	r.Add("quotes", []string{"XBTUSD"})
	r.Confirm(Ack{Channel: "book", Subscribe: true, Success: true})
	r.Remove("quotes", []string{"XBTUSD"})

	groups := r.Replay()
	assert.Equal(t, []ReplayGroup{
		{Channel: "book", Symbols: []string{"XBTUSD"}},
		{Channel: "trades", Symbols: []string{"ETHUSD", "SOLUSD", "XBTUSD"}},
	}, groups)

	sub, _ := r.Get("book", "XBTUSD")
	assert.Equal(t, SubPending, sub.State)
	_, ok := r.Get("quotes", "XBTUSD")
	assert.False(t, ok)

	assert.Equal(t, groups, r.Replay())
}

func TestChunk(t *testing.T) {
	testCases := []struct {
		desc    string
		symbols []string
		size    int
		want    [][]string
	}{
		{desc: "channel wide", symbols: []string{""}, size: 2, want: [][]string{nil}},
		{desc: "no limit", symbols: []string{"A", "B", "C"}, size: 0, want: [][]string{{"A", "B", "C"}}},
		{desc: "exact", symbols: []string{"A", "B"}, size: 2, want: [][]string{{"A", "B"}}},
		{desc: "split", symbols: []string{"A", "B", "C", "D", "E"}, size: 2, want: [][]string{{"A", "B"}, {"C", "D"}, {"E"}}},
		{desc: "mixed", symbols: []string{"", "A"}, size: 1, want: [][]string{nil, {"A"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, chunk(tc.symbols, tc.size))
		})
	}
}
