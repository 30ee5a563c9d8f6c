package orderbook

import (
	"fmt"
	"strings"
)

// Pprint renders up to n levels per side, asks on top, for logs and tests.
func (b *OrderBook) Pprint(n int) string {
	asks := b.asks.Levels(n)
	bids := b.bids.Levels(n)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s seq=%d\n", b.instrumentID, b.bookType, b.sequence)
	fmt.Fprintf(&sb, "%14s | %14s | %-14s\n", "bids", "price", "asks")
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%14s | %14s | %-14s\n", "", asks[i].Price.Value, asks[i].Size())
	}
	for _, level := range bids {
		fmt.Fprintf(&sb, "%14s | %14s | %-14s\n", level.Size(), level.Price.Value, "")
	}
	return sb.String()
}
