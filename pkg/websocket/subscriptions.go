package websocket

import (
	"cmp"
	"slices"
	"sync"
)

// Subscription is a read-only view of one registry entry. An empty Symbol
// is a channel-wide subscription.
type Subscription struct {
	Channel string
	Symbol  string
	Desired bool
	State   SubState
	Refs    int
}

// ReplayGroup is one channel with the symbols to resubscribe, sorted.
type ReplayGroup struct {
	Channel string
	Symbols []string
}

type subKey struct {
	channel string
	symbol  string
}

// Registry tracks desired and acknowledged subscriptions per session. It is
// authoritative for intent: acks only move State, they never change Desired.
type Registry struct {
	mu      sync.Mutex
	entries map[subKey]*Subscription
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[subKey]*Subscription),
	}
}

// Add registers interest in channel for symbols and returns the symbols
// that need a subscribe frame. Repeated adds only bump the reference count.
func (r *Registry) Add(channel string, symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, symbol := range normalizeSymbols(symbols) {
		key := subKey{channel, symbol}
		sub, ok := r.entries[key]
		if !ok {
			sub = &Subscription{Channel: channel, Symbol: symbol}
			r.entries[key] = sub
		}
		sub.Refs++
		if sub.Desired {
			continue
		}
		sub.Desired = true
		sub.State = SubPending
		added = append(added, symbol)
	}
	return added
}

// Remove drops one reference per symbol and returns the symbols whose last
// reference went away.
func (r *Registry) Remove(channel string, symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, symbol := range normalizeSymbols(symbols) {
		sub, ok := r.entries[subKey{channel, symbol}]
		if !ok || !sub.Desired {
			continue
		}
		sub.Refs--
		if sub.Refs > 0 {
			continue
		}
		sub.Refs = 0
		sub.Desired = false
		sub.State = SubUnsubscribing
		removed = append(removed, symbol)
	}
	return removed
}

// Forget deletes entries that are no longer desired. Used when an
// unsubscribe cannot reach the venue.
func (r *Registry) Forget(channel string, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, symbol := range normalizeSymbols(symbols) {
		key := subKey{channel, symbol}
		if sub, ok := r.entries[key]; ok && !sub.Desired {
			delete(r.entries, key)
		}
	}
}

// Confirm applies a venue ack. Subscribe acks for entries pending
// unsubscribe are ignored, as are unsubscribe acks for entries desired again.
func (r *Registry) Confirm(ack Ack) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.match(ack) {
		switch {
		case ack.Subscribe && sub.Desired:
			if ack.Success {
				sub.State = SubActive
			} else {
				sub.State = SubFailed
			}
		case !ack.Subscribe && !sub.Desired:
			delete(r.entries, subKey{sub.Channel, sub.Symbol})
		}
	}
}

func (r *Registry) match(ack Ack) []*Subscription {
	if len(ack.Symbols) != 0 {
		result := make([]*Subscription, 0, len(ack.Symbols))
		for _, symbol := range ack.Symbols {
			if sub, ok := r.entries[subKey{ack.Channel, symbol}]; ok {
				result = append(result, sub)
			}
		}
		return result
	}

	var result []*Subscription
	for key, sub := range r.entries {
		if key.channel == ack.Channel {
			result = append(result, sub)
		}
	}
	return result
}

// Replay returns every desired subscription grouped by channel in
// deterministic order and marks them pending. Entries waiting for an
// unsubscribe ack are dropped since a fresh connection has no state.
func (r *Registry) Replay() []ReplayGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	byChannel := make(map[string][]string)
	for key, sub := range r.entries {
		if !sub.Desired {
			delete(r.entries, key)
			continue
		}
		sub.State = SubPending
		byChannel[key.channel] = append(byChannel[key.channel], key.symbol)
	}

	groups := make([]ReplayGroup, 0, len(byChannel))
	for channel, symbols := range byChannel {
		slices.Sort(symbols)
		groups = append(groups, ReplayGroup{Channel: channel, Symbols: symbols})
	}
	slices.SortFunc(groups, func(a, b ReplayGroup) int {
		return cmp.Compare(a.Channel, b.Channel)
	})
	return groups
}

// Get returns a copy of the entry for channel and symbol.
func (r *Registry) Get(channel, symbol string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.entries[subKey{channel, symbol}]
	if !ok {
		return Subscription{Channel: channel, Symbol: symbol, State: SubInactive}, false
	}
	return *sub, true
}

// List returns copies of all entries ordered by channel then symbol.
func (r *Registry) List() []Subscription {
	r.mu.Lock()
	result := make([]Subscription, 0, len(r.entries))
	for _, sub := range r.entries {
		result = append(result, *sub)
	}
	r.mu.Unlock()

	slices.SortFunc(result, func(a, b Subscription) int {
		return cmp.Or(cmp.Compare(a.Channel, b.Channel), cmp.Compare(a.Symbol, b.Symbol))
	})
	return result
}

// Len returns the number of desired entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, sub := range r.entries {
		if sub.Desired {
			count++
		}
	}
	return count
}

func normalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return []string{""}
	}
	return symbols
}

// chunk splits symbols into slices of at most size elements. The
// channel-wide marker yields its own nil chunk first.
func chunk(symbols []string, size int) [][]string {
	var chunks [][]string
	named := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			chunks = append(chunks, nil)
			continue
		}
		named = append(named, symbol)
	}
	if len(named) == 0 {
		return chunks
	}
	if size <= 0 || len(named) <= size {
		return append(chunks, named)
	}
	return append(chunks, slices.Collect(slices.Chunk(named, size))...)
}
