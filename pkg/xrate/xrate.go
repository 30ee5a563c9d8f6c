// Package xrate resolves exchange rates between currencies from a table of
// quoted pairs.
package xrate

import (
	"slices"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

type edge struct {
	to   string
	rate float64
}

type node struct {
	currency string
	rate     float64
}

// Rate returns the rate converting from into to, using bid, ask or mid
// quotes. bids and asks map "BASE/QUOTE" pairs to prices. ok is false when
// no chain of pairs links the two currencies.
func Rate(from, to string, priceType enum.PriceType, bids, asks map[string]float64) (float64, bool, error) {
	if from == to {
		return 1, true, nil
	}

	quotes, err := quoteTable(priceType, bids, asks)
	if err != nil {
		return 0, false, err
	}

	graph := buildGraph(quotes)
	rate, ok := search(graph, from, to)
	return rate, ok, nil
}

func quoteTable(priceType enum.PriceType, bids, asks map[string]float64) (map[string]float64, error) {
	if len(bids) == 0 || len(asks) == 0 {
		return nil, errors.Wrap(exception.ErrXRateEmptyQuotes, "rate").
			With("bids", len(bids)).
			With("asks", len(asks))
	}
	if len(bids) != len(asks) {
		return nil, errors.Wrap(exception.ErrXRateAsymmetricQuotes, "rate").
			With("bids", len(bids)).
			With("asks", len(asks))
	}

	switch priceType {
	case enum.PriceTypeBid:
		return bids, nil
	case enum.PriceTypeAsk:
		return asks, nil
	case enum.PriceTypeMid:
		mids := make(map[string]float64, len(bids))
		for pair, bid := range bids {
			ask, ok := asks[pair]
			if !ok {
				return nil, errors.Wrap(exception.ErrXRateMissingAsk, "mid rate").With("pair", pair)
			}
			mids[pair] = (bid + ask) / 2
		}
		return mids, nil
	default:
		return nil, errors.Wrap(exception.ErrXRateInvalidPriceType, "rate").With("price_type", priceType)
	}
}

// buildGraph adds both directions of every well-formed pair. Pairs are
// visited in sorted order so the search is deterministic.
func buildGraph(quotes map[string]float64) map[string][]edge {
	pairs := make([]string, 0, len(quotes))
	for pair := range quotes {
		pairs = append(pairs, pair)
	}
	slices.Sort(pairs)

	graph := make(map[string][]edge, len(pairs)*2)
	for _, pair := range pairs {
		base, quote, found := strings.Cut(pair, "/")
		rate := quotes[pair]
		if !found || base == "" || quote == "" {
			logs.Infof("warn: xrate: skipping malformed pair %q", pair)
			continue
		}
		if rate <= 0 {
			logs.Infof("warn: xrate: skipping pair %q with non-positive rate %v", pair, rate)
			continue
		}
		graph[base] = append(graph[base], edge{to: quote, rate: rate})
		graph[quote] = append(graph[quote], edge{to: base, rate: 1 / rate})
	}
	return graph
}

func search(graph map[string][]edge, from, to string) (float64, bool) {
	if _, ok := graph[from]; !ok {
		return 0, false
	}

	stack := []node{{currency: from, rate: 1}}
	visited := map[string]struct{}{}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.currency == to {
			return current.rate, true
		}
		if _, seen := visited[current.currency]; seen {
			continue
		}
		visited[current.currency] = struct{}{}

		for _, e := range graph[current.currency] {
			if _, seen := visited[e.to]; !seen {
				stack = append(stack, node{currency: e.to, rate: current.rate * e.rate})
			}
		}
	}
	return 0, false
}
