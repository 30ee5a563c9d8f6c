// Package dydx adapts the dYdX v4 indexer and validator node APIs. Orders
// are signed with a mnemonic wallet and broadcast as transactions.
package dydx

import (
	"venuelink/pkg/ratelimit"
)

const (
	Venue = "DYDX"

	IndexerURL        = "https://indexer.dydx.trade"
	TestnetIndexerURL = "https://indexer.v4testnet.dydx.exchange"
	WsURL             = "wss://indexer.dydx.trade/v4/ws"
	TestnetWsURL      = "wss://indexer.v4testnet.dydx.exchange/v4/ws"
	NodeURL           = "https://dydx-rest.publicnode.com"
	TestnetNodeURL    = "https://dydx-testnet-rest.publicnode.com"

	ChainID        = "dydx-mainnet-1"
	TestnetChainID = "dydx-testnet-4"

	// HRP is the bech32 prefix of account addresses.
	HRP = "dydx"
)

// Indexer channels.
const (
	ChannelOrderbook   = "v4_orderbook"
	ChannelTrades      = "v4_trades"
	ChannelMarkets     = "v4_markets"
	ChannelSubaccounts = "v4_subaccounts"
)

// Rate classes of the indexer and the node.
const (
	RateClassIndexer = "indexer"
	RateClassNode    = "node"

	_indexerPerMinute = 600
	_nodePerMinute    = 300

	// indexer list queries add one token per block of rows
	_rowsPerToken = 100
)

// NewIndexerLimiter builds the registry for indexer queries.
func NewIndexerLimiter(opts ...ratelimit.BucketOption) (*ratelimit.Registry, error) {
	bucket, err := ratelimit.NewBucket(_indexerPerMinute, opts...)
	if err != nil {
		return nil, err
	}
	registry := ratelimit.NewRegistry(bucket)
	registry.Set(RateClassIndexer, bucket)
	return registry, nil
}

// NewNodeLimiter builds the registry for node queries and broadcasts.
func NewNodeLimiter(opts ...ratelimit.BucketOption) (*ratelimit.Registry, error) {
	bucket, err := ratelimit.NewBucket(_nodePerMinute, opts...)
	if err != nil {
		return nil, err
	}
	registry := ratelimit.NewRegistry(bucket)
	registry.Set(RateClassNode, bucket)
	return registry, nil
}
