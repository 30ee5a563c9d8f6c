package main

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/client"
	"venuelink/internal/ops"
	"venuelink/internal/order"
	"venuelink/internal/venue"
	"venuelink/internal/venue/bitmex"
	"venuelink/internal/venue/dydx"
	"venuelink/pkg/exception"
	"venuelink/pkg/orderbook"
	"venuelink/pkg/rest"
	"venuelink/pkg/wallet"
)

func (a *app) setupBitMEX(loaded ops.Loaded, cfg ops.BitMEX) error {
	dc, err := bitmex.NewDataClient(bitmex.DataConfig{
		URL:           cfg.WsURL,
		Credential:    cfg.Credential,
		Tuning:        loaded.WebSocket,
		OnStateChange: a.metrics.ObserveState,
		Queue:         a.queue,
	}, a.bus, a.cache)
	if err != nil {
		return errors.Wrap(err, "bitmex data client")
	}
	a.metrics.TrackSession("bitmex", dc.Session().Stats)
	a.metrics.TrackFeed(dc.Feed().Dropped)
	a.data = append(a.data, dc)

	if cfg.Credential.IsEmpty() {
		logs.Infof("warn: bitmex credential not set, execution disabled")
		return nil
	}
	delegator, err := bitmex.NewDelegator(cfg.REST, cfg.Credential, rest.WithObserver(a.metrics))
	if err != nil {
		return errors.Wrap(err, "bitmex delegator")
	}
	use, err := order.NewUsecase(orderConfig(bitmex.Venue, loaded.Order), delegator, a.bus, a.risk...)
	if err != nil {
		return errors.Wrap(err, "bitmex execution")
	}
	a.executions = append(a.executions, use)
	return nil
}

func (a *app) setupDYDX(loaded ops.Loaded, cfg ops.DYDX) error {
	indexerLimiter, err := dydx.NewIndexerLimiter()
	if err != nil {
		return err
	}
	indexer, err := rest.New(cfg.Indexer, rest.WithLimiter(indexerLimiter), rest.WithObserver(a.metrics))
	if err != nil {
		return errors.Wrap(err, "dydx indexer client")
	}

	markets := dydx.NewMarkets(indexer)
	decoder := dydx.NewSharedDecoder(markets)
	dc, err := dydx.NewDataClient(dydx.DataConfig{
		URL:           cfg.WsURL,
		Tuning:        loaded.WebSocket,
		OnStateChange: a.metrics.ObserveState,
		Queue:         a.queue,
	}, decoder, a.bus, a.cache)
	if err != nil {
		return errors.Wrap(err, "dydx data client")
	}
	a.metrics.TrackSession("dydx", dc.Session().Stats)
	a.metrics.TrackFeed(dc.Feed().Dropped)
	a.data = append(a.data, dc)

	if cfg.Mnemonic.IsEmpty() {
		logs.Infof("warn: dydx mnemonic not set, execution disabled")
		return nil
	}
	w, err := wallet.FromMnemonic(cfg.Mnemonic.Reveal(), dydx.HRP, cfg.WalletIndex)
	if err != nil {
		return errors.Wrap(err, "dydx wallet")
	}
	a.closers = append(a.closers, func() error {
		w.Zero()
		return nil
	})

	nodeLimiter, err := dydx.NewNodeLimiter()
	if err != nil {
		return err
	}
	node, err := rest.New(cfg.Node, rest.WithLimiter(nodeLimiter), rest.WithObserver(a.metrics))
	if err != nil {
		return errors.Wrap(err, "dydx node client")
	}
	delegator, err := dydx.NewDelegator(dydx.DelegatorConfig{
		ChainID:          cfg.ChainID,
		SubaccountNumber: cfg.SubaccountNumber,
		GoodTil:          cfg.GoodTil,
	}, w, node, indexer, decoder)
	if err != nil {
		return errors.Wrap(err, "dydx delegator")
	}
	use, err := order.NewUsecase(orderConfig(dydx.Venue, loaded.Order), delegator, a.bus, a.risk...)
	if err != nil {
		return errors.Wrap(err, "dydx execution")
	}
	a.executions = append(a.executions, use)

	address, number := w.Address(), cfg.SubaccountNumber
	a.subaccounts = append(a.subaccounts, func(ctx context.Context) error {
		return dc.SubscribeSubaccount(ctx, address, number)
	})
	return nil
}

func (a *app) subscribeAll(ctx context.Context, loaded ops.Loaded) error {
	var errs []error
	for _, dc := range a.data {
		for _, sub := range subscriptionsOf(loaded, dc.Venue()) {
			if err := a.subscribe(ctx, dc, sub); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, fn := range a.subaccounts {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return errors.Wrap(errs[0], "subscribe").With("failed", len(errs))
	}
	return nil
}

func subscriptionsOf(loaded ops.Loaded, venueName string) []ops.Subscription {
	switch {
	case venueName == bitmex.Venue && loaded.BitMEX != nil:
		return loaded.BitMEX.Subscriptions
	case venueName == dydx.Venue && loaded.DYDX != nil:
		return loaded.DYDX.Subscriptions
	default:
		return nil
	}
}

func (a *app) subscribe(ctx context.Context, dc client.DataClient, sub ops.Subscription) error {
	id := sub.InstrumentID
	for _, stream := range sub.Streams {
		var err error
		switch stream {
		case venue.StreamInstruments:
			err = dc.SubscribeInstruments(ctx)
		case venue.StreamQuotes:
			err = dc.SubscribeQuotes(ctx, id)
		case venue.StreamTrades:
			err = dc.SubscribeTrades(ctx, id)
		case venue.StreamBookDeltas:
			err = dc.SubscribeBookDeltas(ctx, id, sub.BookType)
		case venue.StreamBookDepth:
			err = dc.SubscribeBookDepth(ctx, id)
		case venue.StreamMarkPrices:
			err = dc.SubscribeMarkPrices(ctx, id)
		case venue.StreamIndexPrices:
			err = dc.SubscribeIndexPrices(ctx, id)
		default:
			err = errors.Wrap(exception.ErrInvalidArgument, "unknown stream").With("stream", stream)
		}
		if err != nil {
			return errors.Wrap(err, "subscribe").With("instrument", id).With("stream", stream)
		}
	}
	if !a.cache.HasBook(id) {
		return nil
	}
	return a.cache.WithBook(id, func(b *orderbook.OrderBook) error {
		logs.Infof("book %s ready, type: %s", id, b.BookType())
		return nil
	})
}
