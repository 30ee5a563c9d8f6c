package bitmex

import (
	"time"

	"github.com/yanun0323/errors"

	"venuelink/internal/bus"
	"venuelink/internal/cache"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/internal/venue"
	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
	"venuelink/pkg/websocket"
)

// Router maps streams onto realtime tables.
type Router struct{}

func (Router) Route(stream venue.Stream, id model.InstrumentID, bookType enum.BookType) (string, string, error) {
	switch stream {
	case venue.StreamInstruments:
		return TableInstrument, "", nil
	case venue.StreamQuotes:
		return TableQuote, id.Symbol, nil
	case venue.StreamTrades:
		return TableTrade, id.Symbol, nil
	case venue.StreamBookDeltas:
		if bookType != enum.BookTypeL2MBP {
			return "", "", errors.Wrap(exception.ErrInvalidArgument, "bitmex books are L2").With("book_type", bookType)
		}
		return TableOrderBookL2, id.Symbol, nil
	case venue.StreamBookDepth:
		return TableOrderBook10, id.Symbol, nil
	case venue.StreamMarkPrices, venue.StreamIndexPrices:
		return TableInstrument, id.Symbol, nil
	default:
		return "", "", errors.Wrap(exception.ErrInvalidArgument, "unsupported stream").With("stream", stream)
	}
}

// DataConfig configures the realtime data client.
type DataConfig struct {
	URL string
	// Credential enables the private tables when set.
	Credential rest.Credential
	Dialer     websocket.Dialer
	Tuning     websocket.Tuning
	// OnStateChange observes session transitions.
	OnStateChange func(from, to websocket.State)
	// Queue, when set, carries feed events to the bus.
	Queue *bus.Queue
}

// NewDataClient wires a session, decoder and feed into a data client.
func NewDataClient(cfg DataConfig, publisher *bus.MessageBus, c *cache.Cache) (*venue.DataClient, error) {
	if cfg.URL == "" {
		cfg.URL = WsURL
	}

	now := func() int64 { return time.Now().UnixNano() }
	var opts []venue.FeedOption
	if cfg.Queue != nil {
		opts = append(opts, venue.WithQueue(cfg.Queue))
	}
	feed := venue.NewFeed(Venue, NewDecoder(now), publisher, c, opts...)

	wsCfg := websocket.Config{
		Name:                  "bitmex",
		URL:                   cfg.URL,
		Codec:                 Codec{},
		Dialer:                cfg.Dialer,
		ChunkSize:             20,
		OnMessage:             feed.OnMessage,
		ResnapshotOnIntegrity: true,
		OnStateChange:         cfg.OnStateChange,
	}
	cfg.Tuning.Apply(&wsCfg)
	if !cfg.Credential.IsEmpty() {
		wsCfg.Authenticator = Authenticator{Credential: cfg.Credential}
	}

	session, err := websocket.NewSession(wsCfg)
	if err != nil {
		return nil, err
	}
	return venue.NewDataClient(Venue, session, feed, c, Router{}), nil
}
