package exception

import "github.com/yanun0323/errors"

// Order book errors
var (
	ErrBookOrderNotFound   = errors.Wrap(ErrIntegrity, "orderbook: order not found")
	ErrBookTooManyLevels   = errors.Wrap(ErrIntegrity, "orderbook: too many levels for book type")
	ErrBookTooManyOrders   = errors.Wrap(ErrIntegrity, "orderbook: too many orders at level")
	ErrBookCrossed         = errors.Wrap(ErrIntegrity, "orderbook: crossed book")
	ErrBookUnordered       = errors.Wrap(ErrIntegrity, "orderbook: ladder out of order")
	ErrBookInvalidForType  = errors.Wrap(ErrConfiguration, "orderbook: operation invalid for book type")
	ErrBookInstrument      = errors.Wrap(ErrConfiguration, "orderbook: instrument mismatch")
	ErrUnknownTopic        = errors.Wrap(ErrProtocol, "market data: unknown topic")
	ErrUnsupportedPlatform = errors.Wrap(ErrConfiguration, "market data: unsupported platform")
)

// Exchange rate errors
var (
	ErrXRateEmptyQuotes      = errors.New("xrate: empty quotes")
	ErrXRateAsymmetricQuotes = errors.New("xrate: asymmetric quotes")
	ErrXRateInvalidPriceType = errors.New("xrate: invalid price type")
	ErrXRateMissingAsk       = errors.New("xrate: missing ask")
)

// Bus errors
var (
	ErrBusDuplicateSubscription = errors.New("bus: duplicate subscription")
	ErrBusInvalidPattern        = errors.New("bus: invalid pattern")
	ErrBusEndpointExists        = errors.New("bus: endpoint already registered")
	ErrBusNoEndpoint            = errors.New("bus: endpoint not registered")
	ErrBusDuplicateCorrelation  = errors.New("bus: duplicate correlation id")
	ErrBusQueueFull             = errors.New("bus: queue full")
	ErrBusQueueClosed           = errors.New("bus: queue closed")
)
