package dydx

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/internal/venue"
	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

type envelope[T any] struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	ID       string `json:"id"`
	Contents T      `json:"contents"`
}

type priceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookSnapshot struct {
	Bids []priceLevel `json:"bids"`
	Asks []priceLevel `json:"asks"`
}

type bookUpdate struct {
	Bids [][2]decimal.Decimal `json:"bids"`
	Asks [][2]decimal.Decimal `json:"asks"`
}

type tradeRow struct {
	ID        string          `json:"id"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt string          `json:"createdAt"`
}

type tradesContents struct {
	Trades []tradeRow `json:"trades"`
}

type oraclePrice struct {
	OraclePrice decimal.Decimal `json:"oraclePrice"`
	EffectiveAt string          `json:"effectiveAt"`
}

type marketsSnapshot struct {
	Markets map[string]Market `json:"markets"`
}

type marketsUpdate struct {
	Trading      map[string]Market      `json:"trading"`
	OraclePrices map[string]oraclePrice `json:"oraclePrices"`
}

type orderRow struct {
	ID          string          `json:"id"`
	ClientID    string          `json:"clientId"`
	Ticker      string          `json:"ticker"`
	Side        string          `json:"side"`
	Size        decimal.Decimal `json:"size"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
	TotalFilled decimal.Decimal `json:"totalFilled"`
	UpdatedAt   string          `json:"updatedAt"`
}

type fillRow struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	Ticker    string          `json:"ticker"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt string          `json:"createdAt"`
}

type subaccount struct {
	Address          string          `json:"address"`
	SubaccountNumber int             `json:"subaccountNumber"`
	Equity           decimal.Decimal `json:"equity"`
	FreeCollateral   decimal.Decimal `json:"freeCollateral"`
}

type subaccountContents struct {
	Subaccount *subaccount `json:"subaccount"`
	Orders     []orderRow  `json:"orders"`
	Fills      []fillRow   `json:"fills"`
}

// Decoder turns indexer channel frames into bus events. The markets channel
// feeds the shared market table and the precision of every ticker.
type Decoder struct {
	markets    *Markets
	clientIDs  *ClientIDs
	precisions *venue.Precisions
	sequence   atomic.Uint64
	now        func() int64

	mu     sync.Mutex
	orders map[string]string
}

func NewDecoder(markets *Markets, clientIDs *ClientIDs, now func() int64) *Decoder {
	return &Decoder{
		markets:    markets,
		clientIDs:  clientIDs,
		precisions: venue.NewPrecisions(),
		now:        now,
		orders:     make(map[string]string),
	}
}

func (d *Decoder) IsBook(msg websocket.Message) bool {
	return msg.Topic == ChannelOrderbook
}

func (d *Decoder) Decode(msg websocket.Message) ([]bus.Event, error) {
	var head envelope[json.RawMessage]
	if err := sonic.ConfigFastest.Unmarshal(msg.Payload, &head); err != nil {
		return nil, errors.Wrap(exception.ErrProtocol, err.Error())
	}
	snapshot := head.Type == "subscribed"

	switch msg.Topic {
	case ChannelOrderbook:
		return d.book(head.ID, head.Type, head.Contents)
	case ChannelTrades:
		if snapshot {
			// historical trades
			return nil, nil
		}
		return d.trades(head.ID, head.Contents)
	case ChannelMarkets:
		if snapshot {
			return d.marketsSnapshot(head.Contents)
		}
		return d.marketsUpdate(head.Contents)
	case ChannelSubaccounts:
		return d.subaccount(head.Contents)
	default:
		return nil, errors.Wrap(exception.ErrUnknownTopic, msg.Topic)
	}
}

func unmarshal(raw []byte, v any) error {
	if err := sonic.ConfigFastest.Unmarshal(raw, v); err != nil {
		return errors.Wrap(exception.ErrProtocol, err.Error())
	}
	return nil
}

func instrumentID(ticker string) model.InstrumentID {
	return model.NewInstrumentID(ticker, Venue)
}

func (d *Decoder) book(ticker, frameType string, raw []byte) ([]bus.Event, error) {
	id := instrumentID(ticker)
	tsInit := d.now()
	sequence := d.sequence.Add(1)
	deltas := model.BookDeltas{InstrumentID: id, Sequence: sequence, TsEvent: tsInit, TsInit: tsInit}

	add := func(action enum.BookAction, side enum.OrderSide, price, size decimal.Decimal, flags uint8) {
		deltas.Deltas = append(deltas.Deltas, model.BookDelta{
			InstrumentID: id,
			Action:       action,
			Order: model.BookOrder{
				Side:  side,
				Price: d.precisions.Price(ticker, price),
				Size:  d.precisions.Quantity(ticker, size),
			},
			Flags:    flags,
			Sequence: sequence,
			TsEvent:  tsInit,
			TsInit:   tsInit,
		})
	}
	// zero sizes travel as updates so unknown levels are ignored
	addUpdate := func(u bookUpdate) {
		for _, level := range u.Bids {
			add(enum.BookActionUpdate, enum.OrderSideBuy, level[0], level[1], 0)
		}
		for _, level := range u.Asks {
			add(enum.BookActionUpdate, enum.OrderSideSell, level[0], level[1], 0)
		}
	}

	switch frameType {
	case "subscribed":
		var snap bookSnapshot
		if err := unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		deltas.Deltas = append(deltas.Deltas, model.NewClearDelta(id, sequence, tsInit, tsInit))
		for _, level := range snap.Bids {
			add(enum.BookActionAdd, enum.OrderSideBuy, level.Price, level.Size, model.FlagSnapshot)
		}
		for _, level := range snap.Asks {
			add(enum.BookActionAdd, enum.OrderSideSell, level.Price, level.Size, model.FlagSnapshot)
		}
	case "channel_batch_data":
		var batch []bookUpdate
		if err := unmarshal(raw, &batch); err != nil {
			return nil, err
		}
		for _, u := range batch {
			addUpdate(u)
		}
	default:
		var u bookUpdate
		if err := unmarshal(raw, &u); err != nil {
			return nil, err
		}
		addUpdate(u)
	}

	if len(deltas.Deltas) == 0 {
		return nil, nil
	}
	deltas.Deltas[len(deltas.Deltas)-1].Flags |= model.FlagLast
	return []bus.Event{{Topic: bus.DeltasTopic(id), Payload: deltas}}, nil
}

func aggressor(side string) enum.AggressorSide {
	switch side {
	case "BUY":
		return enum.AggressorSideBuyer
	case "SELL":
		return enum.AggressorSideSeller
	default:
		return enum.AggressorSideNone
	}
}

func orderSide(side string) enum.OrderSide {
	switch side {
	case "BUY":
		return enum.OrderSideBuy
	case "SELL":
		return enum.OrderSideSell
	default:
		return enum.OrderSide(0)
	}
}

func (d *Decoder) trades(ticker string, raw []byte) ([]bus.Event, error) {
	var contents tradesContents
	if err := unmarshal(raw, &contents); err != nil {
		return nil, err
	}

	id := instrumentID(ticker)
	tsInit := d.now()
	events := make([]bus.Event, 0, len(contents.Trades))
	for _, row := range contents.Trades {
		events = append(events, bus.Event{Topic: bus.TradesTopic(id), Payload: model.Trade{
			InstrumentID:  id,
			Price:         d.precisions.Price(ticker, row.Price),
			Size:          d.precisions.Quantity(ticker, row.Size),
			AggressorSide: aggressor(row.Side),
			TradeID:       row.ID,
			TsEvent:       venue.ParseTime(row.CreatedAt),
			TsInit:        tsInit,
		}})
	}
	return events, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (d *Decoder) marketsSnapshot(raw []byte) ([]bus.Event, error) {
	var contents marketsSnapshot
	if err := unmarshal(raw, &contents); err != nil {
		return nil, err
	}

	tsInit := d.now()
	var events []bus.Event
	for _, ticker := range sortedKeys(contents.Markets) {
		market := contents.Markets[ticker]
		market.Ticker = ticker
		d.markets.Set(market)
		events = append(events, d.instrument(market, tsInit))
		if !market.OraclePrice.IsZero() {
			events = append(events, d.oracle(ticker, market.OraclePrice, 0, tsInit)...)
		}
	}
	return events, nil
}

func (d *Decoder) marketsUpdate(raw []byte) ([]bus.Event, error) {
	var contents marketsUpdate
	if err := unmarshal(raw, &contents); err != nil {
		return nil, err
	}

	tsInit := d.now()
	var events []bus.Event
	for _, ticker := range sortedKeys(contents.Trading) {
		update := contents.Trading[ticker]
		update.Ticker = ticker
		d.markets.Update(update)
		if !update.TickSize.IsZero() && !update.StepSize.IsZero() {
			events = append(events, d.instrument(update, tsInit))
		}
	}
	for _, ticker := range sortedKeys(contents.OraclePrices) {
		price := contents.OraclePrices[ticker]
		d.markets.Update(Market{Ticker: ticker, OraclePrice: price.OraclePrice})
		events = append(events, d.oracle(ticker, price.OraclePrice, venue.ParseTime(price.EffectiveAt), tsInit)...)
	}
	return events, nil
}

func (d *Decoder) instrument(market Market, tsInit int64) bus.Event {
	pricePrec, sizePrec := venue.Precision(market.TickSize), venue.Precision(market.StepSize)
	d.precisions.Set(market.Ticker, pricePrec, sizePrec)

	id := instrumentID(market.Ticker)
	base, quote, _ := id.Currencies()
	return bus.Event{Topic: bus.InstrumentsTopic(id), Payload: model.Instrument{
		ID:             id,
		RawSymbol:      market.Ticker,
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		PricePrecision: pricePrec,
		SizePrecision:  sizePrec,
		TickSize:       venue.Price(market.TickSize, pricePrec),
		LotSize:        venue.Quantity(market.StepSize, sizePrec),
		TsInit:         tsInit,
	}}
}

// oracle publishes the oracle price as both mark and index; positions are
// marked to it.
func (d *Decoder) oracle(ticker string, value decimal.Decimal, tsEvent, tsInit int64) []bus.Event {
	id := instrumentID(ticker)
	price := d.precisions.Price(ticker, value)
	return []bus.Event{
		{Topic: bus.MarkPricesTopic(id), Payload: model.MarkPrice{InstrumentID: id, Value: price, TsEvent: tsEvent, TsInit: tsInit}},
		{Topic: bus.IndexPricesTopic(id), Payload: model.IndexPrice{InstrumentID: id, Value: price, TsEvent: tsEvent, TsInit: tsInit}},
	}
}

func orderStatus(status string) (enum.OrderStatus, model.OrderEventKind) {
	switch status {
	case "OPEN", "UNTRIGGERED":
		return enum.OrderStatusAccepted, model.OrderEventAccepted
	case "FILLED":
		return enum.OrderStatusFilled, model.OrderEventStatusReport
	case "CANCELED", "BEST_EFFORT_CANCELED":
		return enum.OrderStatusCanceled, model.OrderEventCanceled
	default:
		return enum.OrderStatus(0), model.OrderEventStatusReport
	}
}

func (d *Decoder) clientOrderID(row orderRow) string {
	if row.ClientID == "" {
		return ""
	}
	n, err := strconv.ParseUint(row.ClientID, 10, 32)
	if err != nil {
		return row.ClientID
	}
	if id, ok := d.clientIDs.Lookup(uint32(n)); ok {
		return id
	}
	return row.ClientID
}

func (d *Decoder) orderEvent(row orderRow, tsInit int64) model.OrderEvent {
	status, kind := orderStatus(row.Status)
	clientOrderID := d.clientOrderID(row)
	if row.ID != "" && clientOrderID != "" {
		d.mu.Lock()
		d.orders[row.ID] = clientOrderID
		d.mu.Unlock()
	}

	filled := d.precisions.Quantity(row.Ticker, row.TotalFilled)
	if status == enum.OrderStatusAccepted && filled.IsPositive() {
		status = enum.OrderStatusPartiallyFilled
		kind = model.OrderEventStatusReport
	}

	return model.OrderEvent{
		Kind:          kind,
		ClientOrderID: clientOrderID,
		VenueOrderID:  row.ID,
		InstrumentID:  instrumentID(row.Ticker),
		Status:        status,
		Side:          orderSide(row.Side),
		Price:         d.precisions.Price(row.Ticker, row.Price),
		Quantity:      d.precisions.Quantity(row.Ticker, row.Size),
		FilledQty:     filled,
		TsEvent:       venue.ParseTime(row.UpdatedAt),
		TsInit:        tsInit,
	}
}

func (d *Decoder) subaccount(raw []byte) ([]bus.Event, error) {
	var contents subaccountContents
	if err := unmarshal(raw, &contents); err != nil {
		return nil, err
	}

	tsInit := d.now()
	topic := bus.OrderEventsTopic(Venue)
	var events []bus.Event
	if contents.Subaccount != nil {
		events = append(events, bus.Event{Topic: bus.AccountEventsTopic(Venue), Payload: accountState(*contents.Subaccount, tsInit)})
	}
	for _, row := range contents.Orders {
		events = append(events, bus.Event{Topic: topic, Payload: d.orderEvent(row, tsInit)})
	}
	for _, row := range contents.Fills {
		d.mu.Lock()
		clientOrderID := d.orders[row.OrderID]
		d.mu.Unlock()

		events = append(events, bus.Event{Topic: topic, Payload: model.OrderEvent{
			Kind:          model.OrderEventFilled,
			ClientOrderID: clientOrderID,
			VenueOrderID:  row.OrderID,
			InstrumentID:  instrumentID(row.Ticker),
			Side:          orderSide(row.Side),
			LastPx:        d.precisions.Price(row.Ticker, row.Price),
			LastQty:       d.precisions.Quantity(row.Ticker, row.Size),
			TradeID:       row.ID,
			TsEvent:       venue.ParseTime(row.CreatedAt),
			TsInit:        tsInit,
		}})
	}
	return events, nil
}

func accountState(s subaccount, tsInit int64) model.AccountState {
	total, _ := s.Equity.Float64()
	free, _ := s.FreeCollateral.Float64()
	return model.AccountState{
		AccountID: s.Address + "/" + strconv.Itoa(s.SubaccountNumber),
		Venue:     Venue,
		Balances: []model.Balance{{
			Currency: "USDC",
			Total:    total,
			Free:     free,
			Locked:   total - free,
		}},
		Reported: true,
		TsInit:   tsInit,
	}
}

// subaccountID is the channel id of a subaccount subscription.
func subaccountID(address string, number int) string {
	return strings.Join([]string{address, strconv.Itoa(number)}, "/")
}
