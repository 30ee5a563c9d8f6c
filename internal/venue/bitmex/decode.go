package bitmex

import (
	"strings"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/internal/venue"
	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

type tableFrame[T any] struct {
	Table  string `json:"table"`
	Action string `json:"action"`
	Data   []T    `json:"data"`
}

type instrumentRow struct {
	Symbol                string          `json:"symbol"`
	Underlying            string          `json:"underlying"`
	QuoteCurrency         string          `json:"quoteCurrency"`
	TickSize              decimal.Decimal `json:"tickSize"`
	LotSize               decimal.Decimal `json:"lotSize"`
	MarkPrice             decimal.Decimal `json:"markPrice"`
	IndicativeSettlePrice decimal.Decimal `json:"indicativeSettlePrice"`
	Timestamp             string          `json:"timestamp"`
}

type quoteRow struct {
	Symbol    string          `json:"symbol"`
	BidSize   decimal.Decimal `json:"bidSize"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
	AskPrice  decimal.Decimal `json:"askPrice"`
	AskSize   decimal.Decimal `json:"askSize"`
	Timestamp string          `json:"timestamp"`
}

type tradeRow struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	TrdMatchID string          `json:"trdMatchID"`
	Timestamp  string          `json:"timestamp"`
}

type depthRow struct {
	Symbol    string               `json:"symbol"`
	Bids      [][2]decimal.Decimal `json:"bids"`
	Asks      [][2]decimal.Decimal `json:"asks"`
	Timestamp string               `json:"timestamp"`
}

type levelRow struct {
	Symbol    string          `json:"symbol"`
	ID        uint64          `json:"id"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
}

type orderRow struct {
	OrderID   string          `json:"orderID"`
	ClOrdID   string          `json:"clOrdID"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	OrderQty  decimal.Decimal `json:"orderQty"`
	Price     decimal.Decimal `json:"price"`
	OrdStatus string          `json:"ordStatus"`
	CumQty    decimal.Decimal `json:"cumQty"`
	LeavesQty decimal.Decimal `json:"leavesQty"`
	Text      string          `json:"text"`
	Timestamp string          `json:"timestamp"`
}

type executionRow struct {
	orderRow
	ExecType   string          `json:"execType"`
	LastPx     decimal.Decimal `json:"lastPx"`
	LastQty    decimal.Decimal `json:"lastQty"`
	TrdMatchID string          `json:"trdMatchID"`
}

type marginRow struct {
	Account         int64           `json:"account"`
	Currency        string          `json:"currency"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	AvailableMargin decimal.Decimal `json:"availableMargin"`
	Timestamp       string          `json:"timestamp"`
}

// Decoder turns realtime table frames into bus events. Instrument frames
// teach it the precision of every symbol.
type Decoder struct {
	precisions *venue.Precisions
	sequence   atomic.Uint64
	now        func() int64
}

func NewDecoder(now func() int64) *Decoder {
	return &Decoder{precisions: venue.NewPrecisions(), now: now}
}

func (d *Decoder) IsBook(msg websocket.Message) bool {
	switch msg.Topic {
	case TableOrderBookL2, TableOrderBook25, TableOrderBook10:
		return true
	default:
		return false
	}
}

func (d *Decoder) Decode(msg websocket.Message) ([]bus.Event, error) {
	switch msg.Topic {
	case TableInstrument:
		return d.instruments(msg.Payload)
	case TableQuote:
		return d.quotes(msg.Payload)
	case TableTrade:
		return d.trades(msg.Payload)
	case TableOrderBook10:
		return d.depth(msg.Payload)
	case TableOrderBookL2, TableOrderBook25:
		return d.deltas(msg.Payload)
	case TableOrder:
		return d.orders(msg.Payload)
	case TableExecution:
		return d.executions(msg.Payload)
	case TableMargin:
		return d.margins(msg.Payload)
	default:
		return nil, errors.Wrap(exception.ErrUnknownTopic, msg.Topic)
	}
}

func decodeFrame[T any](payload []byte) (tableFrame[T], error) {
	var frame tableFrame[T]
	if err := sonic.ConfigFastest.Unmarshal(payload, &frame); err != nil {
		return frame, errors.Wrap(exception.ErrProtocol, err.Error())
	}
	return frame, nil
}

func instrumentID(symbol string) model.InstrumentID {
	return model.NewInstrumentID(symbol, Venue)
}

func (d *Decoder) price(symbol string, v decimal.Decimal) model.Price {
	return d.precisions.Price(symbol, v)
}

func (d *Decoder) size(symbol string, v decimal.Decimal) model.Quantity {
	return d.precisions.Quantity(symbol, v)
}

func (d *Decoder) instruments(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[instrumentRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		id := instrumentID(row.Symbol)
		ts := venue.ParseTime(row.Timestamp)

		if !row.TickSize.IsZero() {
			pricePrec, sizePrec := venue.Precision(row.TickSize), venue.Precision(row.LotSize)
			d.precisions.Set(row.Symbol, pricePrec, sizePrec)

			events = append(events, bus.Event{Topic: bus.InstrumentsTopic(id), Payload: model.Instrument{
				ID:             id,
				RawSymbol:      row.Symbol,
				BaseCurrency:   baseCurrency(row.Underlying),
				QuoteCurrency:  row.QuoteCurrency,
				PricePrecision: pricePrec,
				SizePrecision:  sizePrec,
				TickSize:       venue.Price(row.TickSize, pricePrec),
				LotSize:        venue.Quantity(row.LotSize, sizePrec),
				TsEvent:        ts,
				TsInit:         tsInit,
			}})
		}
		if !row.MarkPrice.IsZero() {
			events = append(events, bus.Event{Topic: bus.MarkPricesTopic(id), Payload: model.MarkPrice{
				InstrumentID: id,
				Value:        d.price(row.Symbol, row.MarkPrice),
				TsEvent:      ts,
				TsInit:       tsInit,
			}})
		}
		if !row.IndicativeSettlePrice.IsZero() {
			events = append(events, bus.Event{Topic: bus.IndexPricesTopic(id), Payload: model.IndexPrice{
				InstrumentID: id,
				Value:        d.price(row.Symbol, row.IndicativeSettlePrice),
				TsEvent:      ts,
				TsInit:       tsInit,
			}})
		}
	}
	return events, nil
}

// baseCurrency maps the venue's bitcoin code onto the common one.
func baseCurrency(underlying string) string {
	if underlying == "XBT" {
		return "BTC"
	}
	return underlying
}

func (d *Decoder) quotes(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[quoteRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		id := instrumentID(row.Symbol)
		events = append(events, bus.Event{Topic: bus.QuotesTopic(id), Payload: model.Quote{
			InstrumentID: id,
			BidPrice:     d.price(row.Symbol, row.BidPrice),
			AskPrice:     d.price(row.Symbol, row.AskPrice),
			BidSize:      d.size(row.Symbol, row.BidSize),
			AskSize:      d.size(row.Symbol, row.AskSize),
			TsEvent:      venue.ParseTime(row.Timestamp),
			TsInit:       tsInit,
		}})
	}
	return events, nil
}

func aggressor(side string) enum.AggressorSide {
	switch side {
	case "Buy":
		return enum.AggressorSideBuyer
	case "Sell":
		return enum.AggressorSideSeller
	default:
		return enum.AggressorSideNone
	}
}

func (d *Decoder) trades(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[tradeRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		id := instrumentID(row.Symbol)
		events = append(events, bus.Event{Topic: bus.TradesTopic(id), Payload: model.Trade{
			InstrumentID:  id,
			Price:         d.price(row.Symbol, row.Price),
			Size:          d.size(row.Symbol, row.Size),
			AggressorSide: aggressor(row.Side),
			TradeID:       row.TrdMatchID,
			TsEvent:       venue.ParseTime(row.Timestamp),
			TsInit:        tsInit,
		}})
	}
	return events, nil
}

func (d *Decoder) depth(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[depthRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		id := instrumentID(row.Symbol)
		events = append(events, bus.Event{Topic: bus.DepthTopic(id), Payload: model.Depth{
			InstrumentID: id,
			Bids:         d.levels(row.Symbol, row.Bids),
			Asks:         d.levels(row.Symbol, row.Asks),
			Sequence:     d.sequence.Add(1),
			TsEvent:      venue.ParseTime(row.Timestamp),
			TsInit:       tsInit,
		}})
	}
	return events, nil
}

func (d *Decoder) levels(symbol string, rows [][2]decimal.Decimal) []model.DepthLevel {
	levels := make([]model.DepthLevel, 0, len(rows))
	for _, row := range rows {
		levels = append(levels, model.DepthLevel{
			Price: d.price(symbol, row[0]),
			Size:  d.size(symbol, row[1]),
			Count: 1,
		})
	}
	return levels
}

func orderSide(side string) enum.OrderSide {
	switch side {
	case "Buy":
		return enum.OrderSideBuy
	case "Sell":
		return enum.OrderSideSell
	default:
		return enum.OrderSide(0)
	}
}

func bookAction(action string) (enum.BookAction, bool) {
	switch action {
	case "partial", "insert":
		return enum.BookActionAdd, true
	case "update":
		return enum.BookActionUpdate, true
	case "delete":
		return enum.BookActionDelete, true
	default:
		return 0, false
	}
}

// deltas groups rows per symbol. A partial starts with a clear delta so the
// batch replaces the book.
func (d *Decoder) deltas(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[levelRow](payload)
	if err != nil {
		return nil, err
	}
	action, ok := bookAction(frame.Action)
	if !ok {
		return nil, errors.Wrap(exception.ErrProtocol, "unknown book action").With("action", frame.Action)
	}

	snapshot := frame.Action == "partial"
	tsInit := d.now()
	sequence := d.sequence.Add(1)

	var (
		order   []string
		batches = map[string]*model.BookDeltas{}
	)
	for _, row := range frame.Data {
		batch, ok := batches[row.Symbol]
		if !ok {
			id := instrumentID(row.Symbol)
			batch = &model.BookDeltas{InstrumentID: id, Sequence: sequence, TsInit: tsInit}
			if snapshot {
				batch.Deltas = append(batch.Deltas, model.NewClearDelta(id, sequence, 0, tsInit))
			}
			batches[row.Symbol] = batch
			order = append(order, row.Symbol)
		}

		ts := venue.ParseTime(row.Timestamp)
		var flags uint8
		if snapshot {
			flags = model.FlagSnapshot
		}
		batch.Deltas = append(batch.Deltas, model.BookDelta{
			InstrumentID: batch.InstrumentID,
			Action:       action,
			Order: model.BookOrder{
				Side:    orderSide(row.Side),
				Price:   d.price(row.Symbol, row.Price),
				Size:    d.size(row.Symbol, row.Size),
				OrderID: row.ID,
			},
			Flags:    flags,
			Sequence: sequence,
			TsEvent:  ts,
			TsInit:   tsInit,
		})
		batch.TsEvent = max(batch.TsEvent, ts)
	}

	events := make([]bus.Event, 0, len(order))
	for _, symbol := range order {
		batch := batches[symbol]
		last := &batch.Deltas[len(batch.Deltas)-1]
		last.Flags |= model.FlagLast
		events = append(events, bus.Event{Topic: bus.DeltasTopic(batch.InstrumentID), Payload: *batch})
	}
	return events, nil
}

func orderStatus(status string) enum.OrderStatus {
	switch status {
	case "New":
		return enum.OrderStatusAccepted
	case "PartiallyFilled":
		return enum.OrderStatusPartiallyFilled
	case "Filled":
		return enum.OrderStatusFilled
	case "Canceled":
		return enum.OrderStatusCanceled
	case "Rejected":
		return enum.OrderStatusRejected
	case "Expired":
		return enum.OrderStatusExpired
	default:
		return enum.OrderStatus(0)
	}
}

func (d *Decoder) orderEvent(row orderRow, tsInit int64) model.OrderEvent {
	status := orderStatus(row.OrdStatus)
	kind := model.OrderEventStatusReport
	switch status {
	case enum.OrderStatusAccepted:
		kind = model.OrderEventAccepted
	case enum.OrderStatusCanceled:
		kind = model.OrderEventCanceled
	case enum.OrderStatusRejected:
		kind = model.OrderEventRejected
	}

	return model.OrderEvent{
		Kind:          kind,
		ClientOrderID: row.ClOrdID,
		VenueOrderID:  row.OrderID,
		InstrumentID:  instrumentID(row.Symbol),
		Status:        status,
		Side:          orderSide(row.Side),
		Price:         d.price(row.Symbol, row.Price),
		Quantity:      d.size(row.Symbol, row.OrderQty),
		FilledQty:     d.size(row.Symbol, row.CumQty),
		Reason:        row.Text,
		TsEvent:       venue.ParseTime(row.Timestamp),
		TsInit:        tsInit,
	}
}

func (d *Decoder) orders(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[orderRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		if row.OrdStatus == "" {
			// partial updates without a status only move quantities
			continue
		}
		events = append(events, bus.Event{Topic: bus.OrderEventsTopic(Venue), Payload: d.orderEvent(row, tsInit)})
	}
	return events, nil
}

func (d *Decoder) executions(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[executionRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		if row.ExecType != "Trade" {
			continue
		}
		ev := d.orderEvent(row.orderRow, tsInit)
		ev.Kind = model.OrderEventFilled
		ev.LastPx = d.price(row.Symbol, row.LastPx)
		ev.LastQty = d.size(row.Symbol, row.LastQty)
		ev.TradeID = row.TrdMatchID
		events = append(events, bus.Event{Topic: bus.OrderEventsTopic(Venue), Payload: ev})
	}
	return events, nil
}

// margins reports balances in whole units; XBt amounts are satoshis.
func (d *Decoder) margins(payload []byte) ([]bus.Event, error) {
	frame, err := decodeFrame[marginRow](payload)
	if err != nil {
		return nil, err
	}

	tsInit := d.now()
	events := make([]bus.Event, 0, len(frame.Data))
	for _, row := range frame.Data {
		state, ok := accountState(row, tsInit)
		if !ok {
			logs.Infof("warn: bitmex: margin row without currency, account: %d", row.Account)
			continue
		}
		events = append(events, bus.Event{Topic: bus.AccountEventsTopic(Venue), Payload: state})
	}
	return events, nil
}

var _satoshi = decimal.New(1, 8)

func accountState(row marginRow, tsInit int64) (model.AccountState, bool) {
	if row.Currency == "" {
		return model.AccountState{}, false
	}

	currency := row.Currency
	total, free := row.WalletBalance, row.AvailableMargin
	if strings.EqualFold(currency, "XBt") {
		currency = "BTC"
		total = total.Div(_satoshi)
		free = free.Div(_satoshi)
	}
	totalF, _ := total.Float64()
	freeF, _ := free.Float64()

	return model.AccountState{
		AccountID: decimal.NewFromInt(row.Account).String(),
		Venue:     Venue,
		Balances: []model.Balance{{
			Currency: currency,
			Total:    totalF,
			Free:     freeF,
			Locked:   totalF - freeF,
		}},
		Reported: true,
		TsEvent:  venue.ParseTime(row.Timestamp),
		TsInit:   tsInit,
	}, true
}
