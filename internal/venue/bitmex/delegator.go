package bitmex

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/ratelimit"
	"venuelink/pkg/rest"
)

const (
	_pathOrder  = "/api/v1/order"
	_pathMargin = "/api/v1/user/margin"
)

// Base weights per endpoint kind. List responses add one token per
// _rowsPerToken rows on top.
const (
	_weightOrder  uint32 = 1
	_weightQuery  uint32 = 1
	_weightMargin uint32 = 2 // currency=all fans out per settlement currency

	_rowsPerToken = 100
)

type orderRequest struct {
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	OrderQty    float64  `json:"orderQty"`
	Price       *float64 `json:"price,omitempty"`
	OrdType     string   `json:"ordType"`
	TimeInForce string   `json:"timeInForce,omitempty"`
	ExecInst    string   `json:"execInst,omitempty"`
	ClOrdID     string   `json:"clOrdID"`
}

type amendRequest struct {
	OrderID  string   `json:"orderID,omitempty"`
	OrigClID string   `json:"origClOrdID,omitempty"`
	OrderQty *float64 `json:"orderQty,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

type cancelRequest struct {
	OrderID []string `json:"orderID,omitempty"`
	ClOrdID []string `json:"clOrdID,omitempty"`
}

// cancelRow carries the per-order error BitMEX returns with a 200.
type cancelRow struct {
	orderRow
	Error string `json:"error"`
}

// Delegator sends order commands to the REST API.
type Delegator struct {
	client  *rest.Client
	limiter *ratelimit.Registry
	decoder *Decoder
	now     func() time.Time
}

// NewDelegator builds a signed, rate limited REST delegator.
func NewDelegator(cfg rest.Config, cred rest.Credential, opts ...rest.Option) (*Delegator, error) {
	if cred.IsEmpty() {
		return nil, errors.Wrap(exception.ErrAuthRequired, "bitmex delegator")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	limiter, err := NewLimiter()
	if err != nil {
		return nil, err
	}

	opts = append([]rest.Option{rest.WithLimiter(limiter), rest.WithSigner(NewSigner(cred))}, opts...)
	client, err := rest.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Delegator{
		client:  client,
		limiter: limiter,
		decoder: NewDecoder(func() int64 { return time.Now().UnixNano() }),
		now:     time.Now,
	}, nil
}

func sideString(side enum.OrderSide) string {
	if side == enum.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func timeInForce(tif enum.TimeInForce) string {
	switch tif {
	case enum.TimeInForceIOC:
		return "ImmediateOrCancel"
	case enum.TimeInForceFOK:
		return "FillOrKill"
	case enum.TimeInForceGTC:
		return "GoodTillCancel"
	default:
		return ""
	}
}

func priceValue(p model.Price) *float64 {
	v := p.Float64()
	return &v
}

func newOrderRequest(cmd model.SubmitOrder) orderRequest {
	req := orderRequest{
		Symbol:      cmd.InstrumentID.Symbol,
		Side:        sideString(cmd.Side),
		OrderQty:    cmd.Quantity.Float64(),
		OrdType:     "Limit",
		TimeInForce: timeInForce(cmd.TimeInForce),
		ClOrdID:     cmd.ClientOrderID,
	}
	if cmd.Type == enum.OrderTypeMarket {
		req.OrdType = "Market"
		req.TimeInForce = ""
	} else {
		req.Price = priceValue(cmd.Price)
	}

	var inst []string
	if cmd.PostOnly {
		inst = append(inst, "ParticipateDoNotInitiate")
	}
	if cmd.ReduceOnly {
		inst = append(inst, "ReduceOnly")
	}
	req.ExecInst = strings.Join(inst, ",")
	return req
}

func (d *Delegator) tsInit() int64 {
	return d.now().UnixNano()
}

func (d *Delegator) Submit(ctx context.Context, cmd model.SubmitOrder) (model.OrderEvent, error) {
	var row orderRow
	_, err := d.client.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   _pathOrder,
		Body:   newOrderRequest(cmd),
		Auth:   true,
		Weight: _weightOrder,
		Keys:   []string{RateClassGeneral, RateClassOrder},
	}, &row)
	if err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "bitmex submit").With("client_order_id", cmd.ClientOrderID)
	}
	return d.event(row, model.OrderEventAccepted), nil
}

func (d *Delegator) Cancel(ctx context.Context, cmd model.CancelOrder) (model.OrderEvent, error) {
	events, err := d.cancel(ctx, []model.CancelOrder{cmd})
	if err != nil {
		return model.OrderEvent{}, err
	}
	if len(events) == 0 {
		return model.OrderEvent{}, errors.Wrap(exception.ErrOrderEmptyResponseID, "bitmex cancel").With("client_order_id", cmd.ClientOrderID)
	}
	if events[0].Kind == model.OrderEventCancelRejected {
		return model.OrderEvent{}, errors.Wrap(exception.ErrBadRequest, events[0].Reason).With("client_order_id", cmd.ClientOrderID)
	}
	return events[0], nil
}

// BatchCancel cancels every order in one DELETE. Per-order failures come back
// as cancel rejections.
func (d *Delegator) BatchCancel(ctx context.Context, cmd model.BatchCancelOrders) ([]model.OrderEvent, error) {
	return d.cancel(ctx, cmd.Cancels)
}

func (d *Delegator) cancel(ctx context.Context, cancels []model.CancelOrder) ([]model.OrderEvent, error) {
	var body cancelRequest
	for _, c := range cancels {
		if c.ClientOrderID != "" {
			body.ClOrdID = append(body.ClOrdID, c.ClientOrderID)
			continue
		}
		body.OrderID = append(body.OrderID, c.VenueOrderID)
	}

	var rows []cancelRow
	_, err := d.client.Do(ctx, rest.Request{
		Method:     http.MethodDelete,
		Path:       _pathOrder,
		Body:       body,
		Auth:       true,
		Idempotent: true,
		Weight:     ratelimit.BatchWeight(len(cancels)),
		Keys:       []string{RateClassGeneral, RateClassOrder},
	}, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "bitmex cancel").With("orders", len(cancels))
	}

	events := make([]model.OrderEvent, 0, len(rows))
	for _, row := range rows {
		kind := model.OrderEventCanceled
		if row.Error != "" {
			kind = model.OrderEventCancelRejected
			row.Text = row.Error
		}
		events = append(events, d.event(row.orderRow, kind))
	}
	return events, nil
}

func (d *Delegator) Modify(ctx context.Context, cmd model.ModifyOrder) (model.OrderEvent, error) {
	body := amendRequest{OrderID: cmd.VenueOrderID}
	if cmd.VenueOrderID == "" {
		body.OrigClID = cmd.ClientOrderID
	}
	if cmd.Quantity.IsPositive() {
		qty := cmd.Quantity.Float64()
		body.OrderQty = &qty
	}
	if !cmd.Price.IsZero() {
		body.Price = priceValue(cmd.Price)
	}

	var row orderRow
	_, err := d.client.Do(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   _pathOrder,
		Body:   body,
		Auth:   true,
		Weight: _weightOrder,
		Keys:   []string{RateClassGeneral, RateClassOrder},
	}, &row)
	if err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "bitmex amend").With("client_order_id", cmd.ClientOrderID)
	}
	return d.event(row, model.OrderEventUpdated), nil
}

func (d *Delegator) Query(ctx context.Context, cmd model.QueryOrder) (model.OrderEvent, error) {
	filter := map[string]string{"clOrdID": cmd.ClientOrderID}
	if cmd.ClientOrderID == "" {
		filter = map[string]string{"orderID": cmd.VenueOrderID}
	}
	encoded, err := sonic.ConfigFastest.MarshalToString(filter)
	if err != nil {
		return model.OrderEvent{}, errors.Wrap(exception.ErrOrderInvalidRequest, err.Error())
	}

	query := url.Values{}
	query.Set("filter", encoded)
	if cmd.InstrumentID.Symbol != "" {
		query.Set("symbol", cmd.InstrumentID.Symbol)
	}

	var rows []orderRow
	if _, err := d.client.Do(ctx, rest.Request{
		Path:        _pathOrder,
		Query:       query,
		Auth:        true,
		Weight:      _weightQuery,
		ExtraWeight: rest.PerRows(_rowsPerToken),
		Keys:        []string{RateClassGeneral},
	}, &rows); err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "bitmex query order").With("client_order_id", cmd.ClientOrderID)
	}
	if len(rows) == 0 {
		return model.OrderEvent{}, errors.Wrap(exception.ErrOrderNotFound, "bitmex query order").With("client_order_id", cmd.ClientOrderID)
	}
	return d.event(rows[0], model.OrderEventStatusReport), nil
}

func (d *Delegator) Account(ctx context.Context, _ model.QueryAccount) (model.AccountState, error) {
	query := url.Values{}
	query.Set("currency", "all")

	var rows []marginRow
	if _, err := d.client.Do(ctx, rest.Request{
		Path:        _pathMargin,
		Query:       query,
		Auth:        true,
		Weight:      _weightMargin,
		ExtraWeight: rest.PerRows(_rowsPerToken),
		Keys:        []string{RateClassGeneral},
	}, &rows); err != nil {
		return model.AccountState{}, errors.Wrap(err, "bitmex margin")
	}

	tsInit := d.tsInit()
	var state model.AccountState
	for _, row := range rows {
		line, ok := accountState(row, tsInit)
		if !ok {
			continue
		}
		if state.AccountID == "" {
			state = line
			continue
		}
		state.Balances = append(state.Balances, line.Balances...)
		state.TsEvent = max(state.TsEvent, line.TsEvent)
	}
	if state.AccountID == "" {
		return model.AccountState{}, errors.Wrap(exception.ErrOrderDecodeResponseBody, "bitmex margin: no balances")
	}
	return state, nil
}

func (d *Delegator) event(row orderRow, kind model.OrderEventKind) model.OrderEvent {
	ev := d.decoder.orderEvent(row, d.tsInit())
	ev.Kind = kind
	return ev
}
