package dydx

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/ratelimit"
	"venuelink/pkg/rest"
	"venuelink/pkg/wallet"
)

const (
	_msgPlaceOrder  = "dydxprotocol/clob/MsgPlaceOrder"
	_msgCancelOrder = "dydxprotocol/clob/MsgCancelOrder"
	_pubKeyType     = "tendermint/PubKeySecp256k1"

	_orderFlagsLongTerm = 64

	_defaultGoodTil  = 28 * 24 * time.Hour
	_defaultGasLimit = "1000000"
)

// DelegatorConfig configures order placement.
type DelegatorConfig struct {
	ChainID          string
	SubaccountNumber int
	// GoodTil bounds the lifetime of long-term orders and cancels.
	GoodTil  time.Duration
	GasLimit string
	Memo     string
}

// Delegator places and cancels long-term orders by broadcasting signed
// transactions to the node. Reads go to the indexer.
type Delegator struct {
	cfg       DelegatorConfig
	wallet    *wallet.Wallet
	sequencer *wallet.Sequencer
	node      *rest.Client
	indexer   *rest.Client
	decoder   *Decoder
	now       func() time.Time
}

// NewDelegator shares decoder with the data client so orders placed here
// resolve back to their client order ids on the subaccount stream.
func NewDelegator(cfg DelegatorConfig, w *wallet.Wallet, node, indexer *rest.Client, decoder *Decoder) (*Delegator, error) {
	if w == nil {
		return nil, errors.Wrap(exception.ErrAuthRequired, "dydx delegator: no wallet")
	}
	if node == nil || indexer == nil || decoder == nil {
		return nil, errors.Wrap(exception.ErrConfiguration, "dydx delegator: missing dependency")
	}
	if cfg.ChainID == "" {
		cfg.ChainID = ChainID
	}
	if cfg.GoodTil <= 0 {
		cfg.GoodTil = _defaultGoodTil
	}
	if cfg.GasLimit == "" {
		cfg.GasLimit = _defaultGasLimit
	}

	return &Delegator{
		cfg:       cfg,
		wallet:    w,
		sequencer: wallet.NewSequencer(w.Address(), NodeAccounts{Node: node}),
		node:      node,
		indexer:   indexer,
		decoder:   decoder,
		now:       time.Now,
	}, nil
}

func (d *Delegator) orderID(clientOrderID string, clobPair uint32) map[string]any {
	return map[string]any{
		"subaccount_id": map[string]any{
			"owner":  d.wallet.Address(),
			"number": strconv.Itoa(d.cfg.SubaccountNumber),
		},
		"client_id":    strconv.FormatUint(uint64(d.decoder.clientIDs.Assign(clientOrderID)), 10),
		"order_flags":  strconv.Itoa(_orderFlagsLongTerm),
		"clob_pair_id": strconv.FormatUint(uint64(clobPair), 10),
	}
}

func (d *Delegator) goodTil() string {
	return strconv.FormatInt(d.now().Add(d.cfg.GoodTil).Unix(), 10)
}

func chainSide(side enum.OrderSide) string {
	if side == enum.OrderSideSell {
		return "SIDE_SELL"
	}
	return "SIDE_BUY"
}

func chainTimeInForce(cmd model.SubmitOrder) string {
	switch {
	case cmd.PostOnly:
		return "TIME_IN_FORCE_POST_ONLY"
	case cmd.TimeInForce == enum.TimeInForceIOC, cmd.Type == enum.OrderTypeMarket:
		return "TIME_IN_FORCE_IOC"
	case cmd.TimeInForce == enum.TimeInForceFOK:
		return "TIME_IN_FORCE_FILL_OR_KILL"
	default:
		return "TIME_IN_FORCE_UNSPECIFIED"
	}
}

func (d *Delegator) placeMsg(ctx context.Context, cmd model.SubmitOrder) (map[string]any, error) {
	market, err := d.decoder.markets.Get(ctx, cmd.InstrumentID.Symbol)
	if err != nil {
		return nil, err
	}
	clobPair, err := market.ClobPair()
	if err != nil {
		return nil, err
	}

	price := cmd.Price
	if cmd.Type == enum.OrderTypeMarket {
		// market orders are aggressive IOC limits at the oracle price
		price = d.decoder.precisions.Price(market.Ticker, market.OraclePrice)
	}

	return map[string]any{
		"type": _msgPlaceOrder,
		"value": map[string]any{
			"order": map[string]any{
				"order_id":            d.orderID(cmd.ClientOrderID, clobPair),
				"side":                chainSide(cmd.Side),
				"quantums":            strconv.FormatUint(market.Quantums(cmd.Quantity), 10),
				"subticks":            strconv.FormatUint(market.Subticks(price), 10),
				"good_til_block_time": d.goodTil(),
				"time_in_force":       chainTimeInForce(cmd),
				"reduce_only":         cmd.ReduceOnly,
			},
		},
	}, nil
}

func (d *Delegator) cancelMsg(ctx context.Context, cmd model.CancelOrder) (map[string]any, error) {
	if cmd.ClientOrderID == "" {
		return nil, errors.Wrap(exception.ErrOrderInvalidRequest, "dydx cancels by client order id")
	}
	market, err := d.decoder.markets.Get(ctx, cmd.InstrumentID.Symbol)
	if err != nil {
		return nil, err
	}
	clobPair, err := market.ClobPair()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type": _msgCancelOrder,
		"value": map[string]any{
			"order_id":            d.orderID(cmd.ClientOrderID, clobPair),
			"good_til_block_time": d.goodTil(),
		},
	}, nil
}

type broadcastResponse struct {
	TxResponse struct {
		Code   uint32 `json:"code"`
		TxHash string `json:"txhash"`
		RawLog string `json:"raw_log"`
	} `json:"tx_response"`
}

// broadcast signs msgs with the next sequence and submits them. The sequence
// advances only when the node accepts the transaction.
func (d *Delegator) broadcast(ctx context.Context, msgs []map[string]any) (string, error) {
	var hash string
	err := d.sequencer.Broadcast(ctx, func(ctx context.Context, acc wallet.Account) error {
		number, sequence := acc.Strings()
		doc := wallet.SignDoc{
			AccountNumber: number,
			ChainID:       d.cfg.ChainID,
			Fee:           wallet.Fee{Gas: d.cfg.GasLimit},
			Memo:          d.cfg.Memo,
			Msgs:          msgs,
			Sequence:      sequence,
		}
		sig, _, err := d.wallet.SignDoc(doc)
		if err != nil {
			return err
		}

		tx, err := sonic.ConfigStd.Marshal(map[string]any{
			"msg":  msgs,
			"fee":  doc.Fee,
			"memo": doc.Memo,
			"signatures": []map[string]any{{
				"pub_key": map[string]string{
					"type":  _pubKeyType,
					"value": base64.StdEncoding.EncodeToString(d.wallet.PubKey()),
				},
				"signature": base64.StdEncoding.EncodeToString(sig),
			}},
		})
		if err != nil {
			return errors.Wrap(exception.ErrInvalidArgument, err.Error())
		}

		var resp broadcastResponse
		if _, err := d.node.Do(ctx, rest.Request{
			Method: http.MethodPost,
			Path:   "/cosmos/tx/v1beta1/txs",
			Body: map[string]string{
				"tx_bytes": base64.StdEncoding.EncodeToString(tx),
				"mode":     "BROADCAST_MODE_SYNC",
			},
			Weight: ratelimit.BatchWeight(len(msgs)),
			Keys:   []string{RateClassNode},
		}, &resp); err != nil {
			return err
		}
		if resp.TxResponse.Code != 0 {
			return errors.Wrap(exception.ErrBadRequest, resp.TxResponse.RawLog).
				With("code", resp.TxResponse.Code).
				With("sequence", sequence)
		}
		hash = resp.TxResponse.TxHash
		return nil
	})
	return hash, err
}

func (d *Delegator) tsInit() int64 {
	return d.now().UnixNano()
}

func (d *Delegator) Submit(ctx context.Context, cmd model.SubmitOrder) (model.OrderEvent, error) {
	msg, err := d.placeMsg(ctx, cmd)
	if err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "dydx submit").With("client_order_id", cmd.ClientOrderID)
	}
	hash, err := d.broadcast(ctx, []map[string]any{msg})
	if err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "dydx submit").With("client_order_id", cmd.ClientOrderID)
	}
	logs.Infof("dydx: order %s broadcast in tx %s", cmd.ClientOrderID, hash)

	return model.OrderEvent{
		Kind:          model.OrderEventAccepted,
		ClientOrderID: cmd.ClientOrderID,
		InstrumentID:  cmd.InstrumentID,
		Status:        enum.OrderStatusAccepted,
		Side:          cmd.Side,
		Price:         cmd.Price,
		Quantity:      cmd.Quantity,
		TsInit:        d.tsInit(),
	}, nil
}

func (d *Delegator) Cancel(ctx context.Context, cmd model.CancelOrder) (model.OrderEvent, error) {
	events, err := d.BatchCancel(ctx, model.BatchCancelOrders{Cancels: []model.CancelOrder{cmd}, TsInit: cmd.TsInit})
	if err != nil {
		return model.OrderEvent{}, err
	}
	return events[0], nil
}

// BatchCancel puts every cancel into one transaction.
func (d *Delegator) BatchCancel(ctx context.Context, cmd model.BatchCancelOrders) ([]model.OrderEvent, error) {
	if len(cmd.Cancels) == 0 {
		return nil, errors.Wrap(exception.ErrOrderInvalidRequest, "empty batch cancel")
	}

	msgs := make([]map[string]any, 0, len(cmd.Cancels))
	for _, c := range cmd.Cancels {
		msg, err := d.cancelMsg(ctx, c)
		if err != nil {
			return nil, errors.Wrap(err, "dydx cancel").With("client_order_id", c.ClientOrderID)
		}
		msgs = append(msgs, msg)
	}
	if _, err := d.broadcast(ctx, msgs); err != nil {
		return nil, errors.Wrap(err, "dydx cancel").With("orders", len(msgs))
	}

	tsInit := d.tsInit()
	events := make([]model.OrderEvent, 0, len(cmd.Cancels))
	for _, c := range cmd.Cancels {
		events = append(events, model.OrderEvent{
			Kind:          model.OrderEventCanceled,
			ClientOrderID: c.ClientOrderID,
			VenueOrderID:  c.VenueOrderID,
			InstrumentID:  c.InstrumentID,
			Status:        enum.OrderStatusCanceled,
			TsInit:        tsInit,
		})
	}
	return events, nil
}

func (d *Delegator) Modify(_ context.Context, cmd model.ModifyOrder) (model.OrderEvent, error) {
	return model.OrderEvent{}, errors.Wrap(exception.ErrOrderUnsupportedAction, "dydx has no amend").With("client_order_id", cmd.ClientOrderID)
}

func (d *Delegator) Query(ctx context.Context, cmd model.QueryOrder) (model.OrderEvent, error) {
	query := url.Values{}
	query.Set("address", d.wallet.Address())
	query.Set("subaccountNumber", strconv.Itoa(d.cfg.SubaccountNumber))
	if cmd.InstrumentID.Symbol != "" {
		query.Set("ticker", cmd.InstrumentID.Symbol)
	}

	var rows []orderRow
	if _, err := d.indexer.Do(ctx, rest.Request{
		Path:        "/v4/orders",
		Query:       query,
		ExtraWeight: rest.PerRows(_rowsPerToken),
		Keys:        []string{RateClassIndexer},
	}, &rows); err != nil {
		return model.OrderEvent{}, errors.Wrap(err, "dydx query order").With("client_order_id", cmd.ClientOrderID)
	}

	clientID := ""
	if cmd.ClientOrderID != "" {
		clientID = strconv.FormatUint(uint64(d.decoder.clientIDs.Assign(cmd.ClientOrderID)), 10)
	}
	for _, row := range rows {
		if (clientID != "" && row.ClientID == clientID) || (cmd.VenueOrderID != "" && row.ID == cmd.VenueOrderID) {
			ev := d.decoder.orderEvent(row, d.tsInit())
			ev.Kind = model.OrderEventStatusReport
			return ev, nil
		}
	}
	return model.OrderEvent{}, errors.Wrap(exception.ErrOrderNotFound, "dydx query order").With("client_order_id", cmd.ClientOrderID)
}

func (d *Delegator) Account(ctx context.Context, _ model.QueryAccount) (model.AccountState, error) {
	var resp struct {
		Subaccount subaccount `json:"subaccount"`
	}
	path := "/v4/addresses/" + d.wallet.Address() + "/subaccountNumber/" + strconv.Itoa(d.cfg.SubaccountNumber)
	if _, err := d.indexer.Do(ctx, rest.Request{
		Path: path,
		Keys: []string{RateClassIndexer},
	}, &resp); err != nil {
		return model.AccountState{}, errors.Wrap(err, "dydx subaccount")
	}
	return accountState(resp.Subaccount, d.tsInit()), nil
}
