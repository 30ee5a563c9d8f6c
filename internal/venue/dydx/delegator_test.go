package dydx

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
	"venuelink/pkg/wallet"
)

const _mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type txMsg struct {
	Type  string         `json:"type"`
	Value map[string]any `json:"value"`
}

type fakeNode struct {
	t *testing.T

	accountFetches atomic.Int32
	reject         atomic.Bool

	mu  sync.Mutex
	txs [][]txMsg
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/cosmos/auth/v1beta1/accounts/"):
		n.accountFetches.Add(1)
		address := strings.TrimPrefix(r.URL.Path, "/cosmos/auth/v1beta1/accounts/")
		_, _ = w.Write([]byte(`{"account":{"address":"` + address + `","account_number":"7","sequence":"3"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/cosmos/tx/v1beta1/txs":
		body, _ := io.ReadAll(r.Body)
		var req struct {
			TxBytes string `json:"tx_bytes"`
			Mode    string `json:"mode"`
		}
		assert.NoError(n.t, sonic.Unmarshal(body, &req))
		assert.Equal(n.t, "BROADCAST_MODE_SYNC", req.Mode)

		raw, err := base64.StdEncoding.DecodeString(req.TxBytes)
		assert.NoError(n.t, err)
		var tx struct {
			Msg        []txMsg          `json:"msg"`
			Signatures []map[string]any `json:"signatures"`
		}
		assert.NoError(n.t, sonic.Unmarshal(raw, &tx))
		assert.Len(n.t, tx.Signatures, 1)

		n.mu.Lock()
		n.txs = append(n.txs, tx.Msg)
		n.mu.Unlock()

		if n.reject.Load() {
			_, _ = w.Write([]byte(`{"tx_response":{"code":32,"txhash":"","raw_log":"account sequence mismatch"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"tx_response":{"code":0,"txhash":"ABCDEF","raw_log":""}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (n *fakeNode) lastTx() []txMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.txs) == 0 {
		return nil
	}
	return n.txs[len(n.txs)-1]
}

func orderField(t *testing.T, msg txMsg, key string) any {
	t.Helper()
	order, ok := msg.Value["order"].(map[string]any)
	require.True(t, ok)
	return order[key]
}

func testDelegator(t *testing.T, indexerHandler http.Handler) (*Delegator, *fakeNode, *Decoder) {
	t.Helper()

	node := &fakeNode{t: t}
	nodeSrv := httptest.NewServer(node)
	t.Cleanup(nodeSrv.Close)
	if indexerHandler == nil {
		indexerHandler = http.NotFoundHandler()
	}
	indexerSrv := httptest.NewServer(indexerHandler)
	t.Cleanup(indexerSrv.Close)

	nodeClient, err := rest.New(rest.DefaultConfig(nodeSrv.URL))
	require.NoError(t, err)
	indexerClient, err := rest.New(rest.DefaultConfig(indexerSrv.URL))
	require.NoError(t, err)

	markets := NewMarkets(indexerClient)
	markets.Set(btcMarket())
	decoder := NewDecoder(markets, NewClientIDs(), func() int64 { return 42 })

	w, err := wallet.FromMnemonic(_mnemonic, HRP, 0)
	require.NoError(t, err)

	d, err := NewDelegator(DelegatorConfig{ChainID: TestnetChainID}, w, nodeClient, indexerClient, decoder)
	require.NoError(t, err)
	return d, node, decoder
}

func btcID() model.InstrumentID {
	return model.NewInstrumentID("BTC-USD", Venue)
}

func TestDelegatorSubmit(t *testing.T) {
	d, node, decoder := testDelegator(t, nil)

	ev, err := d.Submit(t.Context(), model.SubmitOrder{
		ClientOrderID: "O-1",
		InstrumentID:  btcID(),
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		TimeInForce:   enum.TimeInForceGTC,
		Quantity:      model.NewQuantity(0.01, 4),
		Price:         model.NewPrice(65000, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderEventAccepted, ev.Kind)
	assert.Equal(t, "O-1", ev.ClientOrderID)

	msgs := node.lastTx()
	require.Len(t, msgs, 1)
	assert.Equal(t, _msgPlaceOrder, msgs[0].Type)
	assert.Equal(t, "100000000", orderField(t, msgs[0], "quantums"))
	assert.Equal(t, "6500000000", orderField(t, msgs[0], "subticks"))
	assert.Equal(t, "SIDE_BUY", orderField(t, msgs[0], "side"))
	assert.Equal(t, "TIME_IN_FORCE_UNSPECIFIED", orderField(t, msgs[0], "time_in_force"))

	orderID, ok := orderField(t, msgs[0], "order_id").(map[string]any)
	require.True(t, ok)
	clientID := strconv.FormatUint(uint64(decoder.clientIDs.Assign("O-1")), 10)
	assert.Equal(t, clientID, orderID["client_id"])
	assert.Equal(t, "64", orderID["order_flags"])
	assert.Equal(t, "0", orderID["clob_pair_id"])

	// market orders cross at the oracle price
	_, err = d.Submit(t.Context(), model.SubmitOrder{
		ClientOrderID: "O-2",
		InstrumentID:  btcID(),
		Side:          enum.OrderSideSell,
		Type:          enum.OrderTypeMarket,
		Quantity:      model.NewQuantity(0.02, 4),
	})
	require.NoError(t, err)
	msgs = node.lastTx()
	assert.Equal(t, "6500000000", orderField(t, msgs[0], "subticks"))
	assert.Equal(t, "TIME_IN_FORCE_IOC", orderField(t, msgs[0], "time_in_force"))

	// the sequence is fetched once and advanced locally
	assert.Equal(t, int32(1), node.accountFetches.Load())
}

func TestDelegatorRejectionRefreshesSequence(t *testing.T) {
	d, node, _ := testDelegator(t, nil)
	cmd := model.SubmitOrder{
		ClientOrderID: "O-1",
		InstrumentID:  btcID(),
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		Quantity:      model.NewQuantity(0.01, 4),
		Price:         model.NewPrice(65000, 0),
	}

	node.reject.Store(true)
	_, err := d.Submit(t.Context(), cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBadRequest))

	node.reject.Store(false)
	_, err = d.Submit(t.Context(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int32(2), node.accountFetches.Load())
}

func TestDelegatorCancel(t *testing.T) {
	d, node, _ := testDelegator(t, nil)

	events, err := d.BatchCancel(t.Context(), model.BatchCancelOrders{Cancels: []model.CancelOrder{
		{ClientOrderID: "O-1", InstrumentID: btcID()},
		{ClientOrderID: "O-2", InstrumentID: btcID()},
	}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.OrderEventCanceled, events[1].Kind)

	msgs := node.lastTx()
	require.Len(t, msgs, 2)
	assert.Equal(t, _msgCancelOrder, msgs[0].Type)

	_, err = d.Cancel(t.Context(), model.CancelOrder{VenueOrderID: "venue-1", InstrumentID: btcID()})
	assert.True(t, errors.Is(err, exception.ErrOrderInvalidRequest))

	_, err = d.Modify(t.Context(), model.ModifyOrder{ClientOrderID: "O-1", InstrumentID: btcID()})
	assert.True(t, errors.Is(err, exception.ErrOrderUnsupportedAction))
}

func TestDelegatorQueryAndAccount(t *testing.T) {
	var clientID string
	indexer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v4/orders":
			assert.Equal(t, "0", r.URL.Query().Get("subaccountNumber"))
			_, _ = w.Write([]byte(`[{"id":"venue-1","clientId":"` + clientID + `","ticker":"BTC-USD","side":"BUY","size":"0.01","price":"65000","status":"OPEN","totalFilled":"0.004"}]`))
		case strings.HasPrefix(r.URL.Path, "/v4/addresses/"):
			assert.True(t, strings.HasSuffix(r.URL.Path, "/subaccountNumber/0"))
			_, _ = w.Write([]byte(`{"subaccount":{"address":"dydx1abc","subaccountNumber":0,"equity":"1000","freeCollateral":"750"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	d, _, decoder := testDelegator(t, indexer)
	clientID = strconv.FormatUint(uint64(decoder.clientIDs.Assign("O-1")), 10)

	ev, err := d.Query(t.Context(), model.QueryOrder{ClientOrderID: "O-1", InstrumentID: btcID()})
	require.NoError(t, err)
	assert.Equal(t, model.OrderEventStatusReport, ev.Kind)
	assert.Equal(t, enum.OrderStatusPartiallyFilled, ev.Status)
	assert.Equal(t, "venue-1", ev.VenueOrderID)

	_, err = d.Query(t.Context(), model.QueryOrder{ClientOrderID: "O-9", InstrumentID: btcID()})
	assert.True(t, errors.Is(err, exception.ErrOrderNotFound))

	account, err := d.Account(t.Context(), model.QueryAccount{})
	require.NoError(t, err)
	require.Len(t, account.Balances, 1)
	assert.InDelta(t, 250.0, account.Balances[0].Locked, 1e-9)
}

func TestNewDelegatorRequiresWallet(t *testing.T) {
	_, err := NewDelegator(DelegatorConfig{}, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, exception.ErrAuthRequired))
}
