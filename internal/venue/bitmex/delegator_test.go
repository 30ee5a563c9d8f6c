package bitmex

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/backoff"
	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
	header http.Header
}

func testDelegator(t *testing.T, handler func(w http.ResponseWriter, r capturedRequest)) (*Delegator, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
		if payload, _ := io.ReadAll(r.Body); len(payload) != 0 {
			assert.NoError(t, sonic.Unmarshal(payload, &req.body))
		}
		captured = append(captured, req)
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	cfg := rest.DefaultConfig(srv.URL)
	cfg.MaxRetries = 1
	cfg.Backoff = backoff.Config{Initial: time.Millisecond, Max: time.Millisecond, Factor: 2}
	d, err := NewDelegator(cfg, testCredential())
	require.NoError(t, err)
	return d, &captured
}

func TestDelegatorSubmit(t *testing.T) {
	d, captured := testDelegator(t, func(w http.ResponseWriter, _ capturedRequest) {
		_, _ = w.Write([]byte(`{"orderID":"ab7ae2cb","clOrdID":"O-1","symbol":"XBTUSD","side":"Buy","orderQty":100,"price":43000.5,"ordStatus":"New","cumQty":0,"timestamp":"2024-01-02T03:04:05Z"}`))
	})

	ev, err := d.Submit(t.Context(), model.SubmitOrder{
		ClientOrderID: "O-1",
		InstrumentID:  model.NewInstrumentID("XBTUSD", Venue),
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		TimeInForce:   enum.TimeInForceGTC,
		Quantity:      model.NewQuantity(100, 0),
		Price:         model.NewPrice(43000.5, 1),
		PostOnly:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderEventAccepted, ev.Kind)
	assert.Equal(t, "ab7ae2cb", ev.VenueOrderID)
	assert.Equal(t, enum.OrderStatusAccepted, ev.Status)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, _pathOrder, req.path)
	assert.Equal(t, "XBTUSD", req.body["symbol"])
	assert.Equal(t, "Buy", req.body["side"])
	assert.Equal(t, "Limit", req.body["ordType"])
	assert.Equal(t, "ParticipateDoNotInitiate", req.body["execInst"])
	assert.Equal(t, "GoodTillCancel", req.body["timeInForce"])
	assert.EqualValues(t, 43000.5, req.body["price"])
	assert.EqualValues(t, 100, req.body["orderQty"])
	assert.Equal(t, "LAqUlngMIQkIUjXMUreyu3qn", req.header.Get("api-key"))
	assert.NotEmpty(t, req.header.Get("api-expires"))
	assert.Len(t, req.header.Get("api-signature"), 64)
}

func TestDelegatorSubmitRejected(t *testing.T) {
	d, captured := testDelegator(t, func(w http.ResponseWriter, _ capturedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid orderQty","name":"ValidationError"}}`))
	})

	_, err := d.Submit(t.Context(), model.SubmitOrder{
		ClientOrderID: "O-2",
		InstrumentID:  model.NewInstrumentID("XBTUSD", Venue),
		Side:          enum.OrderSideSell,
		Type:          enum.OrderTypeMarket,
		Quantity:      model.NewQuantity(1, 0),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBadRequest))
	assert.Len(t, *captured, 1)
	assert.Equal(t, "Market", (*captured)[0].body["ordType"])
	assert.NotContains(t, (*captured)[0].body, "price")
}

func TestDelegatorBatchCancel(t *testing.T) {
	d, captured := testDelegator(t, func(w http.ResponseWriter, r capturedRequest) {
		rejected := `{"orderID":"b","clOrdID":"O-2","symbol":"XBTUSD","ordStatus":"Filled","error":"Unable to cancel order due to existing state: Filled"}`
		if ids, _ := r.body["clOrdID"].([]any); len(ids) == 1 {
			_, _ = w.Write([]byte("[" + rejected + "]"))
			return
		}
		_, _ = w.Write([]byte(`[{"orderID":"a","clOrdID":"O-1","symbol":"XBTUSD","ordStatus":"Canceled"},` + rejected + `]`))
	})

	events, err := d.BatchCancel(t.Context(), model.BatchCancelOrders{Cancels: []model.CancelOrder{
		{ClientOrderID: "O-1"},
		{ClientOrderID: "O-2"},
	}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.OrderEventCanceled, events[0].Kind)
	assert.Equal(t, model.OrderEventCancelRejected, events[1].Kind)
	assert.Contains(t, events[1].Reason, "Filled")

	req := (*captured)[0]
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, []any{"O-1", "O-2"}, req.body["clOrdID"])

	_, err = d.Cancel(t.Context(), model.CancelOrder{ClientOrderID: "O-2"})
	assert.True(t, errors.Is(err, exception.ErrBadRequest))
}

func bucketTokens(t *testing.T, d *Delegator, class string) float64 {
	t.Helper()
	_, tokens := d.limiter.Get(class).Snapshot()
	return tokens
}

func TestDelegatorBatchCancelChargesBatchWeight(t *testing.T) {
	d, captured := testDelegator(t, func(w http.ResponseWriter, _ capturedRequest) {
		_, _ = w.Write([]byte(`[]`))
	})

	cancels := make([]model.CancelOrder, 80)
	for i := range cancels {
		cancels[i] = model.CancelOrder{ClientOrderID: fmt.Sprintf("O-%d", i)}
	}
	_, err := d.BatchCancel(t.Context(), model.BatchCancelOrders{Cancels: cancels})
	require.NoError(t, err)
	require.Len(t, *captured, 1)

	// 1 + 80/40 tokens from each class, not one per request.
	assert.InDelta(t, 117, bucketTokens(t, d, RateClassGeneral), 0.5)
	assert.InDelta(t, 597, bucketTokens(t, d, RateClassOrder), 0.5)
}

func TestDelegatorQueryChargesPerRows(t *testing.T) {
	rows := `{"orderID":"a","clOrdID":"O-9","symbol":"XBTUSD","ordStatus":"New"},`
	d, _ := testDelegator(t, func(w http.ResponseWriter, _ capturedRequest) {
		_, _ = w.Write([]byte("[" + strings.TrimSuffix(strings.Repeat(rows, 250), ",") + "]"))
	})

	_, err := d.Query(t.Context(), model.QueryOrder{ClientOrderID: "O-9"})
	require.NoError(t, err)
	assert.InDelta(t, 117, bucketTokens(t, d, RateClassGeneral), 0.5)
	assert.InDelta(t, 600, bucketTokens(t, d, RateClassOrder), 0.5)
}

func TestDelegatorQuery(t *testing.T) {
	d, captured := testDelegator(t, func(w http.ResponseWriter, r capturedRequest) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := d.Query(t.Context(), model.QueryOrder{ClientOrderID: "O-9"})
	assert.True(t, errors.Is(err, exception.ErrOrderNotFound))
	assert.Contains(t, (*captured)[0].query, "filter=")
}

func TestDelegatorAccount(t *testing.T) {
	d, _ := testDelegator(t, func(w http.ResponseWriter, _ capturedRequest) {
		_, _ = w.Write([]byte(`[
			{"account":7,"currency":"XBt","walletBalance":200000000,"availableMargin":50000000,"timestamp":"2024-01-02T03:04:05Z"},
			{"account":7,"currency":"USDt","walletBalance":1000,"availableMargin":1000,"timestamp":"2024-01-02T03:04:06Z"}]`))
	})

	state, err := d.Account(t.Context(), model.QueryAccount{})
	require.NoError(t, err)
	assert.Equal(t, "7", state.AccountID)
	require.Len(t, state.Balances, 2)
	assert.Equal(t, "BTC", state.Balances[0].Currency)
	assert.Equal(t, 2.0, state.Balances[0].Total)
	assert.Equal(t, 1.5, state.Balances[0].Locked)
	assert.Equal(t, "USDt", state.Balances[1].Currency)
}

func TestNewDelegatorRequiresCredential(t *testing.T) {
	_, err := NewDelegator(rest.DefaultConfig(BaseURL), rest.Credential{})
	assert.True(t, errors.Is(err, exception.ErrAuthRequired))
}
