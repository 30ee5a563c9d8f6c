package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

type fakeDelegator struct {
	mu        sync.Mutex
	submitErr error
	cancelErr error
	submitted []string
}

func (d *fakeDelegator) Submit(_ context.Context, cmd model.SubmitOrder) (model.OrderEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return model.OrderEvent{}, d.submitErr
	}
	d.submitted = append(d.submitted, cmd.ClientOrderID)
	return model.OrderEvent{
		Kind:          model.OrderEventAccepted,
		ClientOrderID: cmd.ClientOrderID,
		VenueOrderID:  "V-" + cmd.ClientOrderID,
		InstrumentID:  cmd.InstrumentID,
		Status:        enum.OrderStatusAccepted,
	}, nil
}

func (d *fakeDelegator) Cancel(_ context.Context, cmd model.CancelOrder) (model.OrderEvent, error) {
	if d.cancelErr != nil {
		return model.OrderEvent{}, d.cancelErr
	}
	return model.OrderEvent{Kind: model.OrderEventCanceled, ClientOrderID: cmd.ClientOrderID}, nil
}

func (d *fakeDelegator) Modify(_ context.Context, cmd model.ModifyOrder) (model.OrderEvent, error) {
	return model.OrderEvent{}, errors.Wrap(exception.ErrBadRequest, "cannot amend")
}

func (d *fakeDelegator) Query(_ context.Context, cmd model.QueryOrder) (model.OrderEvent, error) {
	return model.OrderEvent{
		Kind:          model.OrderEventStatusReport,
		ClientOrderID: cmd.ClientOrderID,
		Status:        enum.OrderStatusPartiallyFilled,
		FilledQty:     model.NewQuantity(1, 0),
	}, nil
}

func (d *fakeDelegator) Account(_ context.Context, cmd model.QueryAccount) (model.AccountState, error) {
	return model.AccountState{AccountID: cmd.AccountID, Venue: "SIM", Reported: true}, nil
}

func (d *fakeDelegator) BatchCancel(_ context.Context, cmd model.BatchCancelOrders) ([]model.OrderEvent, error) {
	evs := make([]model.OrderEvent, 0, len(cmd.Cancels))
	for _, c := range cmd.Cancels {
		evs = append(evs, model.OrderEvent{Kind: model.OrderEventCanceled, ClientOrderID: c.ClientOrderID})
	}
	return evs, nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.OrderEvent
	states []model.AccountState
}

func (r *recorder) attach(t *testing.T, b *bus.MessageBus) {
	t.Helper()
	require.NoError(t, b.Subscribe("events.order.*", "recorder", func(_ string, msg any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, msg.(model.OrderEvent))
	}, 0))
	require.NoError(t, b.Subscribe("events.account.*", "recorder", func(_ string, msg any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, msg.(model.AccountState))
	}, 0))
}

func (r *recorder) kinds(clientOrderID string) []model.OrderEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []model.OrderEventKind
	for _, ev := range r.events {
		if ev.ClientOrderID == clientOrderID {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func setup(t *testing.T, d Delegator) (*Usecase, *bus.MessageBus, *recorder) {
	t.Helper()
	b := bus.NewMessageBus("test")
	rec := &recorder{}
	rec.attach(t, b)

	use, err := NewUsecase(Config{Venue: "SIM", Workers: 4, QueueSize: 16}, d, b)
	require.NoError(t, err)
	use.Run(t.Context())
	return use, b, rec
}

func limitOrder(id string) model.SubmitOrder {
	return model.SubmitOrder{
		ClientOrderID: id,
		InstrumentID:  model.NewInstrumentID("XBTUSD", "SIM"),
		Side:          enum.OrderSideBuy,
		Type:          enum.OrderTypeLimit,
		TimeInForce:   enum.TimeInForceGTC,
		Quantity:      model.NewQuantity(2, 0),
		Price:         model.NewPrice(100, 1),
	}
}

func TestNewUsecaseValidation(t *testing.T) {
	_, err := NewUsecase(Config{Venue: "SIM", Workers: 1, QueueSize: 1}, nil, bus.NewMessageBus("x"))
	assert.True(t, errors.Is(err, exception.ErrOrderNilDelegator))

	_, err = NewUsecase(Config{Venue: "SIM"}, &fakeDelegator{}, bus.NewMessageBus("x"))
	assert.True(t, errors.Is(err, exception.ErrOrderInvalidWorker))
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestSubmitPublishesSubmittedThenAccepted(t *testing.T) {
	use, _, rec := setup(t, &fakeDelegator{})
	require.NoError(t, use.SubmitOrder(limitOrder("O-1")))

	require.Eventually(t, func() bool { return len(rec.kinds("O-1")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{model.OrderEventSubmitted, model.OrderEventAccepted}, rec.kinds("O-1"))

	o, ok := use.Tracker().Order("O-1")
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusAccepted, o.Status)
	assert.Equal(t, "V-O-1", o.VenueOrderID)
	assert.Len(t, use.Tracker().Open(), 1)
}

func TestSubmitErrorPublishesRejected(t *testing.T) {
	use, _, rec := setup(t, &fakeDelegator{submitErr: errors.Wrap(exception.ErrBadRequest, "insufficient margin")})
	require.NoError(t, use.SubmitOrder(limitOrder("O-2")))

	require.Eventually(t, func() bool { return len(rec.kinds("O-2")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{model.OrderEventSubmitted, model.OrderEventRejected}, rec.kinds("O-2"))

	rec.mu.Lock()
	reason := rec.events[len(rec.events)-1].Reason
	rec.mu.Unlock()
	assert.Contains(t, reason, "insufficient margin")

	o, _ := use.Tracker().Order("O-2")
	assert.Equal(t, enum.OrderStatusRejected, o.Status)
}

func TestDuplicateSubmitIsRejected(t *testing.T) {
	use, _, rec := setup(t, &fakeDelegator{})
	require.NoError(t, use.SubmitOrder(limitOrder("O-3")))
	require.NoError(t, use.SubmitOrder(limitOrder("O-3")))

	require.Eventually(t, func() bool { return len(rec.kinds("O-3")) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{
		model.OrderEventSubmitted, model.OrderEventAccepted, model.OrderEventRejected,
	}, rec.kinds("O-3"))
}

func TestCancelModifyAndQuery(t *testing.T) {
	d := &fakeDelegator{cancelErr: errors.Wrap(exception.ErrBadRequest, "too late")}
	use, _, rec := setup(t, d)

	require.NoError(t, use.SubmitOrder(limitOrder("O-4")))
	require.NoError(t, use.CancelOrder(model.CancelOrder{ClientOrderID: "O-4"}))
	require.NoError(t, use.ModifyOrder(model.ModifyOrder{ClientOrderID: "O-4", Price: model.NewPrice(101, 1)}))
	require.NoError(t, use.QueryOrder(model.QueryOrder{ClientOrderID: "O-4"}))

	require.Eventually(t, func() bool { return len(rec.kinds("O-4")) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{
		model.OrderEventSubmitted,
		model.OrderEventAccepted,
		model.OrderEventCancelRejected,
		model.OrderEventModifyRejected,
		model.OrderEventStatusReport,
	}, rec.kinds("O-4"))

	o, _ := use.Tracker().Order("O-4")
	assert.Equal(t, enum.OrderStatusPartiallyFilled, o.Status)
}

func TestQueryAccountAndBatchCancel(t *testing.T) {
	use, _, rec := setup(t, &fakeDelegator{})
	require.NoError(t, use.QueryAccount(model.QueryAccount{AccountID: "acc"}))
	require.NoError(t, use.BatchCancelOrders(model.BatchCancelOrders{Cancels: []model.CancelOrder{
		{ClientOrderID: "X-1"}, {ClientOrderID: "X-2"},
	}}))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.states) == 1 && len(rec.events) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{model.OrderEventCanceled}, rec.kinds("X-1"))
}

func TestHandleValidation(t *testing.T) {
	use, _, _ := setup(t, &fakeDelegator{})

	noPrice := limitOrder("O-5")
	noPrice.Price = model.Price{}
	noQty := limitOrder("O-6")
	noQty.Quantity = model.Quantity{}
	noID := limitOrder("")

	testCases := []struct {
		desc string
		cmd  any
		err  error
	}{
		{desc: "limit without price", cmd: noPrice, err: exception.ErrOrderInvalidRequest},
		{desc: "zero quantity", cmd: noQty, err: exception.ErrOrderInvalidRequest},
		{desc: "empty client order id", cmd: noID, err: exception.ErrOrderInvalidRequest},
		{desc: "cancel without ids", cmd: model.CancelOrder{}, err: exception.ErrOrderInvalidRequest},
		{desc: "empty batch", cmd: model.BatchCancelOrders{}, err: exception.ErrOrderInvalidRequest},
		{desc: "batch cancel without ids", cmd: model.BatchCancelOrders{Cancels: []model.CancelOrder{{ClientOrderID: "O-1"}, {}}}, err: exception.ErrOrderInvalidRequest},
		{desc: "unknown command", cmd: "hello", err: exception.ErrOrderUnsupportedAction},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := use.Handle(tc.cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err))
		})
	}
}

func TestQueueFullWhenNotRunning(t *testing.T) {
	use, err := NewUsecase(Config{Venue: "SIM", Workers: 1, QueueSize: 1}, &fakeDelegator{}, bus.NewMessageBus("x"))
	require.NoError(t, err)

	require.NoError(t, use.SubmitOrder(limitOrder("O-7")))
	err = use.SubmitOrder(limitOrder("O-8"))
	assert.True(t, errors.Is(err, exception.ErrOrderQueueFull))
}

func TestBatchCancelQueuesBehindEachOrder(t *testing.T) {
	use, err := NewUsecase(Config{Venue: "SIM", Workers: 4, QueueSize: 16}, &fakeDelegator{}, bus.NewMessageBus("x"))
	require.NoError(t, err)

	var cancels []model.CancelOrder
	for i := range 8 {
		id := fmt.Sprintf("O-%d", i)
		require.NoError(t, use.SubmitOrder(limitOrder(id)))
		cancels = append(cancels, model.CancelOrder{ClientOrderID: id})
	}
	require.NoError(t, use.BatchCancelOrders(model.BatchCancelOrders{Cancels: cancels, TsInit: 7}))

	canceled := 0
	for i, q := range use.queues {
		var submitted []string
		for len(q) > 0 {
			cmd := <-q
			switch p := cmd.payload.(type) {
			case model.SubmitOrder:
				submitted = append(submitted, p.ClientOrderID)
			case model.BatchCancelOrders:
				assert.EqualValues(t, 7, p.TsInit)
				for _, c := range p.Cancels {
					assert.Contains(t, submitted, c.ClientOrderID, "queue %d", i)
					canceled++
				}
			}
		}
	}
	assert.Equal(t, len(cancels), canceled)
}

func TestBatchCancelQueueFull(t *testing.T) {
	use, err := NewUsecase(Config{Venue: "SIM", Workers: 1, QueueSize: 1}, &fakeDelegator{}, bus.NewMessageBus("x"))
	require.NoError(t, err)

	require.NoError(t, use.SubmitOrder(limitOrder("O-1")))
	err = use.BatchCancelOrders(model.BatchCancelOrders{Cancels: []model.CancelOrder{{ClientOrderID: "O-1"}, {VenueOrderID: "V-2"}}})
	assert.True(t, errors.Is(err, exception.ErrOrderQueueFull))
}

func TestExecEndpoint(t *testing.T) {
	use, b, rec := setup(t, &fakeDelegator{})
	require.NoError(t, use.Register(b))

	require.NoError(t, b.Send(bus.ExecEndpoint("SIM"), limitOrder("O-9")))
	require.Eventually(t, func() bool { return len(rec.kinds("O-9")) == 2 }, time.Second, time.Millisecond)
}

func TestShardIsStable(t *testing.T) {
	for _, key := range []string{"a", "O-1", "venue:123"} {
		assert.Equal(t, shard(key, 8), shard(key, 8))
		assert.Less(t, shard(key, 8), 8)
	}
}

type denyAfter struct {
	limit int
}

func (d denyAfter) Check(cmd model.SubmitOrder, openOrders int) error {
	if openOrders >= d.limit {
		return errors.Wrap(exception.ErrRiskRejected, "open_orders").With("client_order_id", cmd.ClientOrderID)
	}
	return nil
}

func TestRiskRejectsBeforeTracking(t *testing.T) {
	b := bus.NewMessageBus("test")
	rec := &recorder{}
	rec.attach(t, b)
	d := &fakeDelegator{}

	use, err := NewUsecase(Config{Venue: "SIM", Workers: 1, QueueSize: 16}, d, b, WithRisk(denyAfter{limit: 1}))
	require.NoError(t, err)
	use.Run(t.Context())

	require.NoError(t, use.SubmitOrder(limitOrder("R-1")))
	require.NoError(t, use.SubmitOrder(limitOrder("R-2")))

	require.Eventually(t, func() bool { return len(rec.kinds("R-2")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []model.OrderEventKind{model.OrderEventSubmitted, model.OrderEventAccepted}, rec.kinds("R-1"))
	assert.Equal(t, []model.OrderEventKind{model.OrderEventRejected}, rec.kinds("R-2"))

	_, tracked := use.Tracker().Order("R-2")
	assert.False(t, tracked)
	d.mu.Lock()
	assert.Equal(t, []string{"R-1"}, d.submitted)
	d.mu.Unlock()
}
