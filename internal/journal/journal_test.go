package journal

import (
	"context"
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

type fakeStore struct {
	mu       sync.Mutex
	events   []OrderEventRecord
	balances []BalanceRecord
	fail     bool
}

func (s *fakeStore) SaveOrderEvents(_ context.Context, records []OrderEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail && len(records) != 0 {
		return errors.Wrap(exception.ErrTransport, "down")
	}
	s.events = append(s.events, records...)
	return nil
}

func (s *fakeStore) SaveBalances(_ context.Context, records []BalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = append(s.balances, records...)
	return nil
}

func (s *fakeStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.balances)
}

func TestJournalFlushesOnBatchAndShutdown(t *testing.T) {
	store := &fakeStore{}
	j := New(Config{BatchSize: 2, FlushInterval: time.Hour}, store)
	b := bus.NewMessageBus("test")
	require.NoError(t, j.Attach(b))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()

	id := model.NewInstrumentID("XBTUSD", "BITMEX")
	b.Publish(bus.OrderEventsTopic("BITMEX"), model.OrderEvent{
		Kind:          model.OrderEventAccepted,
		ClientOrderID: "O-1",
		InstrumentID:  id,
		Status:        enum.OrderStatusAccepted,
		Side:          enum.OrderSideBuy,
		Price:         model.NewPrice(43215.5, 1),
	})
	b.Publish(bus.AccountEventsTopic("BITMEX"), model.AccountState{
		AccountID: "1",
		Venue:     "BITMEX",
		Balances:  []model.Balance{{Currency: "BTC", Total: 1, Free: 0.75, Locked: 0.25}},
	})
	assert.Eventually(t, func() bool {
		events, balances := store.counts()
		return events == 1 && balances == 1
	}, time.Second, 5*time.Millisecond)

	b.Publish(bus.OrderEventsTopic("BITMEX"), model.OrderEvent{Kind: model.OrderEventCanceled, ClientOrderID: "O-1", InstrumentID: id})
	cancel()
	<-done

	events, _ := store.counts()
	assert.Equal(t, 2, events)
	assert.Equal(t, "OrderAccepted", store.events[0].Kind)
	assert.Equal(t, "ACCEPTED", store.events[0].Status)
	assert.Equal(t, "BITMEX", store.events[0].Venue)
	assert.Equal(t, 43215.5, store.events[0].Price)
	assert.Equal(t, 0.25, store.balances[0].Locked)
}

func TestJournalCountsFailuresAndDrops(t *testing.T) {
	store := &fakeStore{fail: true}
	j := New(Config{Buffer: 1, BatchSize: 1, FlushInterval: time.Hour}, store)

	j.enqueue("events.order.BITMEX", model.OrderEvent{Kind: model.OrderEventAccepted})
	j.enqueue("events.order.BITMEX", model.OrderEvent{Kind: model.OrderEventAccepted})
	assert.Equal(t, uint64(1), j.Dropped())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	j.Run(ctx)
	assert.Equal(t, uint64(1), j.Failed())
}
