// Package journal records execution events for audit. It listens on the bus
// and writes in batches off the publishing goroutine.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"venuelink/internal/bus"
	"venuelink/internal/model"
)

const (
	_defaultBuffer    = 4096
	_defaultBatchSize = 256
	_defaultFlush     = time.Second
)

type Config struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Journal buffers order and account events and flushes them to a Store.
// Events that find the buffer full are dropped and counted.
type Journal struct {
	cfg   Config
	store Store
	ch    chan any

	dropped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, store Store) *Journal {
	if cfg.Buffer <= 0 {
		cfg.Buffer = _defaultBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = _defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = _defaultFlush
	}
	return &Journal{cfg: cfg, store: store, ch: make(chan any, cfg.Buffer)}
}

// Attach subscribes the journal to order and account events on every venue.
func (j *Journal) Attach(b *bus.MessageBus) error {
	if err := b.Subscribe("events.order.*", "journal", j.enqueue, -50); err != nil {
		return err
	}
	return b.Subscribe("events.account.*", "journal", j.enqueue, -50)
}

func (j *Journal) enqueue(topic string, msg any) {
	select {
	case j.ch <- msg:
	default:
		if j.dropped.Add(1)%1000 == 1 {
			logs.Infof("warn: journal buffer full, topic: %s, dropped: %d", topic, j.dropped.Load())
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Failed returns the number of rows whose write failed.
func (j *Journal) Failed() uint64 {
	return j.failed.Load()
}

// Run flushes batches until ctx ends, then flushes what is buffered.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	var (
		events   []OrderEventRecord
		balances []BalanceRecord
	)
	flush := func(ctx context.Context) {
		if err := j.store.SaveOrderEvents(ctx, events); err != nil {
			j.failed.Add(uint64(len(events)))
			logs.Errorf("journal: save %d order events, err: %+v", len(events), err)
		}
		if err := j.store.SaveBalances(ctx, balances); err != nil {
			j.failed.Add(uint64(len(balances)))
			logs.Errorf("journal: save %d balances, err: %+v", len(balances), err)
		}
		events, balances = events[:0], balances[:0]
	}
	add := func(msg any) {
		switch v := msg.(type) {
		case model.OrderEvent:
			events = append(events, newOrderEventRecord(v))
		case model.AccountState:
			balances = append(balances, newBalanceRecords(v)...)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-j.ch:
					add(msg)
				default:
					// the run context is gone
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(flushCtx)
					cancel()
					return
				}
			}
		case msg := <-j.ch:
			add(msg)
			if len(events)+len(balances) >= j.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
