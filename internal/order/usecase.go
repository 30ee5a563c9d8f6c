package order

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/pkg/exception"
)

type Config struct {
	Venue          string
	Workers        int
	QueueSize      int
	SubmitRate     float64
	SubmitBurst    int
	CommandTimeout time.Duration
}

// Risk gates submits before they are tracked. openOrders counts the live
// orders of the venue.
type Risk interface {
	Check(cmd model.SubmitOrder, openOrders int) error
}

type Option func(*Usecase)

// WithRisk rejects submits failing r before they reach the venue.
func WithRisk(r Risk) Option {
	return func(use *Usecase) {
		use.risk = r
	}
}

type command struct {
	key     string
	payload any
}

// Usecase is the execution client of one venue. Commands for the same
// client order id always land on the same worker, so their events keep the
// order the venue answered in.
type Usecase struct {
	cfg       Config
	delegator Delegator
	publisher Publisher
	limiter   *rate.Limiter
	tracker   *Tracker
	risk      Risk
	now       func() int64

	running atomic.Bool
	queues  []chan command
}

func NewUsecase(cfg Config, delegator Delegator, publisher Publisher, opts ...Option) (*Usecase, error) {
	if delegator == nil || publisher == nil {
		return nil, exception.ErrOrderNilDelegator
	}
	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		return nil, errors.Wrap(exception.ErrOrderInvalidWorker, cfg.Venue).
			With("workers", cfg.Workers).
			With("queue_size", cfg.QueueSize)
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	burst := max(cfg.SubmitBurst, 1)

	queues := make([]chan command, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan command, cfg.QueueSize)
	}

	use := &Usecase{
		cfg:       cfg,
		delegator: delegator,
		publisher: publisher,
		limiter:   rate.NewLimiter(limit, burst),
		tracker:   NewTracker(),
		now:       func() int64 { return time.Now().UnixNano() },
		queues:    queues,
	}
	for _, opt := range opts {
		opt(use)
	}
	return use, nil
}

func (use *Usecase) Venue() string {
	return use.cfg.Venue
}

func (use *Usecase) Tracker() *Tracker {
	return use.tracker
}

// Register exposes the usecase on the exec.<venue> endpoint.
func (use *Usecase) Register(b *bus.MessageBus) error {
	return b.Register(bus.ExecEndpoint(use.cfg.Venue), func(msg any) {
		if err := use.Handle(msg); err != nil {
			logs.Errorf("handle command on %s, err: %+v", bus.ExecEndpoint(use.cfg.Venue), err)
		}
	})
}

func (use *Usecase) SubmitOrder(cmd model.SubmitOrder) error             { return use.Handle(cmd) }
func (use *Usecase) CancelOrder(cmd model.CancelOrder) error             { return use.Handle(cmd) }
func (use *Usecase) ModifyOrder(cmd model.ModifyOrder) error             { return use.Handle(cmd) }
func (use *Usecase) QueryOrder(cmd model.QueryOrder) error               { return use.Handle(cmd) }
func (use *Usecase) QueryAccount(cmd model.QueryAccount) error           { return use.Handle(cmd) }
func (use *Usecase) BatchCancelOrders(cmd model.BatchCancelOrders) error { return use.Handle(cmd) }

// Handle validates a command and queues it without blocking.
func (use *Usecase) Handle(msg any) error {
	key, err := validate(msg)
	if err != nil {
		return err
	}
	if batch, ok := msg.(model.BatchCancelOrders); ok {
		return use.enqueueBatch(batch)
	}

	select {
	case use.queues[shard(key, len(use.queues))] <- command{key: key, payload: msg}:
		return nil
	default:
		return errors.Wrap(exception.ErrOrderQueueFull, use.cfg.Venue).With("key", key)
	}
}

// enqueueBatch splits a batch cancel into one batch per worker, so every
// cancel runs on the same worker as the other commands for its order.
func (use *Usecase) enqueueBatch(cmd model.BatchCancelOrders) error {
	parts := make(map[int][]model.CancelOrder, len(use.queues))
	var shards []int
	for _, c := range cmd.Cancels {
		idx := shard(orderKey(c.ClientOrderID, c.VenueOrderID), len(use.queues))
		if _, ok := parts[idx]; !ok {
			shards = append(shards, idx)
		}
		parts[idx] = append(parts[idx], c)
	}

	var dropped []string
	for _, idx := range shards {
		cancels := parts[idx]
		key := orderKey(cancels[0].ClientOrderID, cancels[0].VenueOrderID)
		select {
		case use.queues[idx] <- command{key: key, payload: model.BatchCancelOrders{Cancels: cancels, TsInit: cmd.TsInit}}:
		default:
			for _, c := range cancels {
				dropped = append(dropped, orderKey(c.ClientOrderID, c.VenueOrderID))
			}
		}
	}
	if len(dropped) != 0 {
		return errors.Wrap(exception.ErrOrderQueueFull, use.cfg.Venue).With("dropped", dropped)
	}
	return nil
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func validate(msg any) (string, error) {
	switch cmd := msg.(type) {
	case model.SubmitOrder:
		switch {
		case cmd.ClientOrderID == "":
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "empty client order id")
		case cmd.InstrumentID.IsZero():
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "empty instrument").With("client_order_id", cmd.ClientOrderID)
		case !cmd.Side.IsAvailable():
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "order side").With("client_order_id", cmd.ClientOrderID)
		case !cmd.Type.IsAvailable():
			return "", errors.Wrap(exception.ErrOrderUnsupportedType, cmd.ClientOrderID)
		case !cmd.Quantity.IsPositive():
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "non-positive quantity").With("client_order_id", cmd.ClientOrderID)
		case cmd.Type == enum.OrderTypeLimit && cmd.Price.Raw <= 0:
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "limit order without price").With("client_order_id", cmd.ClientOrderID)
		}
		return cmd.ClientOrderID, nil
	case model.CancelOrder:
		if cmd.ClientOrderID == "" && cmd.VenueOrderID == "" {
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "cancel without order id")
		}
		return orderKey(cmd.ClientOrderID, cmd.VenueOrderID), nil
	case model.ModifyOrder:
		if cmd.ClientOrderID == "" && cmd.VenueOrderID == "" {
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "modify without order id")
		}
		if !cmd.Quantity.IsPositive() && cmd.Price.Raw == 0 {
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "modify without changes").With("client_order_id", cmd.ClientOrderID)
		}
		return orderKey(cmd.ClientOrderID, cmd.VenueOrderID), nil
	case model.QueryOrder:
		if cmd.ClientOrderID == "" && cmd.VenueOrderID == "" {
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "query without order id")
		}
		return orderKey(cmd.ClientOrderID, cmd.VenueOrderID), nil
	case model.QueryAccount:
		return "account:" + cmd.AccountID, nil
	case model.BatchCancelOrders:
		if len(cmd.Cancels) == 0 {
			return "", errors.Wrap(exception.ErrOrderInvalidRequest, "empty batch cancel")
		}
		for i, c := range cmd.Cancels {
			if c.ClientOrderID == "" && c.VenueOrderID == "" {
				return "", errors.Wrap(exception.ErrOrderInvalidRequest, "batch cancel without order id").With("index", i)
			}
		}
		return orderKey(cmd.Cancels[0].ClientOrderID, cmd.Cancels[0].VenueOrderID), nil
	default:
		return "", errors.Wrap(exception.ErrOrderUnsupportedAction, "unknown command").With("type", fmt.Sprintf("%T", msg))
	}
}

func orderKey(clientOrderID, venueOrderID string) string {
	if clientOrderID != "" {
		return clientOrderID
	}
	return "venue:" + venueOrderID
}

// Run starts the workers. It returns immediately; workers stop with ctx.
func (use *Usecase) Run(ctx context.Context) {
	if use.running.Swap(true) {
		return
	}

	for i := range use.queues {
		go use.work(ctx, use.queues[i])
	}
}

func (use *Usecase) work(ctx context.Context, ch chan command) {
	for {
		select {
		case cmd := <-ch:
			use.execute(ctx, cmd.payload)
		case <-ctx.Done():
			logs.Infof("order worker of %s stopped", use.cfg.Venue)
			return
		}
	}
}

func (use *Usecase) execute(ctx context.Context, payload any) {
	ctx, cancel := context.WithTimeout(ctx, use.cfg.CommandTimeout)
	defer cancel()

	switch cmd := payload.(type) {
	case model.SubmitOrder:
		use.submit(ctx, cmd)
	case model.CancelOrder:
		ev, err := use.delegator.Cancel(ctx, cmd)
		if err != nil {
			use.publish(use.rejection(model.OrderEventCancelRejected, cmd.ClientOrderID, cmd.VenueOrderID, cmd.InstrumentID, err))
			return
		}
		use.publish(ev)
	case model.ModifyOrder:
		ev, err := use.delegator.Modify(ctx, cmd)
		if err != nil {
			use.publish(use.rejection(model.OrderEventModifyRejected, cmd.ClientOrderID, cmd.VenueOrderID, cmd.InstrumentID, err))
			return
		}
		use.publish(ev)
	case model.QueryOrder:
		ev, err := use.delegator.Query(ctx, cmd)
		if err != nil {
			logs.Errorf("query order %s on %s, err: %+v", cmd.ClientOrderID, use.cfg.Venue, err)
			return
		}
		use.publish(ev)
	case model.QueryAccount:
		state, err := use.delegator.Account(ctx, cmd)
		if err != nil {
			logs.Errorf("query account %s on %s, err: %+v", cmd.AccountID, use.cfg.Venue, err)
			return
		}
		use.publisher.Publish(bus.AccountEventsTopic(use.cfg.Venue), state)
	case model.BatchCancelOrders:
		evs, err := use.delegator.BatchCancel(ctx, cmd)
		if err != nil {
			for _, c := range cmd.Cancels {
				use.publish(use.rejection(model.OrderEventCancelRejected, c.ClientOrderID, c.VenueOrderID, c.InstrumentID, err))
			}
			return
		}
		for _, ev := range evs {
			use.publish(ev)
		}
	}
}

func (use *Usecase) submit(ctx context.Context, cmd model.SubmitOrder) {
	if use.risk != nil {
		if err := use.risk.Check(cmd, len(use.tracker.Open())); err != nil {
			use.publishUntracked(use.rejection(model.OrderEventRejected, cmd.ClientOrderID, "", cmd.InstrumentID, err))
			return
		}
	}
	if _, err := use.tracker.Submit(cmd); err != nil {
		use.publishUntracked(use.rejection(model.OrderEventRejected, cmd.ClientOrderID, "", cmd.InstrumentID, err))
		return
	}
	use.publish(model.OrderEvent{
		Kind:          model.OrderEventSubmitted,
		ClientOrderID: cmd.ClientOrderID,
		InstrumentID:  cmd.InstrumentID,
		Status:        enum.OrderStatusSubmitted,
		Side:          cmd.Side,
		Price:         cmd.Price,
		Quantity:      cmd.Quantity,
		TsEvent:       use.now(),
		TsInit:        cmd.TsInit,
	})

	if err := use.limiter.Wait(ctx); err != nil {
		use.publish(use.rejection(model.OrderEventRejected, cmd.ClientOrderID, "", cmd.InstrumentID, errors.Wrap(exception.ErrRateLimited, err.Error())))
		return
	}

	ev, err := use.delegator.Submit(ctx, cmd)
	if err != nil {
		use.publish(use.rejection(model.OrderEventRejected, cmd.ClientOrderID, "", cmd.InstrumentID, err))
		return
	}
	use.publish(ev)
}

func (use *Usecase) rejection(kind model.OrderEventKind, clientOrderID, venueOrderID string, id model.InstrumentID, err error) model.OrderEvent {
	ts := use.now()
	return model.OrderEvent{
		Kind:          kind,
		ClientOrderID: clientOrderID,
		VenueOrderID:  venueOrderID,
		InstrumentID:  id,
		Reason:        err.Error(),
		TsEvent:       ts,
		TsInit:        ts,
	}
}

// publish folds ev into the tracker before handing it to subscribers.
func (use *Usecase) publish(ev model.OrderEvent) {
	if ev.ClientOrderID != "" {
		if _, err := use.tracker.Apply(ev); err != nil {
			logs.Infof("warn: order %s on %s: %+v", ev.ClientOrderID, use.cfg.Venue, err)
		}
	}
	use.publishUntracked(ev)
}

func (use *Usecase) publishUntracked(ev model.OrderEvent) {
	use.publisher.Publish(bus.OrderEventsTopic(use.cfg.Venue), ev)
}
