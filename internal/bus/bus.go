// Package bus is the in-process message bus connecting data clients,
// execution clients and their consumers.
package bus

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/pkg/exception"
)

// Handler receives a published message.
type Handler func(topic string, msg any)

// Subscription is a registered handler. Delivery runs from the highest
// Priority down, earlier registrations first on ties.
type Subscription struct {
	Pattern  string
	ID       string
	Priority int
	Handler  Handler

	seq uint64
}

type pendingRequest struct {
	handler   func(msg any)
	expiresAt time.Time
}

// MessageBus delivers synchronously on the publishing goroutine. Handlers
// may publish or subscribe from inside a callback.
type MessageBus struct {
	name string
	now  func() time.Time

	mu        sync.RWMutex
	seq       uint64
	subs      []*Subscription
	matches   map[string][]*Subscription
	endpoints map[string]func(msg any)
	requests  map[string]pendingRequest

	published uint64
	sent      uint64
}

type Option func(*MessageBus)

// WithClock replaces the clock used for request expiry.
func WithClock(now func() time.Time) Option {
	return func(b *MessageBus) {
		b.now = now
	}
}

func NewMessageBus(name string, opts ...Option) *MessageBus {
	b := &MessageBus{
		name:      name,
		now:       time.Now,
		matches:   make(map[string][]*Subscription),
		endpoints: make(map[string]func(msg any)),
		requests:  make(map[string]pendingRequest),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MessageBus) Name() string {
	return b.name
}

// Subscribe registers handler under (pattern, id). The same pair may only be
// registered once.
func (b *MessageBus) Subscribe(pattern, id string, handler Handler, priority int) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}
	if handler == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "nil handler").With("pattern", pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if slices.ContainsFunc(b.subs, func(s *Subscription) bool { return s.Pattern == pattern && s.ID == id }) {
		return errors.Wrap(exception.ErrBusDuplicateSubscription, pattern).With("id", id)
	}

	b.seq++
	sub := &Subscription{Pattern: pattern, ID: id, Priority: priority, Handler: handler, seq: b.seq}
	idx, _ := slices.BinarySearchFunc(b.subs, sub, compareSubscription)
	b.subs = slices.Insert(b.subs, idx, sub)
	clear(b.matches)
	return nil
}

// Unsubscribe removes (pattern, id) and reports whether it existed.
func (b *MessageBus) Unsubscribe(pattern, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.subs, func(s *Subscription) bool { return s.Pattern == pattern && s.ID == id })
	if idx < 0 {
		return false
	}
	b.subs = slices.Delete(b.subs, idx, idx+1)
	clear(b.matches)
	return true
}

func compareSubscription(a, b *Subscription) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

// Publish delivers msg to every subscription matching topic and returns the
// number of handlers called.
func (b *MessageBus) Publish(topic string, msg any) int {
	subs := b.matching(topic)
	for _, sub := range subs {
		sub.Handler(topic, msg)
	}

	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	return len(subs)
}

func (b *MessageBus) matching(topic string) []*Subscription {
	b.mu.RLock()
	subs, ok := b.matches[topic]
	b.mu.RUnlock()
	if ok {
		return subs
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.matches[topic]; ok {
		return subs
	}
	subs = make([]*Subscription, 0, 4)
	for _, sub := range b.subs {
		if sub.Pattern == topic || (hasWildcard(sub.Pattern) && IsMatching(topic, sub.Pattern)) {
			subs = append(subs, sub)
		}
	}
	b.matches[topic] = subs
	return subs
}

// HasSubscribers reports whether any subscription matches topic.
func (b *MessageBus) HasSubscribers(topic string) bool {
	return len(b.matching(topic)) > 0
}

// Subscriptions lists the subscriptions matching topic in delivery order.
func (b *MessageBus) Subscriptions(topic string) []Subscription {
	subs := b.matching(topic)
	result := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		result = append(result, *sub)
	}
	return result
}

// Topics returns the distinct subscribed patterns, sorted.
func (b *MessageBus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		topics = append(topics, sub.Pattern)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Register binds endpoint to exactly one handler.
func (b *MessageBus) Register(endpoint string, handler func(msg any)) error {
	if endpoint == "" || handler == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "endpoint").With("endpoint", endpoint)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[endpoint]; ok {
		return errors.Wrap(exception.ErrBusEndpointExists, endpoint)
	}
	b.endpoints[endpoint] = handler
	return nil
}

func (b *MessageBus) Deregister(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[endpoint]; !ok {
		return false
	}
	delete(b.endpoints, endpoint)
	return true
}

func (b *MessageBus) Endpoints() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	endpoints := make([]string, 0, len(b.endpoints))
	for endpoint := range b.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	slices.Sort(endpoints)
	return endpoints
}

// Send delivers msg to the handler registered at endpoint.
func (b *MessageBus) Send(endpoint string, msg any) error {
	b.mu.Lock()
	handler, ok := b.endpoints[endpoint]
	if ok {
		b.sent++
	}
	b.mu.Unlock()

	if !ok {
		return errors.Wrap(exception.ErrBusNoEndpoint, endpoint)
	}
	handler(msg)
	return nil
}

// NewCorrelationID returns a fresh request correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Request registers a one-shot response handler under correlationID. A
// positive ttl expires the request; zero keeps it until answered.
func (b *MessageBus) Request(correlationID string, handler func(msg any), ttl time.Duration) error {
	if correlationID == "" || handler == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "request").With("correlation_id", correlationID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.requests[correlationID]; ok {
		return errors.Wrap(exception.ErrBusDuplicateCorrelation, correlationID)
	}

	req := pendingRequest{handler: handler}
	if ttl > 0 {
		req.expiresAt = b.now().Add(ttl)
	}
	b.requests[correlationID] = req
	return nil
}

// Respond hands msg to the handler waiting on correlationID and removes it.
// It reports false for unknown or expired ids.
func (b *MessageBus) Respond(correlationID string, msg any) bool {
	b.mu.Lock()
	req, ok := b.requests[correlationID]
	if ok {
		delete(b.requests, correlationID)
	}
	now := b.now()
	b.mu.Unlock()

	if !ok {
		logs.Infof("warn: bus %s: no pending request for correlation id %s", b.name, correlationID)
		return false
	}
	if !req.expiresAt.IsZero() && now.After(req.expiresAt) {
		logs.Infof("warn: bus %s: response for expired request %s dropped", b.name, correlationID)
		return false
	}
	req.handler(msg)
	return true
}

// PurgeExpired drops requests expired at now and returns how many were dropped.
func (b *MessageBus) PurgeExpired(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var purged int
	for id, req := range b.requests {
		if !req.expiresAt.IsZero() && now.After(req.expiresAt) {
			delete(b.requests, id)
			purged++
		}
	}
	return purged
}

// Pending returns the number of outstanding requests.
func (b *MessageBus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.requests)
}

// Counts returns the number of publishes and endpoint sends so far.
func (b *MessageBus) Counts() (published, sent uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published, b.sent
}
