package obs

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"venuelink/internal/bus"
	"venuelink/internal/model"
	"venuelink/pkg/websocket"
)

const (
	maxOrderEventKind = int(model.OrderEventStatusReport)
	maxSessionState   = int(websocket.StateFailed)
	// status classes 1xx..5xx
	maxStatusClass = 5
)

// Metrics collects lightweight connectivity counters and latency stats. It
// implements rest.Observer and observes session state changes and bus
// traffic.
type Metrics struct {
	statusCounts [maxStatusClass + 1]uint64
	retries      uint64
	orderEvents  [maxOrderEventKind + 1]uint64
	transitions  [maxSessionState + 1]uint64
	marketData   uint64

	requestLatency LatencyStats
	dataLatency    LatencyStats

	mu       sync.RWMutex
	sessions map[string]func() websocket.Stats
	feeds    []func() uint64
	queues   []*bus.Queue
	buses    []*bus.MessageBus
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	// StatusCounts is keyed by status class, 0 for transport failures.
	StatusCounts     map[int]uint64
	Retries          uint64
	OrderEvents      map[model.OrderEventKind]uint64
	StateTransitions map[websocket.State]uint64
	MarketData       uint64
	Published        uint64
	Sent             uint64
	FeedDropped      uint64
	Queued           int
	Sessions         map[string]websocket.Stats
	RequestLatency   LatencySnapshot
	DataLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{sessions: make(map[string]func() websocket.Stats)}
}

// ObserveRequest counts a REST response by status class and tracks its
// latency. Status 0 marks a transport failure.
func (m *Metrics) ObserveRequest(_ string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	idx := status / 100
	if idx < 0 || idx > maxStatusClass {
		idx = 0
	}
	atomic.AddUint64(&m.statusCounts[idx], 1)
	m.requestLatency.Observe(latency)
}

// ObserveRetry counts a REST retry.
func (m *Metrics) ObserveRetry(string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.retries, 1)
}

// ObserveState counts session transitions by target state. It matches the
// websocket OnStateChange hook.
func (m *Metrics) ObserveState(_, to websocket.State) {
	if m == nil {
		return
	}
	idx := int(to)
	if idx >= 0 && idx < len(m.transitions) {
		atomic.AddUint64(&m.transitions[idx], 1)
	}
}

// ObserveOrderEvent counts an execution event by kind.
func (m *Metrics) ObserveOrderEvent(ev model.OrderEvent) {
	if m == nil {
		return
	}
	idx := int(ev.Kind)
	if idx >= 0 && idx < len(m.orderEvents) {
		atomic.AddUint64(&m.orderEvents[idx], 1)
	}
}

// ObserveMarketData counts a market data event and tracks the delay from the
// venue timestamp to receipt when both are present.
func (m *Metrics) ObserveMarketData(msg any) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.marketData, 1)

	tsEvent, tsInit := timestamps(msg)
	if tsEvent > 0 && tsInit > 0 {
		if delta := tsInit - tsEvent; delta >= 0 {
			m.dataLatency.Observe(time.Duration(delta))
		}
	}
}

func timestamps(msg any) (int64, int64) {
	switch v := msg.(type) {
	case model.Quote:
		return v.TsEvent, v.TsInit
	case model.Trade:
		return v.TsEvent, v.TsInit
	case model.BookDeltas:
		return v.TsEvent, v.TsInit
	case model.Depth:
		return v.TsEvent, v.TsInit
	case model.MarkPrice:
		return v.TsEvent, v.TsInit
	case model.IndexPrice:
		return v.TsEvent, v.TsInit
	default:
		return 0, 0
	}
}

// TrackSession includes the stats of a session in snapshots.
func (m *Metrics) TrackSession(name string, stats func() websocket.Stats) {
	m.mu.Lock()
	m.sessions[name] = stats
	m.mu.Unlock()
}

// TrackFeed sums the drop counter of a feed into snapshots.
func (m *Metrics) TrackFeed(dropped func() uint64) {
	m.mu.Lock()
	m.feeds = append(m.feeds, dropped)
	m.mu.Unlock()
}

// TrackQueue reports the depth of an inbound queue in snapshots.
func (m *Metrics) TrackQueue(q *bus.Queue) {
	m.mu.Lock()
	m.queues = append(m.queues, q)
	m.mu.Unlock()
}

// Attach subscribes the metrics to market data and order events on b and
// includes its publish counts in snapshots.
func (m *Metrics) Attach(b *bus.MessageBus) error {
	if err := b.Subscribe("data.*.*.*", "obs.metrics", func(_ string, msg any) {
		m.ObserveMarketData(msg)
	}, -100); err != nil {
		return err
	}
	if err := b.Subscribe("events.order.*", "obs.metrics", func(_ string, msg any) {
		if ev, ok := msg.(model.OrderEvent); ok {
			m.ObserveOrderEvent(ev)
		}
	}, -100); err != nil {
		return err
	}

	m.mu.Lock()
	m.buses = append(m.buses, b)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	statusCounts := make(map[int]uint64)
	for i := range m.statusCounts {
		if v := atomic.LoadUint64(&m.statusCounts[i]); v > 0 {
			statusCounts[i] = v
		}
	}
	orderEvents := make(map[model.OrderEventKind]uint64)
	for i := range m.orderEvents {
		if v := atomic.LoadUint64(&m.orderEvents[i]); v > 0 {
			orderEvents[model.OrderEventKind(i)] = v
		}
	}
	transitions := make(map[websocket.State]uint64)
	for i := range m.transitions {
		if v := atomic.LoadUint64(&m.transitions[i]); v > 0 {
			transitions[websocket.State(i)] = v
		}
	}

	snap := Snapshot{
		StatusCounts:     statusCounts,
		Retries:          atomic.LoadUint64(&m.retries),
		OrderEvents:      orderEvents,
		StateTransitions: transitions,
		MarketData:       atomic.LoadUint64(&m.marketData),
		Sessions:         make(map[string]websocket.Stats),
		RequestLatency:   m.requestLatency.Snapshot(),
		DataLatency:      m.dataLatency.Snapshot(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, stats := range m.sessions {
		snap.Sessions[name] = stats()
	}
	for _, dropped := range m.feeds {
		snap.FeedDropped += dropped()
	}
	for _, q := range m.queues {
		snap.Queued += q.Len()
	}
	for _, b := range m.buses {
		published, sent := b.Counts()
		snap.Published += published
		snap.Sent += sent
	}
	return snap
}

// String renders the snapshot on one line for periodic logging.
func (s Snapshot) String() string {
	var sb strings.Builder
	sb.WriteString("data=")
	sb.WriteString(uitoa(s.MarketData))
	sb.WriteString(" published=")
	sb.WriteString(uitoa(s.Published))
	sb.WriteString(" queued=")
	sb.WriteString(strconv.Itoa(s.Queued))
	sb.WriteString(" feed_dropped=")
	sb.WriteString(uitoa(s.FeedDropped))
	sb.WriteString(" retries=")
	sb.WriteString(uitoa(s.Retries))
	sb.WriteString(" data_latency_avg=")
	sb.WriteString(s.DataLatency.Avg.String())
	sb.WriteString(" request_latency_avg=")
	sb.WriteString(s.RequestLatency.Avg.String())

	names := make([]string, 0, len(s.Sessions))
	for name := range s.Sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Sessions[name]
		sb.WriteString(" ")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(st.State.String())
		sb.WriteString("/in:")
		sb.WriteString(uitoa(st.FramesIn))
		sb.WriteString("/reconnects:")
		sb.WriteString(uitoa(st.Reconnects))
	}
	return sb.String()
}

func uitoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
