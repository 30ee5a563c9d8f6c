package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/pkg/backoff"
	"venuelink/pkg/exception"
)

var errReconnectRequested = errors.New("websocket: reconnect requested")

// Config defines one venue session.
type Config struct {
	// Name labels log lines and stats.
	Name   string
	URL    string
	Header http.Header

	Codec         Codec
	Authenticator Authenticator
	Dialer        Dialer

	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	ConnectTimeout   time.Duration
	ShutdownTimeout  time.Duration
	Reconnect        backoff.Config

	// ChunkSize caps the symbols carried by one subscribe frame.
	ChunkSize     int
	EventBuffer   int
	WriteBuffer   int
	WriteOverflow OverflowPolicy

	// OnMessage runs inline on the reader for every non-control message
	// before it is queued. An error that Is exception.ErrIntegrity tears the
	// connection down.
	OnMessage func(Message) error
	// ResnapshotOnIntegrity reconnects on integrity errors so the replayed
	// subscriptions deliver fresh snapshots. Otherwise the session fails.
	ResnapshotOnIntegrity bool
	// OnStateChange observes every transition.
	OnStateChange func(from, to State)
}

func (c *Config) normalize() error {
	if c.Codec == nil {
		return exception.ErrWebSocketNoCodec
	}
	if c.URL == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "websocket: empty url")
	}
	if c.Dialer == nil {
		c.Dialer = GorillaDialer{}
	}
	if c.Name == "" {
		c.Name = c.URL
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 2 * time.Second
	}
	if c.Reconnect == (backoff.Config{}) {
		c.Reconnect = backoff.DefaultReconnect()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1024
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 256
	}
	return nil
}

// Session owns one venue connection: state machine, subscription registry,
// heartbeats, reconnects and demultiplexing into Events.
type Session struct {
	cfg      Config
	registry *Registry
	// connect paces Connect; reconnect paces the background redial, whose
	// first attempt follows Reconnect.ImmediateFirst.
	connect   *backoff.RetryManager
	reconnect *backoff.RetryManager
	writer    *Writer
	events    chan Message

	state       atomic.Int32
	lastInbound atomic.Int64

	// lifeMu serializes Connect and Close.
	lifeMu sync.Mutex
	// subMu orders registry changes against replay and the Connected transition.
	subMu sync.Mutex

	cancel      context.CancelFunc
	done        chan struct{}
	closing     atomic.Bool
	closed      bool
	failErr     atomic.Pointer[error]
	reconnectCh chan struct{}
	eventsOnce  sync.Once

	reconnects   atomic.Uint64
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	decodeErrors atomic.Uint64
	delivered    atomic.Uint64
}

// NewSession validates cfg and builds a disconnected session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	connect, err := backoff.NewRetryManager(dialRetry(cfg.Reconnect, cfg.Reconnect.ImmediateFirst))
	if err != nil {
		return nil, err
	}
	reconnect, err := backoff.NewRetryManager(dialRetry(cfg.Reconnect, false))
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		connect:     connect,
		reconnect:   reconnect,
		registry:    NewRegistry(),
		writer:      NewWriter(cfg.WriteBuffer, cfg.WriteOverflow),
		events:      make(chan Message, cfg.EventBuffer),
		reconnectCh: make(chan struct{}, 1),
	}
	s.state.Store(int32(StateDisconnected))
	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	logs.Infof("websocket %s: %s -> %s", s.cfg.Name, from, to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

// Events delivers decoded messages. It is closed after Close or when the
// session fails.
func (s *Session) Events() <-chan Message {
	return s.events
}

// Registry exposes the subscription registry.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Err returns the error that moved the session to Failed.
func (s *Session) Err() error {
	if p := s.failErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Session) Stats() Stats {
	var last time.Time
	if ns := s.lastInbound.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		State:        s.State(),
		Reconnects:   s.reconnects.Load(),
		FramesIn:     s.framesIn.Load(),
		FramesOut:    s.framesOut.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Events:       s.delivered.Load(),
		LastInbound:  last,
	}
}

// Connect dials, authenticates and replays the registry. Transport failures
// are retried with backoff until ctx ends; auth and configuration failures
// move the session to Failed. Once connected, reconnects happen in the
// background.
func (s *Session) Connect(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.closed {
		return exception.ErrWebSocketClosed
	}
	switch s.State() {
	case StateFailed:
		return errors.Wrap(exception.ErrWebSocketFailed, "connect").With("cause", s.Err())
	case StateDisconnected:
	default:
		return nil
	}

	conn, err := s.dialLoop(ctx, false)
	if err != nil {
		if isFatal(err) {
			s.fail(err)
			s.closeEvents()
		} else {
			s.setState(StateDisconnected)
		}
		return err
	}

	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, conn, s.done)
	return nil
}

// Subscribe records interest in channel for symbols. The frame is sent when
// connected, otherwise it goes out with the next replay.
func (s *Session) Subscribe(ctx context.Context, channel string, symbols ...string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	added := s.registry.Add(channel, symbols)
	if len(added) == 0 || s.State() != StateConnected {
		return nil
	}

	chunks := chunk(added, s.cfg.ChunkSize)
	for i, part := range chunks {
		payload, err := s.cfg.Codec.EncodeSubscribe(channel, part, i == len(chunks)-1)
		if err != nil {
			return errors.Wrap(err, "encode subscribe").With("channel", channel)
		}
		if err := s.writer.Send(ctx, MessageText, payload); err != nil {
			if errors.Is(err, exception.ErrWebSocketNotConnected) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Unsubscribe drops interest in channel for symbols.
func (s *Session) Unsubscribe(ctx context.Context, channel string, symbols ...string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	removed := s.registry.Remove(channel, symbols)
	if len(removed) == 0 {
		return nil
	}
	if s.State() != StateConnected {
		s.registry.Forget(channel, removed)
		return nil
	}

	for _, part := range chunk(removed, s.cfg.ChunkSize) {
		payload, err := s.cfg.Codec.EncodeUnsubscribe(channel, part)
		if err != nil {
			return errors.Wrap(err, "encode unsubscribe").With("channel", channel)
		}
		if err := s.writer.Send(ctx, MessageText, payload); err != nil {
			if errors.Is(err, exception.ErrWebSocketNotConnected) {
				s.registry.Forget(channel, removed)
				return nil
			}
			return err
		}
	}
	return nil
}

// Reconnect drops the current connection and reconnects with replay.
func (s *Session) Reconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// Close sends a normal close frame, stops background tasks and closes
// Events. The session cannot be reconnected afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.cancel == nil || s.done == nil {
		if s.State() != StateFailed {
			s.setState(StateDisconnected)
		}
		s.closeEvents()
		return nil
	}

	if s.State() != StateFailed {
		s.setState(StateDisconnecting)
	}
	s.closing.Store(true)
	s.cancel()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-s.done:
		s.closeEvents()
	case <-timer.C:
		err = errors.Errorf("websocket %s: shutdown timeout %s", s.cfg.Name, s.cfg.ShutdownTimeout)
		logs.Infof("warn: %+v", err)
	case <-ctx.Done():
		err = ctx.Err()
	}

	if s.State() != StateFailed {
		s.setState(StateDisconnected)
	}
	return err
}

func (s *Session) closeEvents() {
	s.eventsOnce.Do(func() {
		close(s.events)
	})
}

func (s *Session) fail(err error) {
	s.failErr.Store(&err)
	s.setState(StateFailed)
	logs.Errorf("websocket %s: session failed, err: %+v", s.cfg.Name, err)
}

func isFatal(err error) bool {
	return errors.Is(err, exception.ErrAuth) || errors.Is(err, exception.ErrConfiguration)
}

// run supervises the connection until Close, a fatal error or a normal
// close from the venue.
func (s *Session) run(ctx context.Context, conn Conn, done chan struct{}) {
	defer func() {
		if s.closing.Load() || s.State() == StateFailed {
			s.closeEvents()
		}
		close(done)
	}()

	for {
		err := s.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		if ce, ok := err.(*CloseError); ok && ce.Code == CloseNormal {
			logs.Infof("websocket %s: closed by venue", s.cfg.Name)
			s.setState(StateDisconnected)
			return
		}
		if isFatal(err) || (errors.Is(err, exception.ErrIntegrity) && !s.cfg.ResnapshotOnIntegrity) {
			s.fail(err)
			return
		}

		logs.Infof("warn: websocket %s: connection lost, reconnecting, err: %+v", s.cfg.Name, err)
		s.setState(StateReconnecting)
		s.reconnects.Add(1)

		conn, err = s.dialLoop(ctx, true)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
	}
}

// dialRetry lays the reconnect backoff over the connect preset. Dialing never
// gives up on its own; establish bounds each attempt with ConnectTimeout.
func dialRetry(b backoff.Config, immediateFirst bool) backoff.RetryConfig {
	rc := backoff.WebSocketRetryConfig()
	rc.MaxRetries = backoff.Unbounded
	rc.MaxElapsed = 0
	rc.OperationTimeout = 0
	rc.InitialDelay = b.Initial
	rc.MaxDelay = b.Max
	rc.Factor = b.Factor
	rc.JitterMs = b.JitterMs
	rc.ImmediateFirst = immediateFirst
	return rc
}

// dialLoop establishes a connection, pacing attempts with the reconnect
// backoff. Only fatal errors and ctx end the loop.
func (s *Session) dialLoop(ctx context.Context, redial bool) (Conn, error) {
	retry := s.connect
	if redial {
		retry = s.reconnect
		if !s.cfg.Reconnect.ImmediateFirst {
			if err := backoff.SleepContext(ctx, s.cfg.Reconnect.Initial); err != nil {
				return nil, err
			}
		}
	}

	var conn Conn
	err := retry.ExecutePolicy(ctx, "websocket "+s.cfg.Name+" connect", func(ctx context.Context) error {
		c, err := s.establish(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.Policy{
		ShouldRetry: func(err error) bool { return !isFatal(err) },
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// establish runs Connecting -> Authenticating -> Connected on one connection.
// Replay frames are written before the reader starts so the venue sees every
// subscription ahead of any user traffic.
func (s *Session) establish(ctx context.Context) (Conn, error) {
	s.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.cfg.Dialer.Dial(connectCtx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		return nil, err
	}

	// unblock reads in the authenticator when the connect deadline passes
	stop := context.AfterFunc(connectCtx, func() {
		_ = conn.Close(CloseGoingAway, "connect timeout")
	})

	fail := func(err error) (Conn, error) {
		if stop() {
			_ = conn.Close(CloseGoingAway, "")
		}
		if connectCtx.Err() != nil && !isFatal(err) {
			return nil, errors.Wrap(exception.ErrTransport, "connect timeout").With("cause", err)
		}
		return nil, err
	}

	s.setState(StateAuthenticating)
	if s.cfg.Authenticator != nil {
		if err := s.cfg.Authenticator.Authenticate(connectCtx, conn); err != nil {
			return fail(err)
		}
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if err := s.replay(conn); err != nil {
		return fail(err)
	}
	if !stop() {
		return nil, errors.Wrap(exception.ErrTransport, "connect timeout")
	}

	s.touch()
	s.writer.Drain()
	s.writer.SetConnected(true)
	s.setState(StateConnected)
	return conn, nil
}

func (s *Session) replay(conn Conn) error {
	groups := s.registry.Replay()

	type frame struct {
		channel string
		symbols []string
	}
	var frames []frame
	for _, group := range groups {
		for _, part := range chunk(group.Symbols, s.cfg.ChunkSize) {
			frames = append(frames, frame{group.Channel, part})
		}
	}

	for i, f := range frames {
		payload, err := s.cfg.Codec.EncodeSubscribe(f.channel, f.symbols, i == len(frames)-1)
		if err != nil {
			return errors.Wrap(err, "encode replay").With("channel", f.channel)
		}
		if err := conn.WriteMessage(MessageText, payload); err != nil {
			return errors.Wrap(exception.ErrTransport, err.Error())
		}
		s.framesOut.Add(1)
	}

	if len(frames) != 0 {
		logs.Infof("websocket %s: replayed %d subscription frames", s.cfg.Name, len(frames))
	}
	return nil
}

func (s *Session) touch() {
	s.lastInbound.Store(time.Now().UnixNano())
}

// serve runs the writer, heartbeat and reader for one connection and
// returns the reason it ended.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	readCtx, cancel := context.WithCancel(ctx)
	readErr := make(chan error, 1)
	var wg sync.WaitGroup

	conn.SetHeartbeatHandler(s.touch)

	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- s.readLoop(readCtx, conn)
	}()

	defer func() {
		s.writer.SetConnected(false)
		cancel()
		code, reason := CloseGoingAway, "reconnect"
		if ctx.Err() != nil {
			code, reason = CloseNormal, ""
		}
		_ = conn.Close(code, reason)
		wg.Wait()
		if n := s.writer.Drain(); n != 0 {
			logs.Infof("warn: websocket %s: dropped %d unsent frames", s.cfg.Name, n)
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	check := time.NewTicker(max(s.cfg.HeartbeatTimeout/4, time.Millisecond))
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-s.reconnectCh:
			return errReconnectRequested
		case frame := <-s.writer.Queue():
			err := conn.WriteMessage(frame.MsgType, frame.Buf)
			frame.Release()
			if err != nil {
				return errors.Wrap(exception.ErrTransport, err.Error())
			}
			s.framesOut.Add(1)
		case <-ping.C:
			if err := conn.WriteMessage(MessagePing, nil); err != nil {
				return errors.Wrap(exception.ErrTransport, err.Error())
			}
		case now := <-check.C:
			idle := now.Sub(time.Unix(0, s.lastInbound.Load()))
			if idle > s.cfg.HeartbeatTimeout {
				return errors.Wrap(exception.ErrWebSocketHeartbeat, idle.String())
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ce, ok := err.(*CloseError); ok {
				if ce.Code == CloseNormal {
					return ce
				}
				return errors.Wrap(exception.ErrWebSocketConnectionClose, ce.Error())
			}
			return errors.Wrap(exception.ErrTransport, err.Error())
		}

		s.touch()
		s.framesIn.Add(1)
		if len(payload) == 0 || (msgType != MessageText && msgType != MessageBinary) {
			continue
		}

		msgs, err := s.cfg.Codec.Decode(payload)
		if err != nil {
			s.decodeErrors.Add(1)
			logs.Errorf("websocket %s: decode frame, err: %+v", s.cfg.Name, err)
			continue
		}

		tsInit := time.Now().UnixNano()
		for _, msg := range msgs {
			msg.TsInit = tsInit
			if err := s.dispatch(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindSubscriptionAck:
		if msg.Ack != nil {
			s.registry.Confirm(*msg.Ack)
			if !msg.Ack.Success {
				logs.Errorf("websocket %s: subscription rejected, channel: %s, symbols: %v, reason: %s",
					s.cfg.Name, msg.Ack.Channel, msg.Ack.Symbols, msg.Ack.Reason)
			}
		}
		return nil
	case KindAuth, KindHeartbeat:
		return nil
	case KindError:
		return errors.Wrap(exception.ErrWebSocketProtocol, string(msg.Payload)).With("topic", msg.Topic)
	}

	if s.cfg.OnMessage != nil {
		if err := s.cfg.OnMessage(msg); err != nil {
			if errors.Is(err, exception.ErrIntegrity) {
				return err
			}
			logs.Errorf("websocket %s: handle %s message, topic: %s, err: %+v", s.cfg.Name, msg.Kind, msg.Topic, err)
		}
	}

	// blocking send pauses reads while the consumer is behind
	select {
	case s.events <- msg:
		s.delivered.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
