package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arshiaxbt/Valshi/internal/auth"
)

// DialFunc establishes one connection for a numbered session.
type DialFunc func(ctx context.Context, session uint64) (Conn, error)

// Manager owns the process-lifetime stream session. It dials,
// authenticates, replays subscriptions after every reconnect, and
// correlates command responses. Data frames from a session that has
// not finished its subscription replay are dropped; dedup downstream
// is the correctness backstop, READY gating is the freshness signal.
type Manager struct {
	cfg    ManagerConfig
	subs   *SubscriptionSet
	logger *slog.Logger
	dial   DialFunc

	out chan RawMessage

	connMu sync.Mutex
	conn   Conn

	state   atomic.Int32
	session atomic.Uint64

	pendingMu sync.Mutex
	pending   map[int64]chan Response
	cmdID     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnects      atomic.Int64
	droppedPreReady atomic.Int64
	droppedOverflow atomic.Int64
	forwarded       atomic.Int64
}

// ManagerStats is a point-in-time snapshot of session health.
type ManagerStats struct {
	State           State
	Session         uint64
	Reconnects      int64
	PendingCommands int
	Channels        int
	DroppedPreReady int64
	DroppedOverflow int64
	Forwarded       int64
}

// NewManager creates a session manager that dials the configured feed
// URL with signed handshakes.
func NewManager(cfg ManagerConfig, signer *auth.Signer, subs *SubscriptionSet, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := newManager(cfg, subs, logger)
	m.dial = func(ctx context.Context, session uint64) (Conn, error) {
		return Dial(ctx, cfg.Client, signer, session, logger)
	}
	return m
}

// NewManagerWithDialer creates a session manager with a custom dialer.
func NewManagerWithDialer(cfg ManagerConfig, subs *SubscriptionSet, dial DialFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := newManager(cfg, subs, logger)
	m.dial = dial
	return m
}

func newManager(cfg ManagerConfig, subs *SubscriptionSet, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		subs:    subs,
		logger:  logger,
		out:     make(chan RawMessage, cfg.OutputBufferSize),
		pending: make(map[int64]chan Response),
	}
}

// Start begins the session loop.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.state.Store(int32(StateConnecting))

	m.wg.Add(1)
	go m.run()

	m.logger.Info("stream manager started",
		"reconnect_base", m.cfg.ReconnectBaseDelay,
		"reconnect_max", m.cfg.ReconnectMaxDelay,
	)
	return nil
}

// Stop shuts the session down. In-flight correlated commands fail
// with ErrClosed rather than being left pending.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping stream manager")

	m.state.Store(int32(StateClosed))
	if m.cancel != nil {
		m.cancel()
	}

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.connMu.Unlock()

	m.failPending()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("stream manager stop timed out")
	}

	close(m.out)
	m.logger.Info("stream manager stopped")
	return nil
}

// Frames returns the channel of data frames for the router.
func (m *Manager) Frames() <-chan RawMessage {
	return m.out
}

// State returns the current session state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready reports whether the session is connected and fully
// re-subscribed.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Stats returns a snapshot of session counters.
func (m *Manager) Stats() ManagerStats {
	m.pendingMu.Lock()
	pending := len(m.pending)
	m.pendingMu.Unlock()

	return ManagerStats{
		State:           m.State(),
		Session:         m.session.Load(),
		Reconnects:      m.reconnects.Load(),
		PendingCommands: pending,
		Channels:        m.subs.Len(),
		DroppedPreReady: m.droppedPreReady.Load(),
		DroppedOverflow: m.droppedOverflow.Load(),
		Forwarded:       m.forwarded.Load(),
	}
}

// run is the process-lifetime session loop: dial, replay, serve,
// back off, repeat.
func (m *Manager) run() {
	defer m.wg.Done()

	delay := m.cfg.ReconnectBaseDelay

	for {
		if m.ctx.Err() != nil {
			return
		}

		session := m.session.Add(1)
		if session > 1 {
			m.state.Store(int32(StateReconnecting))
			m.reconnects.Add(1)
		} else {
			m.state.Store(int32(StateConnecting))
		}

		conn, err := m.dial(m.ctx, session)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrAuth) {
				m.logger.Error("feed rejected credentials, retrying", "session", session, "error", err)
			} else {
				m.logger.Warn("dial failed", "session", session, "error", err)
			}
			if !m.sleep(withJitter(delay)) {
				return
			}
			delay = nextDelay(delay, m.cfg.ReconnectMaxDelay)
			continue
		}

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()

		// Serve frames immediately so replay responses can resolve.
		sessionDone := make(chan struct{})
		m.wg.Add(1)
		go m.serve(conn, sessionDone)

		if err := m.replaySubscriptions(conn); err != nil {
			m.logger.Warn("subscription replay failed", "session", session, "error", err)
			conn.Close()
			<-sessionDone
			if !m.sleep(withJitter(delay)) {
				return
			}
			delay = nextDelay(delay, m.cfg.ReconnectMaxDelay)
			continue
		}

		m.state.Store(int32(StateReady))
		m.logger.Info("session ready", "session", session, "channels", m.subs.Len())

		// A session that came up healthy resets the backoff.
		delay = m.cfg.ReconnectBaseDelay

		select {
		case <-sessionDone:
		case <-m.ctx.Done():
			conn.Close()
			<-sessionDone
			return
		}
	}
}

// serve reads one session's frames until the connection dies.
func (m *Manager) serve(conn Conn, done chan<- struct{}) {
	defer m.wg.Done()
	defer close(done)

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-conn.Done():
			return

		case err := <-conn.Errors():
			m.logger.Warn("connection lost", "error", err)
			conn.Close()
			return

		case msg, ok := <-conn.Frames():
			if !ok {
				return
			}

			if resp, ok := parseResponse(msg.Data); ok {
				m.resolve(resp)
				continue
			}

			// No data frame is trusted until replay completes.
			if m.State() != StateReady {
				m.droppedPreReady.Add(1)
				continue
			}

			select {
			case m.out <- msg:
				m.forwarded.Add(1)
			case <-m.ctx.Done():
				return
			default:
				m.droppedOverflow.Add(1)
				m.logger.Warn("router buffer full, dropping frame")
			}
		}
	}
}

// replaySubscriptions re-sends the full desired subscription set.
// Interest added while the replay is running is replayed too: the loop
// repeats until the set's generation is stable.
func (m *Manager) replaySubscriptions(conn Conn) error {
	for {
		desired, gen := m.subs.Snapshot()

		for _, d := range desired {
			if err := m.subscribeOn(conn, d); err != nil {
				return fmt.Errorf("subscribe %s: %w", d.Channel, err)
			}
		}

		if m.subs.Generation() == gen {
			return nil
		}
		// New interest arrived mid-replay; go around again.
	}
}

// Subscribe registers interest and, when the session is live, sends
// the subscribe command immediately. The desired set is updated first
// so a concurrent reconnect can never lose the subscription.
func (m *Manager) Subscribe(channel string, tickers ...string) error {
	m.subs.Add(channel, tickers...)

	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()

	if conn == nil || m.State() != StateReady {
		return nil // replay will pick it up
	}
	return m.subscribeOn(conn, Desired{Channel: channel, Tickers: tickers})
}

// Unsubscribe withdraws interest. The desired set is updated first so
// a reconnect during the call cannot resurrect the subscription.
func (m *Manager) Unsubscribe(channel string, tickers ...string) error {
	m.subs.Remove(channel, tickers...)

	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()

	if conn == nil || m.State() != StateReady {
		return nil
	}
	_, err := m.command(conn, "unsubscribe", UnsubscribeParams{
		Channels:      []string{channel},
		MarketTickers: tickers,
	})
	return err
}

// subscribeOn sends one subscribe command and waits for its response.
func (m *Manager) subscribeOn(conn Conn, d Desired) error {
	resp, err := m.command(conn, "subscribe", SubscribeParams{
		Channels:      []string{d.Channel},
		MarketTickers: d.Tickers,
	})
	if err != nil {
		return err
	}

	var sub SubscribedMsg
	json.Unmarshal(resp.Msg, &sub)
	m.logger.Debug("subscribed", "channel", d.Channel, "tickers", len(d.Tickers), "sid", sub.SID)
	return nil
}

// command sends a correlated command and waits for the matching
// response. ErrTimeout tells the caller to use the REST fallback.
func (m *Manager) command(conn Conn, cmd string, params any) (Response, error) {
	id := m.cmdID.Add(1)
	respCh := make(chan Response, 1)

	m.pendingMu.Lock()
	m.pending[id] = respCh
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return Response{}, err
	}

	select {
	case <-m.ctx.Done():
		return Response{}, ErrClosed
	case <-time.After(m.cfg.CommandTimeout):
		return Response{}, ErrTimeout
	case resp, ok := <-respCh:
		if !ok {
			return Response{}, ErrClosed
		}
		if resp.Type == "error" {
			var em ErrorMsg
			json.Unmarshal(resp.Msg, &em)
			return Response{}, fmt.Errorf("feed error %s: %s", em.Code, em.Message)
		}
		return resp, nil
	}
}

// resolve hands a response to the goroutine waiting on its id.
func (m *Manager) resolve(resp Response) {
	m.pendingMu.Lock()
	ch, ok := m.pending[resp.ID]
	if ok {
		delete(m.pending, resp.ID)
	}
	m.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// failPending closes every waiter so blocked commands return ErrClosed.
func (m *Manager) failPending() {
	m.pendingMu.Lock()
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
	m.pendingMu.Unlock()
}

// sleep waits for d or until shutdown; false means shutting down.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// parseResponse reports whether a frame is a command response.
func parseResponse(data []byte) (Response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case "subscribed", "unsubscribed", "error", "ok":
		return resp, true
	}
	return Response{}, false
}

// nextDelay doubles the backoff up to the cap.
func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}

// withJitter spreads a delay over [0.5d, 1.5d).
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
