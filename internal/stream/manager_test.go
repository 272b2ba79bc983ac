package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn for driving the manager in tests.
type fakeConn struct {
	mu          sync.Mutex
	sent        [][]byte
	frames      chan RawMessage
	errs        chan error
	done        chan struct{}
	closed      bool
	autoRespond bool // answer subscribe commands with "subscribed"
}

func newFakeConn(autoRespond bool) *fakeConn {
	return &fakeConn{
		frames:      make(chan RawMessage, 100),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
		autoRespond: autoRespond,
	}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrNotConnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	f.mu.Unlock()

	if f.autoRespond {
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err == nil {
			switch cmd.Cmd {
			case "subscribe":
				resp := fmt.Sprintf(`{"id":%d,"type":"subscribed","msg":{"sid":1,"channel":"x"}}`, cmd.ID)
				f.frames <- RawMessage{Data: []byte(resp), ReceivedAt: time.Now()}
			case "unsubscribe":
				resp := fmt.Sprintf(`{"id":%d,"type":"unsubscribed","msg":{}}`, cmd.ID)
				f.frames <- RawMessage{Data: []byte(resp), ReceivedAt: time.Now()}
			}
		}
	}
	return nil
}

func (f *fakeConn) Frames() <-chan RawMessage { return f.frames }
func (f *fakeConn) Errors() <-chan error      { return f.errs }
func (f *fakeConn) Done() <-chan struct{}     { return f.done }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.CommandTimeout = 100 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 4 * time.Millisecond
	cfg.OutputBufferSize = 100
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNextDelay_StrictlyIncreasingThenCapped(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	d := base
	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, d)
		d = nextDelay(d, max)
	}

	// 1s 2s 4s 8s 8s 8s: strictly increasing until the cap, then flat.
	for i := 1; i < len(delays); i++ {
		if delays[i-1] < max && delays[i] <= delays[i-1] {
			t.Errorf("delay %d (%v) not greater than delay %d (%v)", i, delays[i], i-1, delays[i-1])
		}
		if delays[i] > max {
			t.Errorf("delay %d (%v) exceeds cap %v", i, delays[i], max)
		}
	}
	if delays[len(delays)-1] != max {
		t.Errorf("final delay = %v, want cap %v", delays[len(delays)-1], max)
	}
}

func TestWithJitter_Range(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := withJitter(d)
		if j < d/2 || j >= d+d/2 {
			t.Fatalf("jittered delay %v outside [%v, %v)", j, d/2, d+d/2)
		}
	}
}

func TestManager_ReplaysSubscriptionsAfterFailedDials(t *testing.T) {
	subs := NewSubscriptionSet()
	subs.Add("trade")
	subs.Add("ticker", "MKT-A", "MKT-B")

	var mu sync.Mutex
	var attempts int
	var conn *fakeConn

	dial := func(ctx context.Context, session uint64) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 5 {
			return nil, errors.New("connection refused")
		}
		conn = newFakeConn(true)
		return conn, nil
	}

	m := NewManagerWithDialer(testManagerConfig(), subs, dial, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, 2*time.Second, m.Ready)

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 6 {
		t.Errorf("dial attempts = %d, want 6", got)
	}

	// The 6th (successful) session must carry every pre-existing
	// subscription in its subscribe frames.
	channels := map[string]bool{}
	var tickers []string
	for _, frame := range conn.sentFrames() {
		var cmd struct {
			Cmd    string          `json:"cmd"`
			Params SubscribeParams `json:"params"`
		}
		if err := json.Unmarshal(frame, &cmd); err != nil || cmd.Cmd != "subscribe" {
			continue
		}
		for _, ch := range cmd.Params.Channels {
			channels[ch] = true
		}
		tickers = append(tickers, cmd.Params.MarketTickers...)
	}

	if !channels["trade"] || !channels["ticker"] {
		t.Errorf("subscribe frames missing channels, got %v", channels)
	}
	if len(tickers) != 2 {
		t.Errorf("subscribe frames carry %d tickers, want 2", len(tickers))
	}
}

func TestManager_DropsDataFramesUntilReady(t *testing.T) {
	subs := NewSubscriptionSet()
	subs.Add("trade")

	conn := newFakeConn(false)
	dial := func(ctx context.Context, session uint64) (Conn, error) {
		return conn, nil
	}

	m := NewManagerWithDialer(testManagerConfig(), subs, dial, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	// Wait for the subscribe command to go out, then inject a data
	// frame before acknowledging it.
	waitFor(t, time.Second, func() bool { return len(conn.sentFrames()) > 0 })

	conn.frames <- RawMessage{Data: []byte(`{"type":"trade","msg":{"market_ticker":"EARLY"}}`), ReceivedAt: time.Now()}
	waitFor(t, time.Second, func() bool { return m.Stats().DroppedPreReady == 1 })

	if m.Ready() {
		t.Fatal("manager should not be ready before the subscribe ack")
	}

	// Acknowledge the subscribe; the session becomes ready.
	var cmd Command
	if err := json.Unmarshal(conn.sentFrames()[0], &cmd); err != nil {
		t.Fatalf("unmarshal subscribe frame: %v", err)
	}
	conn.frames <- RawMessage{
		Data:       []byte(fmt.Sprintf(`{"id":%d,"type":"subscribed","msg":{"sid":7,"channel":"trade"}}`, cmd.ID)),
		ReceivedAt: time.Now(),
	}

	waitFor(t, time.Second, m.Ready)

	conn.frames <- RawMessage{Data: []byte(`{"type":"trade","msg":{"market_ticker":"LATE"}}`), ReceivedAt: time.Now()}

	select {
	case msg := <-m.Frames():
		if string(msg.Data) != `{"type":"trade","msg":{"market_ticker":"LATE"}}` {
			t.Errorf("unexpected forwarded frame: %s", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("post-ready data frame was not forwarded")
	}

	if got := m.Stats().DroppedPreReady; got != 1 {
		t.Errorf("DroppedPreReady = %d, want 1", got)
	}
}

func TestManager_CommandTimeoutSignalsFallback(t *testing.T) {
	subs := NewSubscriptionSet() // empty: ready immediately

	conn := newFakeConn(false) // never acknowledges
	dial := func(ctx context.Context, session uint64) (Conn, error) {
		return conn, nil
	}

	m := NewManagerWithDialer(testManagerConfig(), subs, dial, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, time.Second, m.Ready)

	err := m.Subscribe("trade")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Subscribe error = %v, want ErrTimeout", err)
	}
}

func TestManager_ReconnectReplaysOnConnectionLoss(t *testing.T) {
	subs := NewSubscriptionSet()
	subs.Add("trade")

	var mu sync.Mutex
	var conns []*fakeConn

	dial := func(ctx context.Context, session uint64) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeConn(true)
		conns = append(conns, c)
		return c, nil
	}

	m := NewManagerWithDialer(testManagerConfig(), subs, dial, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, time.Second, m.Ready)

	// Kill the first session.
	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.errs <- ErrStale

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2
	})
	waitFor(t, 2*time.Second, m.Ready)

	mu.Lock()
	second := conns[1]
	mu.Unlock()

	found := false
	for _, frame := range second.sentFrames() {
		var cmd struct {
			Cmd    string          `json:"cmd"`
			Params SubscribeParams `json:"params"`
		}
		if json.Unmarshal(frame, &cmd) == nil && cmd.Cmd == "subscribe" {
			for _, ch := range cmd.Params.Channels {
				if ch == "trade" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("second session did not replay the trade subscription")
	}
	if m.Stats().Reconnects < 1 {
		t.Errorf("Reconnects = %d, want >= 1", m.Stats().Reconnects)
	}
}

func TestManager_UnsubscribeRemovesFromReplaySet(t *testing.T) {
	subs := NewSubscriptionSet()
	subs.Add("trade")
	subs.Add("ticker")

	conn := newFakeConn(true)
	dial := func(ctx context.Context, session uint64) (Conn, error) {
		return conn, nil
	}

	m := NewManagerWithDialer(testManagerConfig(), subs, dial, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	waitFor(t, time.Second, m.Ready)

	if err := m.Unsubscribe("ticker"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if subs.Len() != 1 {
		t.Errorf("desired set has %d channels, want 1", subs.Len())
	}

	found := false
	for _, frame := range conn.sentFrames() {
		var cmd struct {
			Cmd    string            `json:"cmd"`
			Params UnsubscribeParams `json:"params"`
		}
		if json.Unmarshal(frame, &cmd) == nil && cmd.Cmd == "unsubscribe" {
			if len(cmd.Params.Channels) == 1 && cmd.Params.Channels[0] == "ticker" {
				found = true
			}
		}
	}
	if !found {
		t.Error("no unsubscribe frame for the ticker channel was sent")
	}
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
