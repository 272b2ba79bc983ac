package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arshiaxbt/Valshi/internal/auth"
)

// Conn is a single live WebSocket connection to the feed.
type Conn interface {
	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Frames returns the channel of inbound frames.
	Frames() <-chan RawMessage

	// Errors returns the channel of connection errors.
	// A stale keepalive surfaces here as ErrStale.
	Errors() <-chan error

	// Done is closed when the connection has been torn down.
	Done() <-chan struct{}

	// Close tears the connection down.
	Close() error
}

// client implements Conn over gorilla/websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	session uint64

	frames chan RawMessage
	errs   chan error
	done   chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	lastPong time.Time
	closed   bool
}

// Dial establishes an authenticated WebSocket connection. The
// handshake is signed with the feed's private-key scheme when signer
// is non-nil. A 401/403 handshake rejection is reported as ErrAuth.
func Dial(ctx context.Context, cfg ClientConfig, signer *auth.Signer, session uint64, logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if signer != nil {
		signed, err := signer.WebSocketHeaders()
		if err != nil {
			return nil, fmt.Errorf("sign handshake: %w", err)
		}
		for k, v := range signed {
			header.Set(k, v)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuth, resp.StatusCode)
		}
		return nil, err
	}

	c := &client{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		session:  session,
		frames:   make(chan RawMessage, cfg.BufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}

	// The feed pings us; answer and refresh liveness either way.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.keepaliveLoop()

	logger.Debug("websocket connected", "url", cfg.URL, "session", session)
	return c, nil
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the inbound frame channel.
func (c *client) Frames() <-chan RawMessage {
	return c.frames
}

// Errors returns the error channel.
func (c *client) Errors() <-chan error {
	return c.errs
}

// Done is closed when the connection has been torn down.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// readLoop reads frames off the wire into the frames channel.
func (c *client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done: // errors after Close are expected
			default:
				select {
				case c.errs <- err:
				default:
				}
			}
			return
		}

		msg := RawMessage{
			Data:       data,
			ReceivedAt: receivedAt,
			Session:    c.session,
		}

		select {
		case c.frames <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame", "session", c.session)
		}
	}
}

// keepaliveLoop pings the feed and reports a stale connection when
// neither a ping nor a pong has been seen within PingTimeout.
func (c *client) keepaliveLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			last := c.lastPong
			c.mu.Unlock()

			if time.Since(last) > c.cfg.PingTimeout {
				c.logger.Warn("keepalive expired, treating connection as lost",
					"last_pong", last,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errs <- ErrStale:
				default:
				}
				return
			}
		}
	}
}
