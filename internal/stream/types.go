package stream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrAuth         = errors.New("authentication rejected")
	ErrStale        = errors.New("connection stale (no pong)")
	ErrTimeout      = errors.New("command timeout")
	ErrClosed       = errors.New("stream closed")
)

// State is the observable connection state of the session.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// RawMessage is a data frame handed from the session to the router.
type RawMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when the frame was read
	Session    uint64    // Session counter, bumps on every reconnect
}

// Command is an outbound command frame.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// UnsubscribeParams are parameters for an unsubscribe command.
type UnsubscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// Response is a command response from the feed.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// SubscribedMsg is the payload of a "subscribed" response.
type SubscribedMsg struct {
	SID     int64  `json:"sid"`
	Channel string `json:"channel"`
}

// ErrorMsg is the payload of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig configures a single WebSocket connection.
type ClientConfig struct {
	URL          string        // Feed WebSocket URL
	PingInterval time.Duration // How often to send keepalive pings
	PingTimeout  time.Duration // Max silence before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound frame channel capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	Client             ClientConfig
	CommandTimeout     time.Duration // Timeout for correlated commands
	ReconnectBaseDelay time.Duration // First backoff delay
	ReconnectMaxDelay  time.Duration // Backoff cap
	OutputBufferSize   int           // Capacity of the router-bound channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:             DefaultClientConfig(),
		CommandTimeout:     10 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		OutputBufferSize:   100000,
	}
}
