package router

import "time"

// Config holds router settings.
type Config struct {
	TradeBufferSize int // Capacity of the ingest-bound trade buffer
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		TradeBufferSize: 10000,
	}
}

// TradeMsg is a parsed trade frame.
type TradeMsg struct {
	Ticker          string
	TradeID         string
	Size            int    // Number of contracts (wire: "count")
	YesPriceDollars string // e.g. "0.52"
	NoPriceDollars  string // e.g. "0.48"
	TakerSide       string // "yes" or "no"
	ExchangeTS      int64  // Microseconds
	ReceivedAt      time.Time
}

// TickerMsg is a parsed ticker (best price/volume) frame.
type TickerMsg struct {
	Ticker       string
	PriceDollars string // Last traded price, e.g. "0.52"
	Volume24h    int64
	ExchangeTS   int64 // Microseconds
	ReceivedAt   time.Time
}

// DepthMsg is a parsed order-book depth change frame.
type DepthMsg struct {
	Ticker       string
	PriceDollars string
	Delta        int
	Side         string // "yes" or "no"
	ExchangeTS   int64  // Microseconds
	ReceivedAt   time.Time
}

// Stats contains router counters.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Unknown     int64
	TradeBuffer BufferStats
}

// Wire formats.

type frameEnvelope struct {
	Type string `json:"type"`
}

type tradeWire struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker    string `json:"market_ticker"`
		TradeID         string `json:"trade_id"`
		Count           int    `json:"count"`
		YesPriceDollars string `json:"yes_price_dollars"`
		NoPriceDollars  string `json:"no_price_dollars"`
		TakerSide       string `json:"taker_side"`
		Ts              int64  `json:"ts"` // Seconds
	} `json:"msg"`
}

type tickerWire struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		PriceDollars string `json:"price_dollars"`
		Volume24h    int64  `json:"volume_24h"`
		Ts           int64  `json:"ts"` // Seconds
	} `json:"msg"`
}

type depthWire struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		PriceDollars string `json:"price_dollars"`
		Delta        int    `json:"delta"`
		Side         string `json:"side"`
		Ts           int64  `json:"ts"` // Seconds
	} `json:"msg"`
}
