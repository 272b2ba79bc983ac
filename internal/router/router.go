package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/arshiaxbt/Valshi/internal/stream"
)

// CacheSink receives parsed market-state events. Implemented by the
// market cache; calls must be non-blocking in-memory operations.
type CacheSink interface {
	ApplyTrade(msg TradeMsg)
	ApplyTicker(msg TickerMsg)
	ApplyDepth(msg DepthMsg)
}

// Router parses raw frames and routes them by type.
type Router struct {
	cfg    Config
	logger *slog.Logger

	input <-chan stream.RawMessage
	cache CacheSink

	// Output to the ingest pipeline.
	trades *BoundedBuffer[TradeMsg]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	received    int64
	routed      int64
	parseErrors int64
	unknown     int64
}

// New creates a router reading from the stream manager's frame channel.
func New(cfg Config, input <-chan stream.RawMessage, cache CacheSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		input:  input,
		cache:  cache,
		trades: NewBoundedBuffer[TradeMsg](cfg.TradeBufferSize),
	}
}

// Start begins routing.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started", "trade_buffer", r.cfg.TradeBufferSize)
	return nil
}

// Stop shuts the router down and closes its output buffer.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.trades.Close()
	return nil
}

// Trades returns the buffer consumed by the ingest pipeline.
func (r *Router) Trades() *BoundedBuffer[TradeMsg] {
	return r.trades
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Received:    r.received,
		Routed:      r.routed,
		ParseErrors: r.parseErrors,
		Unknown:     r.unknown,
		TradeBuffer: r.trades.Stats(),
	}
}

func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("frame channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route parses and dispatches a single frame.
func (r *Router) route(raw stream.RawMessage) {
	r.count(&r.received)

	var env frameEnvelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		r.logger.Warn("unparseable frame", "error", err)
		r.count(&r.parseErrors)
		return
	}

	switch env.Type {
	case "trade":
		var wire tradeWire
		if err := json.Unmarshal(raw.Data, &wire); err != nil {
			r.logger.Warn("failed to parse trade frame", "error", err)
			r.count(&r.parseErrors)
			return
		}
		msg := TradeMsg{
			Ticker:          wire.Msg.MarketTicker,
			TradeID:         wire.Msg.TradeID,
			Size:            wire.Msg.Count,
			YesPriceDollars: wire.Msg.YesPriceDollars,
			NoPriceDollars:  wire.Msg.NoPriceDollars,
			TakerSide:       wire.Msg.TakerSide,
			ExchangeTS:      wire.Msg.Ts * 1_000_000, // seconds → microseconds
			ReceivedAt:      raw.ReceivedAt,
		}
		r.cache.ApplyTrade(msg)
		r.trades.Send(msg)
		r.count(&r.routed)

	case "ticker":
		var wire tickerWire
		if err := json.Unmarshal(raw.Data, &wire); err != nil {
			r.logger.Warn("failed to parse ticker frame", "error", err)
			r.count(&r.parseErrors)
			return
		}
		r.cache.ApplyTicker(TickerMsg{
			Ticker:       wire.Msg.MarketTicker,
			PriceDollars: wire.Msg.PriceDollars,
			Volume24h:    wire.Msg.Volume24h,
			ExchangeTS:   wire.Msg.Ts * 1_000_000,
			ReceivedAt:   raw.ReceivedAt,
		})
		r.count(&r.routed)

	case "orderbook_delta":
		var wire depthWire
		if err := json.Unmarshal(raw.Data, &wire); err != nil {
			r.logger.Warn("failed to parse depth frame", "error", err)
			r.count(&r.parseErrors)
			return
		}
		r.cache.ApplyDepth(DepthMsg{
			Ticker:       wire.Msg.MarketTicker,
			PriceDollars: wire.Msg.PriceDollars,
			Delta:        wire.Msg.Delta,
			Side:         wire.Msg.Side,
			ExchangeTS:   wire.Msg.Ts * 1_000_000,
			ReceivedAt:   raw.ReceivedAt,
		})
		r.count(&r.routed)

	default:
		r.logger.Debug("skipping frame type", "type", env.Type)
		r.count(&r.unknown)
	}
}

func (r *Router) count(field *int64) {
	r.mu.Lock()
	*field++
	r.mu.Unlock()
}
