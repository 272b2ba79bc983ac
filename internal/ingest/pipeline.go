// Package ingest turns routed trade messages into price history and
// alert jobs.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arshiaxbt/Valshi/internal/cache"
	"github.com/arshiaxbt/Valshi/internal/model"
	"github.com/arshiaxbt/Valshi/internal/router"
)

// HistoryAppender records price points. Append reports false for a
// point that was already stored.
type HistoryAppender interface {
	AppendPricePoint(ctx context.Context, p model.PricePoint) (bool, error)
}

// MarketGetter resolves market context for alert enrichment.
type MarketGetter interface {
	Get(ctx context.Context, ticker string) (model.Market, cache.Source, error)
}

// SubscriberLister returns the profiles to evaluate a trade against.
type SubscriberLister interface {
	ListEnabled(ctx context.Context) ([]model.SubscriberProfile, error)
}

// AlertSink receives one job per qualifying trade with its matches.
type AlertSink interface {
	Deliver(ctx context.Context, job model.AlertJob, matches []model.SubscriberProfile)
}

// Config holds pipeline settings.
type Config struct {
	MinNotionalUSD float64 // Trades below this are dropped before recording
	DedupWindow    int     // Trade keys remembered across reconnects
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MinNotionalUSD: 500,
		DedupWindow:    8192,
	}
}

// Stats contains pipeline counters.
type Stats struct {
	Consumed      int64
	Duplicates    int64
	BelowFloor    int64
	Recorded      int64
	HistoryErrors int64
	AlertsIssued  int64
}

// Pipeline consumes trades from the router buffer, dedups them,
// persists qualifying prints, and evaluates subscriber alerts.
// Profiles are re-read per trade so settings changes apply to the
// next qualifying trade without a restart.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	input   *router.BoundedBuffer[router.TradeMsg]
	dedup   *Window
	history HistoryAppender
	markets MarketGetter
	subs    SubscriberLister
	alerts  AlertSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq atomic.Int64

	mu    sync.Mutex
	stats Stats
}

// New creates a pipeline.
func New(
	cfg Config,
	input *router.BoundedBuffer[router.TradeMsg],
	history HistoryAppender,
	markets MarketGetter,
	subs SubscriberLister,
	alerts AlertSink,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		input:   input,
		dedup:   NewWindow(cfg.DedupWindow),
		history: history,
		markets: markets,
		subs:    subs,
		alerts:  alerts,
	}
}

// Start begins consuming trades.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.consumeLoop()

	p.logger.Info("ingest pipeline started",
		"min_notional_usd", p.cfg.MinNotionalUSD,
		"dedup_window", p.cfg.DedupWindow,
	)
	return nil
}

// Stop shuts the pipeline down.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingest pipeline stopped")
	case <-ctx.Done():
		p.logger.Warn("ingest pipeline stop timed out")
	}
	return nil
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pipeline) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			msg, ok := p.input.TryReceive()
			if !ok {
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			p.handle(msg)
		}
	}
}

// handle processes a single trade end to end.
func (p *Pipeline) handle(msg router.TradeMsg) {
	p.count(func(s *Stats) { s.Consumed++ })

	trade := toTrade(msg)

	if p.dedup.Observe(trade.Ticker + ":" + trade.TradeID) {
		p.count(func(s *Stats) { s.Duplicates++ })
		return
	}

	notional := trade.Notional()
	if notional < p.cfg.MinNotionalUSD {
		p.count(func(s *Stats) { s.BelowFloor++ })
		return
	}

	// Persistence failure must not block alerting; the database
	// conflict check is the second line of defence against replays.
	recorded := true
	inserted, err := p.history.AppendPricePoint(p.ctx, model.PricePoint{
		Ticker:   trade.Ticker,
		TradeID:  trade.TradeID,
		Price:    trade.Price,
		Size:     trade.Size,
		Side:     trade.TakerSide,
		Notional: notional,
		TS:       trade.ExchangeTS,
	})
	switch {
	case err != nil:
		recorded = false
		p.count(func(s *Stats) { s.HistoryErrors++ })
		p.logger.Error("price history append failed",
			"ticker", trade.Ticker,
			"trade_id", trade.TradeID,
			"error", err,
		)
	case !inserted:
		p.count(func(s *Stats) { s.Duplicates++ })
		return
	}
	if recorded {
		p.count(func(s *Stats) { s.Recorded++ })
	}

	p.evaluate(trade, notional)
}

// evaluate matches a qualifying trade against current profiles and
// hands one job to the fanout.
func (p *Pipeline) evaluate(trade model.Trade, notional float64) {
	market, _, err := p.markets.Get(p.ctx, trade.Ticker)
	if err != nil {
		// Alert with bare context rather than dropping the trade.
		p.logger.Warn("market context unavailable",
			"ticker", trade.Ticker,
			"error", err,
		)
		market = model.Market{Ticker: trade.Ticker}
	}

	profiles, err := p.subs.ListEnabled(p.ctx)
	if err != nil {
		p.logger.Error("subscriber lookup failed", "error", err)
		return
	}

	var matches []model.SubscriberProfile
	for _, prof := range profiles {
		if prof.Matches(notional, market.Tags) {
			matches = append(matches, prof)
		}
	}
	if len(matches) == 0 {
		return
	}

	job := model.AlertJob{
		ID:       uuid.New(),
		Seq:      p.seq.Add(1),
		Trade:    trade,
		Notional: notional,
		Market:   market,
	}
	p.alerts.Deliver(p.ctx, job, matches)
	p.count(func(s *Stats) { s.AlertsIssued++ })
}

// toTrade converts a routed message, pricing the taker side: a yes
// taker pays the yes price, a no taker pays its complement.
func toTrade(msg router.TradeMsg) model.Trade {
	yes := model.ParseDollars(msg.YesPriceDollars)
	price := yes
	if msg.TakerSide == "no" {
		if no := model.ParseDollars(msg.NoPriceDollars); no > 0 {
			price = no
		} else {
			price = 1 - yes
		}
	}
	return model.Trade{
		Ticker:     msg.Ticker,
		TradeID:    msg.TradeID,
		Price:      price,
		Size:       msg.Size,
		TakerSide:  msg.TakerSide,
		ExchangeTS: msg.ExchangeTS,
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
	}
}

func (p *Pipeline) count(update func(*Stats)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}
