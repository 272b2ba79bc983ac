// Package trend computes ranked views over the recorded price history:
// movers, activity leaders, daily summaries, and large prints.
package trend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arshiaxbt/Valshi/internal/config"
	"github.com/arshiaxbt/Valshi/internal/model"
)

// HistoryReader is the slice of the history store the aggregator needs.
type HistoryReader interface {
	ReadWindow(ctx context.Context, since int64) ([]model.PricePoint, error)
	TopPrints(ctx context.Context, since int64, limit int) ([]model.PricePoint, error)
	RecentPrints(ctx context.Context, limit int) ([]model.PricePoint, error)
}

// Aggregator computes trend views on demand. Queries read the shared
// history; nothing here mutates state.
type Aggregator struct {
	history HistoryReader
	window  time.Duration
	topN    int
	loc     *time.Location
	logger  *slog.Logger

	now func() time.Time // injectable for tests
}

// New creates an aggregator.
func New(history HistoryReader, cfg config.TrendConfig, logger *slog.Logger) (*Aggregator, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		history: history,
		window:  cfg.Window,
		topN:    cfg.TopN,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Gainers returns the top movers by percentage gain over the window.
// Markets with fewer than two points in the window have no measurable
// move and are excluded.
func (a *Aggregator) Gainers(ctx context.Context) ([]model.Mover, error) {
	movers, err := a.movers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(movers, func(i, j int) bool {
		if movers[i].ChangePct != movers[j].ChangePct {
			return movers[i].ChangePct > movers[j].ChangePct
		}
		return movers[i].Notional > movers[j].Notional
	})
	return truncate(movers, a.topN), nil
}

// Losers returns the top movers by percentage loss over the window.
func (a *Aggregator) Losers(ctx context.Context) ([]model.Mover, error) {
	movers, err := a.movers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(movers, func(i, j int) bool {
		if movers[i].ChangePct != movers[j].ChangePct {
			return movers[i].ChangePct < movers[j].ChangePct
		}
		return movers[i].Notional > movers[j].Notional
	})
	return truncate(movers, a.topN), nil
}

// MostActive returns markets ranked by window notional volume.
func (a *Aggregator) MostActive(ctx context.Context) ([]model.ActiveMarket, error) {
	points, err := a.readWindow(ctx)
	if err != nil {
		return nil, err
	}

	byTicker := make(map[string]*model.ActiveMarket)
	var order []string
	for _, p := range points {
		m, ok := byTicker[p.Ticker]
		if !ok {
			m = &model.ActiveMarket{Ticker: p.Ticker}
			byTicker[p.Ticker] = m
			order = append(order, p.Ticker)
		}
		m.Trades++
		m.Notional += p.Notional
	}

	active := make([]model.ActiveMarket, 0, len(order))
	for _, ticker := range order {
		active = append(active, *byTicker[ticker])
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Notional != active[j].Notional {
			return active[i].Notional > active[j].Notional
		}
		return active[i].Trades > active[j].Trades
	})
	return truncate(active, a.topN), nil
}

// Daily summarizes activity per calendar day in the configured
// timezone, covering the most recent days, oldest first.
func (a *Aggregator) Daily(ctx context.Context, days int) ([]model.DailySummary, error) {
	if days < 1 {
		days = 1
	}
	now := a.now().In(a.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc).AddDate(0, 0, -(days - 1))

	points, err := a.history.ReadWindow(ctx, start.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("read history window: %w", err)
	}

	type bucket struct {
		trades   int
		notional float64
		tickers  map[string]struct{}
	}
	byDay := make(map[time.Time]*bucket)
	for _, p := range points {
		ts := time.UnixMicro(p.TS).In(a.loc)
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, a.loc)
		b, ok := byDay[day]
		if !ok {
			b = &bucket{tickers: make(map[string]struct{})}
			byDay[day] = b
		}
		b.trades++
		b.notional += p.Notional
		b.tickers[p.Ticker] = struct{}{}
	}

	summaries := make([]model.DailySummary, 0, len(byDay))
	for day, b := range byDay {
		summaries = append(summaries, model.DailySummary{
			Day:      day,
			Trades:   b.trades,
			Markets:  len(b.tickers),
			Notional: b.notional,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Day.Before(summaries[j].Day)
	})
	return summaries, nil
}

// TopPrints returns the largest trades by notional over the window.
func (a *Aggregator) TopPrints(ctx context.Context) ([]model.Print, error) {
	since := a.now().Add(-a.window).UnixMicro()
	points, err := a.history.TopPrints(ctx, since, a.topN)
	if err != nil {
		return nil, fmt.Errorf("read top prints: %w", err)
	}
	return toPrints(points), nil
}

// Recent returns the newest trades first.
func (a *Aggregator) Recent(ctx context.Context) ([]model.Print, error) {
	points, err := a.history.RecentPrints(ctx, a.topN)
	if err != nil {
		return nil, fmt.Errorf("read recent prints: %w", err)
	}
	return toPrints(points), nil
}

// movers computes the per-ticker change over the window. History
// points arrive oldest first, so the first point seen per ticker is
// the window open and the last is the close.
func (a *Aggregator) movers(ctx context.Context) ([]model.Mover, error) {
	points, err := a.readWindow(ctx)
	if err != nil {
		return nil, err
	}

	type series struct {
		first, last float64
		count       int
		notional    float64
	}
	byTicker := make(map[string]*series)
	var order []string
	for _, p := range points {
		s, ok := byTicker[p.Ticker]
		if !ok {
			s = &series{first: p.Price}
			byTicker[p.Ticker] = s
			order = append(order, p.Ticker)
		}
		s.last = p.Price
		s.count++
		s.notional += p.Notional
	}

	movers := make([]model.Mover, 0, len(order))
	for _, ticker := range order {
		s := byTicker[ticker]
		if s.count < 2 || s.first == 0 {
			continue
		}
		movers = append(movers, model.Mover{
			Ticker:    ticker,
			First:     s.first,
			Last:      s.last,
			ChangePct: (s.last - s.first) / s.first * 100,
			Notional:  s.notional,
		})
	}
	return movers, nil
}

func (a *Aggregator) readWindow(ctx context.Context) ([]model.PricePoint, error) {
	since := a.now().Add(-a.window).UnixMicro()
	points, err := a.history.ReadWindow(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("read history window: %w", err)
	}
	return points, nil
}

func toPrints(points []model.PricePoint) []model.Print {
	prints := make([]model.Print, 0, len(points))
	for _, p := range points {
		prints = append(prints, model.Print{
			Ticker:   p.Ticker,
			Side:     p.Side,
			Price:    p.Price,
			Size:     p.Size,
			Notional: p.Notional,
			TS:       p.TS,
		})
	}
	return prints
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
