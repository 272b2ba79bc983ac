// Package alert fans qualifying trades out to matched subscribers.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arshiaxbt/Valshi/internal/model"
)

// Deliverer sends one alert to one subscriber. Implementations must
// treat each call as independent; a failure for one subscriber never
// affects the others.
type Deliverer interface {
	Send(ctx context.Context, subscriberID int64, job model.AlertJob) error
}

// Fanout delivers alert jobs with per-subscriber isolation and
// at-most-once delivery per (subscriber, trade). A failed send is not
// marked delivered, so the pair can retry if the trade is re-evaluated.
type Fanout struct {
	deliverer Deliverer
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int

	delivered  int64
	failures   int64
	suppressed int64
}

// FanoutStats is a snapshot of fanout counters.
type FanoutStats struct {
	Delivered  int64
	Failures   int64
	Suppressed int64
}

// NewFanout creates a fanout. window bounds how many delivered
// (subscriber, trade) pairs are remembered.
func NewFanout(deliverer Deliverer, window int, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	if window < 1 {
		window = 1
	}
	return &Fanout{
		deliverer: deliverer,
		logger:    logger,
		seen:      make(map[string]struct{}, window),
		ring:      make([]string, window),
	}
}

// Deliver sends one job to every matched subscriber.
func (f *Fanout) Deliver(ctx context.Context, job model.AlertJob, matches []model.SubscriberProfile) {
	for _, p := range matches {
		key := fmt.Sprintf("%d:%s:%s", p.ID, job.Trade.Ticker, job.Trade.TradeID)

		if f.alreadyDelivered(key) {
			f.count(&f.suppressed)
			continue
		}

		if err := f.deliverer.Send(ctx, p.ID, job); err != nil {
			f.count(&f.failures)
			f.logger.Error("alert delivery failed",
				"subscriber", p.ID,
				"ticker", job.Trade.Ticker,
				"trade_id", job.Trade.TradeID,
				"error", err,
			)
			continue
		}

		f.markDelivered(key)
		f.count(&f.delivered)
	}
}

// Stats returns current counters.
func (f *Fanout) Stats() FanoutStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FanoutStats{
		Delivered:  f.delivered,
		Failures:   f.failures,
		Suppressed: f.suppressed,
	}
}

func (f *Fanout) alreadyDelivered(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[key]
	return ok
}

func (f *Fanout) markDelivered(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old := f.ring[f.next]; old != "" {
		delete(f.seen, old)
	}
	f.ring[f.next] = key
	f.next = (f.next + 1) % len(f.ring)
	f.seen[key] = struct{}{}
}

func (f *Fanout) count(field *int64) {
	f.mu.Lock()
	*field++
	f.mu.Unlock()
}

// LogDeliverer writes alerts to the log. It stands in for a real
// notification channel in development and the stream probe.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Send logs the alert.
func (d LogDeliverer) Send(_ context.Context, subscriberID int64, job model.AlertJob) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("whale alert",
		"subscriber", subscriberID,
		"ticker", job.Trade.Ticker,
		"title", job.Market.Title,
		"side", job.Trade.TakerSide,
		"price", job.Trade.Price,
		"size", job.Trade.Size,
		"notional", job.Notional,
		"alert_id", job.ID,
	)
	return nil
}
