package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arshiaxbt/Valshi/internal/cache"
	"github.com/arshiaxbt/Valshi/internal/model"
	"github.com/arshiaxbt/Valshi/internal/router"
)

type fakeHistory struct {
	mu       sync.Mutex
	points   []model.PricePoint
	existing map[string]struct{}
	err      error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{existing: make(map[string]struct{})}
}

func (h *fakeHistory) AppendPricePoint(_ context.Context, p model.PricePoint) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return false, h.err
	}
	key := p.Ticker + ":" + p.TradeID
	if _, ok := h.existing[key]; ok {
		return false, nil
	}
	h.existing[key] = struct{}{}
	h.points = append(h.points, p)
	return true, nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.points)
}

type fakeMarkets struct {
	tags []string
	err  error
}

func (m *fakeMarkets) Get(_ context.Context, ticker string) (model.Market, cache.Source, error) {
	if m.err != nil {
		return model.Market{}, 0, m.err
	}
	return model.Market{Ticker: ticker, Title: "Test Market", Tags: m.tags}, cache.SourceLive, nil
}

type fakeSubs struct {
	profiles []model.SubscriberProfile
	err      error
}

func (s *fakeSubs) ListEnabled(context.Context) ([]model.SubscriberProfile, error) {
	return s.profiles, s.err
}

type fakeAlerts struct {
	mu   sync.Mutex
	jobs []model.AlertJob
	to   [][]model.SubscriberProfile
}

func (a *fakeAlerts) Deliver(_ context.Context, job model.AlertJob, matches []model.SubscriberProfile) {
	a.mu.Lock()
	a.jobs = append(a.jobs, job)
	a.to = append(a.to, matches)
	a.mu.Unlock()
}

func (a *fakeAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

type fixture struct {
	input   *router.BoundedBuffer[router.TradeMsg]
	history *fakeHistory
	markets *fakeMarkets
	subs    *fakeSubs
	alerts  *fakeAlerts
	p       *Pipeline
}

func startPipeline(t *testing.T, threshold float64, tags []string) *fixture {
	t.Helper()
	f := &fixture{
		input:   router.NewBoundedBuffer[router.TradeMsg](100),
		history: newFakeHistory(),
		markets: &fakeMarkets{tags: tags},
		alerts:  &fakeAlerts{},
	}
	f.subs = &fakeSubs{profiles: []model.SubscriberProfile{
		{ID: 1, Enabled: true, ThresholdUSD: threshold, Topic: "all"},
	}}

	f.p = New(DefaultConfig(), f.input, f.history, f.markets, f.subs, f.alerts, nil)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.p.Stop(ctx)
	})
	return f
}

func tradeMsg(tradeID string, yes string, size int) router.TradeMsg {
	return router.TradeMsg{
		Ticker:          "PRES-2024-DEM",
		TradeID:         tradeID,
		Size:            size,
		YesPriceDollars: yes,
		TakerSide:       "yes",
		ExchangeTS:      1705328200000000,
		ReceivedAt:      time.Now(),
	}
}

func waitConsumed(t *testing.T, p *Pipeline, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Consumed >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("pipeline consumed %d trades, want %d", p.Stats().Consumed, want)
}

func TestPipeline_DuplicateTradeRecordedAndAlertedOnce(t *testing.T) {
	f := startPipeline(t, 5000, nil)

	// The same trade arrives twice, as it does when a reconnect
	// replay overlaps the original delivery.
	msg := tradeMsg("dup-1", "0.52", 20000)
	f.input.Send(msg)
	f.input.Send(msg)

	waitConsumed(t, f.p, 2)

	if got := f.history.count(); got != 1 {
		t.Errorf("history has %d points, want 1", got)
	}
	if got := f.alerts.count(); got != 1 {
		t.Errorf("issued %d alerts, want 1", got)
	}
	if stats := f.p.Stats(); stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
}

func TestPipeline_ThresholdBoundary(t *testing.T) {
	f := startPipeline(t, 10000, nil)

	f.input.Send(tradeMsg("small", "0.50", 19998)) // $9,999
	f.input.Send(tradeMsg("large", "0.50", 20002)) // $10,001

	waitConsumed(t, f.p, 2)

	if got := f.alerts.count(); got != 1 {
		t.Fatalf("issued %d alerts, want 1", got)
	}
	f.alerts.mu.Lock()
	job := f.alerts.jobs[0]
	f.alerts.mu.Unlock()
	if job.Trade.TradeID != "large" {
		t.Errorf("alerted on %s, want large", job.Trade.TradeID)
	}
	if job.Notional != 10001 {
		t.Errorf("Notional = %v, want 10001", job.Notional)
	}

	// Both trades clear the ingest floor and land in history.
	if got := f.history.count(); got != 2 {
		t.Errorf("history has %d points, want 2", got)
	}
}

func TestPipeline_IngestFloorSkipsRecording(t *testing.T) {
	f := startPipeline(t, 5000, nil)

	f.input.Send(tradeMsg("tiny", "0.50", 800)) // $400, below the $500 floor

	waitConsumed(t, f.p, 1)

	if got := f.history.count(); got != 0 {
		t.Errorf("history has %d points, want 0", got)
	}
	if stats := f.p.Stats(); stats.BelowFloor != 1 {
		t.Errorf("BelowFloor = %d, want 1", stats.BelowFloor)
	}
}

func TestPipeline_HistoryFailureDoesNotBlockAlert(t *testing.T) {
	f := startPipeline(t, 5000, nil)
	f.history.mu.Lock()
	f.history.err = errors.New("connection refused")
	f.history.mu.Unlock()

	f.input.Send(tradeMsg("orphan", "0.52", 20000))

	waitConsumed(t, f.p, 1)

	if got := f.alerts.count(); got != 1 {
		t.Errorf("issued %d alerts, want 1", got)
	}
	if stats := f.p.Stats(); stats.HistoryErrors != 1 {
		t.Errorf("HistoryErrors = %d, want 1", stats.HistoryErrors)
	}
}

func TestPipeline_StoredConflictSuppressesAlert(t *testing.T) {
	f := startPipeline(t, 5000, nil)
	f.history.mu.Lock()
	f.history.existing["PRES-2024-DEM:replayed"] = struct{}{}
	f.history.mu.Unlock()

	f.input.Send(tradeMsg("replayed", "0.52", 20000))

	waitConsumed(t, f.p, 1)

	if got := f.alerts.count(); got != 0 {
		t.Errorf("issued %d alerts for an already-stored trade, want 0", got)
	}
}

func TestPipeline_TopicFiltering(t *testing.T) {
	f := startPipeline(t, 5000, []string{"Sports"})
	f.subs.profiles = []model.SubscriberProfile{
		{ID: 1, Enabled: true, ThresholdUSD: 5000, Topic: "crypto"},
		{ID: 2, Enabled: true, ThresholdUSD: 5000, Topic: "sports"},
		{ID: 3, Enabled: true, ThresholdUSD: 5000, Topic: "all"},
	}

	f.input.Send(tradeMsg("sports-1", "0.52", 20000))

	waitConsumed(t, f.p, 1)

	if got := f.alerts.count(); got != 1 {
		t.Fatalf("issued %d alerts, want 1", got)
	}
	f.alerts.mu.Lock()
	matches := f.alerts.to[0]
	f.alerts.mu.Unlock()
	if len(matches) != 2 {
		t.Fatalf("matched %d profiles, want 2 (sports and all)", len(matches))
	}
	if matches[0].ID != 2 || matches[1].ID != 3 {
		t.Errorf("matched profile ids %d, %d; want 2, 3", matches[0].ID, matches[1].ID)
	}
}

func TestPipeline_MarketLookupFailureAlertsBare(t *testing.T) {
	f := startPipeline(t, 5000, nil)
	f.markets.err = errors.New("all tiers unavailable")

	f.input.Send(tradeMsg("bare", "0.52", 20000))

	waitConsumed(t, f.p, 1)

	if got := f.alerts.count(); got != 1 {
		t.Fatalf("issued %d alerts, want 1", got)
	}
	f.alerts.mu.Lock()
	job := f.alerts.jobs[0]
	f.alerts.mu.Unlock()
	if job.Market.Ticker != "PRES-2024-DEM" || job.Market.Title != "" {
		t.Errorf("job market = %+v, want bare ticker-only context", job.Market)
	}
}

func TestToTrade_TakerSidePricing(t *testing.T) {
	yes := toTrade(router.TradeMsg{TakerSide: "yes", YesPriceDollars: "0.52", Size: 100})
	if yes.Price != 0.52 {
		t.Errorf("yes taker price = %v, want 0.52", yes.Price)
	}

	no := toTrade(router.TradeMsg{TakerSide: "no", YesPriceDollars: "0.52", NoPriceDollars: "0.48", Size: 100})
	if no.Price != 0.48 {
		t.Errorf("no taker price = %v, want 0.48", no.Price)
	}

	// Complement fallback when the feed omits the no price.
	noImplied := toTrade(router.TradeMsg{TakerSide: "no", YesPriceDollars: "0.52", Size: 100})
	if noImplied.Price != 0.48 {
		t.Errorf("implied no price = %v, want 0.48", noImplied.Price)
	}
}
