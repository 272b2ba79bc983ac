// Package cache maintains the shared in-memory view of market state.
//
// Reads resolve through ordered tiers: the live stream cache, then the
// persisted snapshot store, then a direct REST fetch. The first hit
// wins and backfills the tiers above it. Updates apply
// last-writer-by-timestamp: a cached price never regresses to a
// strictly older exchange timestamp.
package cache

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/arshiaxbt/Valshi/internal/model"
	"github.com/arshiaxbt/Valshi/internal/router"
)

// ErrNotFound means no tier could produce the market.
var ErrNotFound = errors.New("market not found")

// Source tags where a cache read was satisfied, so callers and tests
// can distinguish freshness without hidden state.
type Source int

const (
	SourceLive  Source = iota // In-memory stream-fed state
	SourceStore               // Persisted snapshot store
	SourceFetch               // Direct REST fallback fetch
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceStore:
		return "store"
	case SourceFetch:
		return "fetch"
	}
	return "unknown"
}

// SnapshotStore is the persisted middle tier.
type SnapshotStore interface {
	ReadMarketSnapshot(ctx context.Context, ticker string) (model.Market, bool, error)
	UpsertMarketSnapshot(ctx context.Context, m model.Market) error
}

// Fetcher is the REST bottom tier.
type Fetcher interface {
	FetchMarket(ctx context.Context, ticker string) (model.Market, error)
}

const shardCount = 64

type shard struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
}

// Cache is the market-data cache. Updates for different markets
// proceed independently (lock striping); updates for the same market
// serialize on its shard.
type Cache struct {
	ready  func() bool // stream readiness; false prefers the fallback tiers
	store  SnapshotStore
	fetch  Fetcher
	logger *slog.Logger

	shards [shardCount]shard
	sf     singleflight.Group

	staleDrops atomic.Int64
	reconciles atomic.Int64
	liveHits   atomic.Int64
	storeHits  atomic.Int64
	fetches    atomic.Int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	StaleDrops int64
	Reconciles int64
	LiveHits   int64
	StoreHits  int64
	Fetches    int64
}

// New creates a cache. store and fetch may be nil, disabling those
// tiers. ready gates the live tier; a nil ready means always ready.
func New(ready func() bool, store SnapshotStore, fetch Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	c := &Cache{
		ready:  ready,
		store:  store,
		fetch:  fetch,
		logger: logger,
	}
	for i := range c.shards {
		c.shards[i].markets = make(map[string]*model.Market)
	}
	return c
}

func (c *Cache) shardFor(ticker string) *shard {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return &c.shards[h.Sum32()%shardCount]
}

// Get returns the freshest known state for a market, tagged with the
// tier that answered. Lower-tier hits backfill the tiers above.
func (c *Cache) Get(ctx context.Context, ticker string) (model.Market, Source, error) {
	if c.ready() {
		if m, ok := c.lookup(ticker); ok {
			c.liveHits.Add(1)
			return m, SourceLive, nil
		}
	}

	if c.store != nil {
		m, ok, err := c.store.ReadMarketSnapshot(ctx, ticker)
		if err != nil {
			c.logger.Warn("snapshot store read failed", "ticker", ticker, "error", err)
		} else if ok {
			c.storeHits.Add(1)
			c.Apply(m)
			return m, SourceStore, nil
		}
	}

	if c.fetch == nil {
		return model.Market{}, 0, ErrNotFound
	}

	v, err, _ := c.sf.Do(ticker, func() (any, error) {
		m, err := c.fetch.FetchMarket(ctx, ticker)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	if err != nil {
		return model.Market{}, 0, err
	}

	m := v.(model.Market)
	c.fetches.Add(1)
	c.Apply(m)
	if c.store != nil {
		if err := c.store.UpsertMarketSnapshot(ctx, m); err != nil {
			c.logger.Warn("snapshot store backfill failed", "ticker", ticker, "error", err)
		}
	}
	return m, SourceFetch, nil
}

// lookup reads the live tier.
func (c *Cache) lookup(ticker string) (model.Market, bool) {
	s := c.shardFor(ticker)
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[ticker]
	if !ok {
		return model.Market{}, false
	}
	return *m, true
}

// Peek returns the live-tier state regardless of stream readiness.
func (c *Cache) Peek(ticker string) (model.Market, bool) {
	return c.lookup(ticker)
}

// Apply merges a market snapshot into the live tier. The update is a
// no-op when its timestamp is not strictly newer than the cached one;
// a rejected update that disagrees on price logs a reconciliation
// warning (the live state wins).
func (c *Cache) Apply(m model.Market) bool {
	s := c.shardFor(m.Ticker)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[m.Ticker]
	if !ok {
		cp := m
		s.markets[m.Ticker] = &cp
		return true
	}

	if m.UpdatedAt <= cur.UpdatedAt {
		c.staleDrops.Add(1)
		if m.LastPrice != 0 && m.LastPrice != cur.LastPrice {
			c.reconciles.Add(1)
			c.logger.Warn("cache reconciliation: incoming snapshot not newer than live state, trusting live",
				"ticker", m.Ticker,
				"live_price", cur.LastPrice,
				"incoming_price", m.LastPrice,
			)
		}
		return false
	}

	cur.UpdatedAt = m.UpdatedAt
	if m.LastPrice != 0 {
		cur.LastPrice = m.LastPrice
	}
	if m.PrevDayPrice != 0 {
		cur.PrevDayPrice = m.PrevDayPrice
	}
	if m.Volume24h != 0 {
		cur.Volume24h = m.Volume24h
	}
	if m.Title != "" {
		cur.Title = m.Title
	}
	if len(m.Tags) != 0 {
		cur.Tags = m.Tags
	}
	return true
}

// ApplyTrade folds a trade event into market state.
func (c *Cache) ApplyTrade(msg router.TradeMsg) {
	price := model.ParseDollars(msg.YesPriceDollars)

	s := c.shardFor(msg.Ticker)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[msg.Ticker]
	if !ok {
		s.markets[msg.Ticker] = &model.Market{
			Ticker:    msg.Ticker,
			LastPrice: price,
			Volume24h: int64(msg.Size),
			UpdatedAt: msg.ExchangeTS,
		}
		return
	}

	if msg.ExchangeTS <= cur.UpdatedAt {
		c.staleDrops.Add(1)
		return
	}
	cur.LastPrice = price
	cur.Volume24h += int64(msg.Size)
	cur.UpdatedAt = msg.ExchangeTS
}

// ApplyTicker folds a ticker event into market state.
func (c *Cache) ApplyTicker(msg router.TickerMsg) {
	c.Apply(model.Market{
		Ticker:    msg.Ticker,
		LastPrice: model.ParseDollars(msg.PriceDollars),
		Volume24h: msg.Volume24h,
		UpdatedAt: msg.ExchangeTS,
	})
}

// ApplyDepth records liveness from a depth event. Depth levels
// themselves are not retained; only the freshness timestamp moves.
func (c *Cache) ApplyDepth(msg router.DepthMsg) {
	s := c.shardFor(msg.Ticker)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[msg.Ticker]
	if ok && msg.ExchangeTS > cur.UpdatedAt {
		cur.UpdatedAt = msg.ExchangeTS
	}
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		StaleDrops: c.staleDrops.Load(),
		Reconciles: c.reconciles.Load(),
		LiveHits:   c.liveHits.Load(),
		StoreHits:  c.storeHits.Load(),
		Fetches:    c.fetches.Load(),
	}
}
