package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ParseDollars parses a decimal dollar string ("0.52") into a float.
// Malformed input yields 0, matching how the feed omits prices.
func ParseDollars(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// -----------------------------------------------------------------------------
// Market state
// -----------------------------------------------------------------------------

// Market is the latest known state of a single market.
// Mutated only by the market cache; readers get copies.
type Market struct {
	Ticker       string   // Primary key (e.g., "PRES-2024-DEM")
	Title        string   // Display title
	Tags         []string // Category tags used for topic filtering
	LastPrice    float64  // Last traded YES price in dollars (0.00-1.00)
	PrevDayPrice float64  // Price ~24h ago, reference for daily change
	Volume24h    int64    // Cumulative 24-hour contract volume
	UpdatedAt    int64    // Exchange timestamp of last update (µs since epoch)
}

// -----------------------------------------------------------------------------
// Trades and price history
// -----------------------------------------------------------------------------

// Trade is an executed trade as observed from the feed.
// Immutable once constructed. (Ticker, TradeID) is the dedup key
// across the stream and fallback paths.
type Trade struct {
	Ticker     string  // Market ticker
	TradeID    string  // Exchange-assigned trade id
	Price      float64 // Taker-side price in dollars (0.00-1.00)
	Size       int     // Number of contracts
	TakerSide  string  // "yes" or "no"
	ExchangeTS int64   // Exchange timestamp (µs since epoch)
	ReceivedAt int64   // Local receive timestamp (µs since epoch)
}

// Notional returns the dollar value of the trade.
func (t Trade) Notional() float64 {
	return t.Price * float64(t.Size)
}

// PricePoint is one append-only price-history record.
type PricePoint struct {
	Ticker   string
	TradeID  string
	Price    float64
	Size     int
	Side     string // Taker side, "yes" or "no"
	Notional float64
	TS       int64 // Exchange timestamp (µs since epoch)
}

// -----------------------------------------------------------------------------
// Subscribers and alerts
// -----------------------------------------------------------------------------

// TopicTags maps a profile topic to the market tags it matches.
// A topic absent from this map (notably "all") matches every market.
var TopicTags = map[string][]string{
	"macro":  {"Economy", "Politics", "Macro"},
	"crypto": {"Crypto"},
	"sports": {"Sports"},
}

// SubscriberProfile holds one subscriber's alert settings.
// Owned by the subscriber store; treated as read-only here and
// re-fetched at alert-evaluation time.
type SubscriberProfile struct {
	ID           int64
	Enabled      bool
	ThresholdUSD float64
	Topic        string // "all", "macro", "crypto", "sports"
	Timezone     string // IANA zone name
}

// Matches reports whether a trade with the given notional and market
// tags qualifies for this profile.
func (p SubscriberProfile) Matches(notional float64, tags []string) bool {
	if !p.Enabled || notional < p.ThresholdUSD {
		return false
	}
	want, restricted := TopicTags[p.Topic]
	if !restricted {
		return true
	}
	for _, tag := range tags {
		for _, w := range want {
			if tag == w {
				return true
			}
		}
	}
	return false
}

// AlertJob is a transient unit of fan-out work: one qualifying trade
// plus its computed notional and matched market context. Seq is
// assigned monotonically by the ingest pipeline for delivery
// bookkeeping.
type AlertJob struct {
	ID       uuid.UUID
	Seq      int64
	Trade    Trade
	Notional float64
	Market   Market
}

// -----------------------------------------------------------------------------
// Trend views
// -----------------------------------------------------------------------------

// Mover is one entry in a gainers or losers ranking.
type Mover struct {
	Ticker    string
	First     float64 // Earliest price in window
	Last      float64 // Latest price in window
	ChangePct float64 // (Last-First)/First * 100
	Notional  float64 // Window notional volume (tie breaker)
}

// ActiveMarket is one entry in the most-active ranking.
type ActiveMarket struct {
	Ticker   string
	Trades   int
	Notional float64
}

// DailySummary aggregates activity for one calendar day.
type DailySummary struct {
	Day      time.Time // Midnight in the configured timezone
	Trades   int
	Markets  int
	Notional float64
}

// Print is one large trade as shown in the top/recent views.
type Print struct {
	Ticker   string
	Side     string
	Price    float64
	Size     int
	Notional float64
	TS       int64
}
