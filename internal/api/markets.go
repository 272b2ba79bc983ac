package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arshiaxbt/Valshi/internal/model"
)

// GetMarket fetches a single market snapshot by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*Market, error) {
	var resp singleMarketResponse
	if err := c.get(ctx, "/markets/"+ticker, nil, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return &resp.Market, nil
}

// FetchMarket fetches a market and converts it for the cache, stamped
// with the local fetch time.
func (c *Client) FetchMarket(ctx context.Context, ticker string) (model.Market, error) {
	m, err := c.GetMarket(ctx, ticker)
	if err != nil {
		return model.Market{}, err
	}
	return m.ToModel(time.Now().UnixMicro()), nil
}

// GetMarkets fetches a page of markets from the catalog.
func (c *Client) GetMarkets(ctx context.Context, opts GetMarketsOptions) (*MarketsPage, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if len(opts.Tickers) > 0 {
		query.Set("tickers", strings.Join(opts.Tickers, ","))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	var resp MarketsPage
	if err := c.get(ctx, "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	return &resp, nil
}

// GetMarketsOptions filters a catalog page request.
type GetMarketsOptions struct {
	Limit   int
	Cursor  string
	Tickers []string
	Status  string
}

// MarketsPage is one page of GET /markets.
type MarketsPage struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type singleMarketResponse struct {
	Market Market `json:"market"`
}

// Market is the wire representation of a market from the REST API.
type Market struct {
	Ticker    string   `json:"ticker"`
	Title     string   `json:"title"`
	Subtitle  string   `json:"subtitle"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	YesBid    int      `json:"yes_bid"`    // Cents
	YesAsk    int      `json:"yes_ask"`    // Cents
	LastPrice int      `json:"last_price"` // Cents
	PrevPrice int      `json:"previous_price"`
	Volume24h int64    `json:"volume_24h"`
}

// ToModel converts the wire market into the internal representation.
// updatedAt is the caller's fetch timestamp (µs since epoch); the REST
// snapshot carries no exchange timestamp of its own.
func (m *Market) ToModel(updatedAt int64) model.Market {
	title := m.Title
	if title == "" {
		title = m.Subtitle
	}
	if title == "" {
		title = m.Ticker
	}
	return model.Market{
		Ticker:       m.Ticker,
		Title:        title,
		Tags:         m.Tags,
		LastPrice:    float64(m.LastPrice) / 100.0,
		PrevDayPrice: float64(m.PrevPrice) / 100.0,
		Volume24h:    m.Volume24h,
		UpdatedAt:    updatedAt,
	}
}
