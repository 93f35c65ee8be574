// Package feed is the typed client for the Gamma market feed API. It is a
// thin wrapper over the shared httpx engine: pagination, event lookups, and
// a local search over one fetched page.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polymarket-engine/internal/httpx"
)

// pageDelay paces consecutive page fetches in GetAllMarkets.
const pageDelay = 100 * time.Millisecond

// ListParams are the recognized listing parameters for GET /markets.
// Zero-valued pointers are omitted from the query.
type ListParams struct {
	Active          *bool
	Closed          *bool
	Limit           int
	Offset          int
	Order           string
	Ascending       *bool
	TagID           int
	RelatedTags     *bool
	LiquidityNumMin float64
	LiquidityNumMax float64
	VolumeNumMin    float64
	VolumeNumMax    float64
	EndDateMin      string
	EndDateMax      string
	StartDateMin    string
	StartDateMax    string
}

// Query renders the params as a flat query map.
func (p ListParams) Query() map[string]string {
	q := make(map[string]string)
	if p.Active != nil {
		q["active"] = strconv.FormatBool(*p.Active)
	}
	if p.Closed != nil {
		q["closed"] = strconv.FormatBool(*p.Closed)
	}
	if p.Limit > 0 {
		q["limit"] = strconv.Itoa(p.Limit)
	}
	if p.Offset > 0 {
		q["offset"] = strconv.Itoa(p.Offset)
	}
	if p.Order != "" {
		q["order"] = p.Order
	}
	if p.Ascending != nil {
		q["ascending"] = strconv.FormatBool(*p.Ascending)
	}
	if p.TagID > 0 {
		q["tag_id"] = strconv.Itoa(p.TagID)
	}
	if p.RelatedTags != nil {
		q["related_tags"] = strconv.FormatBool(*p.RelatedTags)
	}
	if p.LiquidityNumMin > 0 {
		q["liquidity_num_min"] = strconv.FormatFloat(p.LiquidityNumMin, 'f', -1, 64)
	}
	if p.LiquidityNumMax > 0 {
		q["liquidity_num_max"] = strconv.FormatFloat(p.LiquidityNumMax, 'f', -1, 64)
	}
	if p.VolumeNumMin > 0 {
		q["volume_num_min"] = strconv.FormatFloat(p.VolumeNumMin, 'f', -1, 64)
	}
	if p.VolumeNumMax > 0 {
		q["volume_num_max"] = strconv.FormatFloat(p.VolumeNumMax, 'f', -1, 64)
	}
	if p.EndDateMin != "" {
		q["end_date_min"] = p.EndDateMin
	}
	if p.EndDateMax != "" {
		q["end_date_max"] = p.EndDateMax
	}
	if p.StartDateMin != "" {
		q["start_date_min"] = p.StartDateMin
	}
	if p.StartDateMax != "" {
		q["start_date_max"] = p.StartDateMax
	}
	return q
}

// Event is the feed's event record grouping related markets.
type Event struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Active  bool        `json:"active"`
	Closed  bool        `json:"closed"`
	Markets []RawMarket `json:"markets"`
}

// Client queries the Gamma feed API.
type Client struct {
	engine *httpx.Client
	logger *slog.Logger
}

// New creates a feed client over a configured request engine.
func New(engine *httpx.Client, logger *slog.Logger) *Client {
	return &Client{
		engine: engine,
		logger: logger.With("component", "feed"),
	}
}

// GetMarkets fetches one page of markets.
func (c *Client) GetMarkets(ctx context.Context, params ListParams) ([]RawMarket, error) {
	var page []RawMarket
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/markets",
		Params:   params.Query(),
		Source:   "feed",
		Result:   &page,
	})
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	return page, nil
}

// GetAllMarkets paginates through /markets until a short page or maxPages,
// pausing briefly between pages. onPage, when non-nil, receives each page as
// it arrives; the error it returns aborts the crawl. The full result is also
// returned.
func (c *Client) GetAllMarkets(ctx context.Context, params ListParams, maxPages int, onPage func(page []RawMarket) error) ([]RawMarket, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	var all []RawMarket
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		p := params
		p.Limit = limit
		p.Offset = (page - 1) * limit

		batch, err := c.GetMarkets(ctx, p)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, batch...)
		if onPage != nil {
			if err := onPage(batch); err != nil {
				return all, err
			}
		}
		if len(batch) < limit {
			break
		}

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(pageDelay):
		}
	}
	return all, nil
}

// GetMarket fetches a single market by feed ID.
func (c *Client) GetMarket(ctx context.Context, id string) (*RawMarket, error) {
	var m RawMarket
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/markets/" + id,
		Source:   "feed",
		Result:   &m,
	})
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

// GetMarketBySlug looks a market up by its slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (*RawMarket, error) {
	var page []RawMarket
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/markets",
		Params:   map[string]string{"slug": slug},
		Source:   "feed",
		Result:   &page,
	})
	if err != nil {
		return nil, fmt.Errorf("get market by slug %s: %w", slug, err)
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("market slug %q not found", slug)
	}
	return &page[0], nil
}

// GetEvents fetches a page of events.
func (c *Client) GetEvents(ctx context.Context, params ListParams) ([]Event, error) {
	var events []Event
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/events",
		Params:   params.Query(),
		Source:   "feed",
		Result:   &events,
	})
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return events, nil
}

// GetEvent fetches a single event by ID.
func (c *Client) GetEvent(ctx context.Context, id string) (*Event, error) {
	var ev Event
	_, err := c.engine.Do(ctx, httpx.Request{
		Method:   http.MethodGet,
		Endpoint: "/events/" + id,
		Source:   "feed",
		Result:   &ev,
	})
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &ev, nil
}

// GetEventMarkets returns the markets attached to an event.
func (c *Client) GetEventMarkets(ctx context.Context, id string) ([]RawMarket, error) {
	ev, err := c.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return ev.Markets, nil
}

// SearchMarkets fetches one page and filters it case-insensitively on the
// question, slug, and category fields.
func (c *Client) SearchMarkets(ctx context.Context, query string, limit int, active *bool) ([]RawMarket, error) {
	if limit <= 0 {
		limit = 100
	}
	page, err := c.GetMarkets(ctx, ListParams{Active: active, Limit: limit})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return page, nil
	}
	var out []RawMarket
	for _, m := range page {
		if strings.Contains(strings.ToLower(m.Question), needle) ||
			strings.Contains(strings.ToLower(m.Slug), needle) ||
			strings.Contains(strings.ToLower(m.Category), needle) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Bool is a pointer helper for optional listing parameters.
func Bool(v bool) *bool { return &v }
