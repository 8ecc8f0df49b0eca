// Package feed is the market-data collaborator: an HTTP client that pulls
// current mandi quotes for the configured (commodity, market) pairs, and a
// poller that pushes them into the engine on the aligned schedule. The feed
// may repeat or reorder records; the engine is built to tolerate both.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mandiwatch/internal/model"
)

const quotesPath = "/prices/latest"

// Pair names one series the poller tracks.
type Pair struct {
	Commodity string
	Market    string
}

// QuoteFetcher retrieves the current observation for one series.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, commodity, market string) (model.Observation, error)
}

// Options parameterise the HTTP feed client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Source    string
}

// Client fetches quotes from a mandi price HTTP API.
type Client struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewClient constructs a feed client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "feed_client").Logger(),
	}
}

type quoteResponse struct {
	Commodity  string `json:"commodity"`
	Market     string `json:"market"`
	Price      string `json:"price"`
	Unit       string `json:"unit"`
	ObservedAt string `json:"observed_at"`
	Source     string `json:"source"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchQuote retrieves the latest quote for one (commodity, market) pair.
func (c *Client) FetchQuote(ctx context.Context, commodity, market string) (model.Observation, error) {
	if c.baseURL == "" {
		return model.Observation{}, errors.New("feed base url required")
	}

	endpoint := fmt.Sprintf("%s%s?commodity=%s&market=%s",
		c.baseURL, quotesPath,
		url.QueryEscape(model.Canonical(commodity)),
		url.QueryEscape(model.Canonical(market)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Observation{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "mandiwatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.Observation{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Observation{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return model.Observation{}, parseHTTPError(resp.StatusCode, payload)
	}

	var quote quoteResponse
	if err := json.Unmarshal(payload, &quote); err != nil {
		return model.Observation{}, fmt.Errorf("decode quote: %w", err)
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse quote price: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return model.Observation{}, fmt.Errorf("quote price not positive: %s", quote.Price)
	}

	observedAt := time.Now().UTC()
	if quote.ObservedAt != "" {
		parsed, err := time.Parse(time.RFC3339, quote.ObservedAt)
		if err != nil {
			return model.Observation{}, fmt.Errorf("parse observed_at: %w", err)
		}
		observedAt = parsed.UTC()
	}

	source := quote.Source
	if source == "" {
		source = c.opts.Source
	}

	obs := model.Observation{
		Commodity:  model.Canonical(commodity),
		Market:     model.Canonical(market),
		Price:      price,
		Unit:       quote.Unit,
		ObservedAt: observedAt,
		Source:     source,
	}
	return obs, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ QuoteFetcher = (*Client)(nil)
