package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/retry"
)

const (
	// Default chart API base URL
	defaultBaseURL = "https://query1.finance.yahoo.com"

	// API endpoints
	chartEndpoint = "/v8/finance/chart/%s"

	// Rate limiting configuration
	defaultRequestsPerSecond = 2
	defaultRateBurst         = 1

	// Request configuration
	defaultRequestTimeout = 30 * time.Second
	defaultUserAgent      = "marketsync/1.0"
	maxErrorBodyBytes     = 512

	// Health check configuration
	healthCheckTimeout = 5 * time.Second
	healthCheckSymbol  = "^NSEI"
)

// ChartClient fetches OHLCV series from a chart REST API. Requests are rate
// limited and retried with exponential backoff; server errors and rate
// limiting are retried, client errors are not.
type ChartClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	userAgent   string
	policy      retry.Policy
	logger      *slog.Logger
}

// NewChartClient creates a chart client from configuration. Zero-valued
// fields fall back to the defaults above.
func NewChartClient(cfg config.ProviderConfig, policy retry.Policy, logger *slog.Logger) *ChartClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = defaultRequestsPerSecond
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "chart_client"))
	}

	return &ChartClient{
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(perSec), burst),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		userAgent:   userAgent,
		policy:      policy,
		logger:      logger,
	}
}

// Fetch implements the Provider interface. The GET is retried per the
// client's policy; a permanent failure or exhausted retries surface as the
// underlying FetchError or a retry.ExhaustedError wrapping it.
func (c *ChartClient) Fetch(ctx context.Context, req FetchRequest) (models.Series, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	requestURL := c.buildURL(req)
	c.logger.Debug("fetching chart data",
		slog.String("symbol", req.Symbol),
		slog.String("interval", req.Interval),
		slog.String("period", req.Period))

	var payload chartResponse
	op := func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		body, err := c.get(ctx, requestURL, req.Symbol)
		if err != nil {
			return err
		}
		payload = chartResponse{}
		if err := json.Unmarshal(body, &payload); err != nil {
			return NewFetchError(req.Symbol, "decode", 0, false, err)
		}
		return nil
	}

	name := fmt.Sprintf("fetch %s %s", req.Symbol, req.Interval)
	if err := retry.Do(ctx, c.policy, c.logger, name, op); err != nil {
		return nil, err
	}
	return c.decodeSeries(&payload, req.Symbol, req.Interval)
}

// HealthCheck implements the Provider interface using a one-day probe for a
// liquid index.
func (c *ChartClient) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")
	requestURL := c.endpointFor(healthCheckSymbol) + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(healthCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	c.logger.Debug("health check passed")
	return nil
}

func (c *ChartClient) endpointFor(symbol string) string {
	return fmt.Sprintf(c.baseURL+chartEndpoint, url.PathEscape(symbol))
}

// buildURL encodes the window as range= for periods or period1/period2 unix
// seconds for date ranges.
func (c *ChartClient) buildURL(req FetchRequest) string {
	params := url.Values{}
	params.Set("interval", req.Interval)
	params.Set("includePrePost", "false")
	if req.Period != "" {
		params.Set("range", req.Period)
	} else {
		params.Set("period1", strconv.FormatInt(req.Start.Unix(), 10))
		params.Set("period2", strconv.FormatInt(req.End.Unix(), 10))
	}
	return c.endpointFor(req.Symbol) + "?" + params.Encode()
}

// get performs a single GET attempt and maps the response to a FetchError
// with the right retryability. A 429 honors Retry-After before reporting.
func (c *ChartClient) get(ctx context.Context, requestURL, symbol string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, NewFetchError(symbol, "request", 0, false, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewFetchError(symbol, "request", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			c.logger.Warn("rate limited by provider, waiting",
				slog.String("symbol", symbol),
				slog.Duration("retry_after", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, NewFetchError(symbol, "request", resp.StatusCode, true, errors.New("rate limited"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewFetchError(symbol, "read", 0, true, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, NewFetchError(symbol, "request", resp.StatusCode, true,
			fmt.Errorf("server error: %s", trimBody(body)))
	case resp.StatusCode >= 400:
		return nil, NewFetchError(symbol, "request", resp.StatusCode, false,
			fmt.Errorf("client error: %s", trimBody(body)))
	}
	return body, nil
}

// decodeSeries converts the chart payload into records. Rows with null
// prices are skipped; a null volume counts as zero.
func (c *ChartClient) decodeSeries(payload *chartResponse, symbol, interval string) (models.Series, error) {
	if e := payload.Chart.Error; e != nil {
		return nil, NewFetchError(symbol, "chart", 0, false, fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	if len(payload.Chart.Result) == 0 {
		return models.Series{}, nil
	}

	result := payload.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return models.Series{}, nil
	}
	quote := result.Indicators.Quote[0]

	series := make(models.Series, 0, len(result.Timestamp))
	skipped := 0
	for i, ts := range result.Timestamp {
		open := priceAt(quote.Open, i)
		high := priceAt(quote.High, i)
		low := priceAt(quote.Low, i)
		closePrice := priceAt(quote.Close, i)
		if open == nil || high == nil || low == nil || closePrice == nil {
			skipped++
			continue
		}

		var volume int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}

		series = append(series, models.Record{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      formatPrice(*open),
			High:      formatPrice(*high),
			Low:       formatPrice(*low),
			Close:     formatPrice(*closePrice),
			Volume:    strconv.FormatInt(volume, 10),
			Symbol:    symbol,
			Interval:  interval,
		})
	}

	if skipped > 0 {
		c.logger.Debug("skipped rows with null quote values",
			slog.String("symbol", symbol),
			slog.Int("rows", skipped))
	}
	return series, nil
}

func priceAt(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func formatPrice(f float64) string {
	return decimal.NewFromFloat(f).String()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}

// API response structures

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Timezone string `json:"timezone"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []chartQuote `json:"quote"`
	} `json:"indicators"`
}

type chartQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}
