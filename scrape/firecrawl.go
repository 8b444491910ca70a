package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is the hosted Firecrawl scrape endpoint.
	DefaultEndpoint = "https://api.firecrawl.dev/v1/scrape"

	// DefaultTimeout bounds a single scrape request.
	DefaultTimeout = 240 * time.Second

	// maxErrorBody caps how much of an error response is kept for the error message.
	maxErrorBody = 512
)

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// FirecrawlClient calls a Firecrawl-compatible scrape API.
// It is safe for concurrent use; requests are throttled by a shared limiter.
type FirecrawlClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a FirecrawlClient.
type Option func(*FirecrawlClient) error

// WithEndpoint overrides the scrape endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(c *FirecrawlClient) error {
		if endpoint == "" {
			return ErrEndpointRequired
		}
		c.endpoint = endpoint
		return nil
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *FirecrawlClient) error {
		c.apiKey = key
		return nil
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *FirecrawlClient) error {
		if client != nil {
			c.httpClient = client
		}
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *FirecrawlClient) error {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
		return nil
	}
}

// WithRateLimit throttles requests to rps per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *FirecrawlClient) error {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *FirecrawlClient) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewFirecrawlClient creates a scrape client. Without options it targets the
// hosted Firecrawl API, unthrottled, with a 240 second timeout.
func NewFirecrawlClient(opts ...Option) (*FirecrawlClient, error) {
	c := &FirecrawlClient{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "firecrawl")
	return c, nil
}

// Scrape requests markdown and html renderings of url and returns the markdown.
func (c *FirecrawlClient) Scrape(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown", "html"}})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("scrape request failed", "url", url, "err", err)
		return "", fmt.Errorf("scrape %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("scrape provider returned error", "url", url, "status", resp.StatusCode)
		return "", fmt.Errorf("%w: %d while requesting %s: %s", ErrUnexpectedStatus, resp.StatusCode, url, bytes.TrimSpace(snippet))
	}

	var out scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Data == nil {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrMalformedResponse, out.Error)
		}
		return "", fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	c.logger.Debug("scraped page", "url", url, "length", len(out.Data.Markdown), "elapsed", time.Since(start))
	return out.Data.Markdown, nil
}

var _ Scraper = (*FirecrawlClient)(nil)
