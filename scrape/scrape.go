// Package scrape fetches web pages as markdown through a Firecrawl-compatible API.
package scrape

import (
	"context"
	"errors"
)

var (
	// ErrEndpointRequired is returned when no scrape endpoint is configured.
	ErrEndpointRequired = errors.New("scrape endpoint is required")

	// ErrUnexpectedStatus is returned for non-2xx responses from the provider.
	ErrUnexpectedStatus = errors.New("unexpected scrape response status")

	// ErrMalformedResponse is returned when the response body is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed scrape response")
)

// Scraper returns the markdown rendering of a page.
// An empty string with a nil error means the page had no content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// ScraperFunc adapts a function to the Scraper interface.
type ScraperFunc func(ctx context.Context, url string) (string, error)

// Scrape calls f.
func (f ScraperFunc) Scrape(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}
