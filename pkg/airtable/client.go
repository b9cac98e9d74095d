// Package airtable is the client for the external tabular service: OAuth
// token exchange, record creation and webhook subscriptions.
package airtable

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/httpclient"
)

// Config holds the settings for the external service client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.airtable.com".
	BaseURL string
	// AuthBaseURL is the OAuth root, e.g. "https://airtable.com".
	AuthBaseURL string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Client talks to the external tabular service.
type Client struct {
	config Config
	http   *httpclient.Client
	logger ectologger.Logger
}

// NewClient creates a new external service client.
func NewClient(config Config, http *httpclient.Client, logger ectologger.Logger) *Client {
	return &Client{
		config: config,
		http:   http,
		logger: logger,
	}
}

func (c *Client) authHeaders(accessToken string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
}

// mapStatusError translates a non-2xx response into the error taxonomy.
func mapStatusError(resp *httpclient.Response, operation string) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s returned %d: %w", operation, resp.StatusCode, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s returned %d: %w", operation, resp.StatusCode, ErrNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned %d: %w", operation, resp.StatusCode, ErrUpstreamUnavailable)
	default:
		return fmt.Errorf("%s returned unexpected status %d: %s", operation, resp.StatusCode, string(resp.Body))
	}
}
