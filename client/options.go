package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/cadence/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithTenant sets the tenant used when the request context carries none.
func WithTenant(tenant string) Option {
	return func(c *Client) { c.tenant = tenant }
}

// WithToken sends a bearer token, for deployments that put the API behind
// an authenticating proxy.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetry sets how often idempotent calls are retried after transport
// errors or gateway failures, doubling the delay from baseDelay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff.NewExponential(baseDelay, 30*time.Second)
	}
}
