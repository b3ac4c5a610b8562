// Package client talks to a remote cadence scheduler over its HTTP API.
// A Client satisfies worker.Backend, so a worker.Pool runs unchanged
// against a remote scheduler:
//
//	c, err := client.New("http://scheduler:8080", client.WithTenant("acme"))
//	pool := worker.NewPool(c, handlers, logger, worker.WithTenant("acme"))
//	err = pool.Start(ctx)
//
// It also exposes the management calls (jobs, schedules, runs).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/scope"
)

// Client is an HTTP client of the cadence API.
type Client struct {
	base   *url.URL
	http   *http.Client
	tenant string
	token  string
	logger *slog.Logger

	// Retries of idempotent calls after transport errors or 502/503/504.
	maxRetries int
	backoff    backoff.Strategy
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("cadence/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cadence/client: base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 3,
		backoff:    backoff.NewExponential(200*time.Millisecond, 5*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call describes one API request.
type call struct {
	method     string
	path       string
	query      url.Values
	body       any
	out        any
	idempotent bool
}

// do performs c with the tenant of ctx, falling back to the client's
// tenant, and decodes the response into c.out.
func (c *Client) do(ctx context.Context, cl call) (int, error) {
	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return 0, fmt.Errorf("cadence/client: marshal %s %s: %w", cl.method, cl.path, err)
		}
	}
	u := c.base.JoinPath(cl.path)
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}
	tenant := c.tenant
	if t, ok := scope.Capture(ctx); ok {
		tenant = t
	}

	attempts := 1
	if cl.idempotent {
		attempts += c.maxRetries
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debug("retrying request",
				slog.String("method", cl.method),
				slog.String("path", cl.path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		status, retry, err := c.once(ctx, cl, u.String(), tenant, payload)
		if err == nil || !retry {
			return status, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Client) once(ctx context.Context, cl call, target, tenant string, payload []byte) (status int, retry bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return 0, false, fmt.Errorf("cadence/client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tenant != "" {
		req.Header.Set(api.TenantHeader, tenant)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, ctx.Err() == nil, fmt.Errorf("cadence/client: %s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return resp.StatusCode, true, decodeError(resp)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, false, decodeError(resp)
	}
	if cl.out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
			return resp.StatusCode, false, fmt.Errorf("cadence/client: decode %s %s: %w", cl.method, cl.path, err)
		}
	}
	return resp.StatusCode, false, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.ExistingID = body.ExistingID
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Health returns nil when the scheduler and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, call{method: http.MethodGet, path: "/healthz", idempotent: true})
	return err
}
