package client

import (
	"context"
	"net/http"

	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/worker"
)

var _ worker.Backend = (*Client)(nil)

// RegisterWorker registers a worker for the request tenant.
func (c *Client) RegisterWorker(ctx context.Context, req cluster.RegisterRequest) (*cluster.Worker, error) {
	var out cluster.Worker
	if _, err := c.do(ctx, call{method: http.MethodPost, path: "/v1/workers", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat reports liveness and the runs the worker is executing. The
// response lists the runs it must abandon.
func (c *Client) Heartbeat(ctx context.Context, workerID id.ID, req cluster.HeartbeatRequest) (*cluster.HeartbeatResponse, error) {
	var out cluster.HeartbeatResponse
	_, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       "/v1/workers/" + workerID.String() + "/heartbeat",
		body:       req,
		out:        &out,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim asks for up to limit runs.
func (c *Client) Claim(ctx context.Context, workerID id.ID, limit int) ([]*run.Run, error) {
	var out api.ClaimResponse
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/v1/workers/" + workerID.String() + "/claim",
		body:   api.ClaimRequest{Limit: limit},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Complete reports a successful run.
func (c *Client) Complete(ctx context.Context, runID, workerID id.ID) (*run.Run, error) {
	var out run.Run
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/v1/runs/" + runID.String() + "/complete",
		body:   api.ReportRequest{WorkerID: workerID},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Fail reports a failed run. The result carries the next attempt, if any.
func (c *Client) Fail(ctx context.Context, runID, workerID id.ID, cause string) (*retry.Result, error) {
	var out retry.Result
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/v1/runs/" + runID.String() + "/fail",
		body:   api.ReportRequest{WorkerID: workerID, Error: cause},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeregisterWorker removes a worker; the runs it held return to pending.
func (c *Client) DeregisterWorker(ctx context.Context, workerID id.ID) error {
	_, err := c.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/v1/workers/" + workerID.String(),
		idempotent: true,
	})
	return err
}

// ListWorkers returns the tenant's workers.
func (c *Client) ListWorkers(ctx context.Context, status cluster.Status, limit, offset int) ([]*cluster.Worker, error) {
	q := pageQuery(limit, offset)
	if status != "" {
		q.Set("status", string(status))
	}
	var out api.Page[*cluster.Worker]
	if _, err := c.do(ctx, call{method: http.MethodGet, path: "/v1/workers", query: q, out: &out, idempotent: true}); err != nil {
		return nil, err
	}
	return out.Items, nil
}
