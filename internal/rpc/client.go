package rpc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single RPC when the caller doesn't specify one,
// matching the controller's default per-call assignment timeout.
const DefaultTimeout = 10 * time.Second

// client is the shared gob-over-HTTP transport used by both the worker
// and controller clients below.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *client) call(ctx context.Context, path string, req, resp any) error {
	var buf bytes.Buffer
	if err := writeFrame(&buf, req); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s returned status %d", path, httpResp.StatusCode)
	}
	return readFrame(httpResp.Body, resp)
}

// WorkerClient is the controller's handle on a single worker's RPC
// endpoint.
type WorkerClient struct {
	c *client
}

// NewWorkerClient builds a client for the worker listening at baseURL.
func NewWorkerClient(baseURL string, timeout time.Duration) *WorkerClient {
	return &WorkerClient{c: newClient(baseURL, timeout)}
}

// AssignTask asks the worker to start running assignment a.
func (w *WorkerClient) AssignTask(ctx context.Context, a Assignment) (AssignResult, error) {
	var resp AssignResult
	err := w.c.call(ctx, "/rpc/assign", a, &resp)
	return resp, err
}

// StopTest asks the worker to stop test req.TestID.
func (w *WorkerClient) StopTest(ctx context.Context, req StopRequest) (StopResult, error) {
	var resp StopResult
	err := w.c.call(ctx, "/rpc/stop", req, &resp)
	return resp, err
}

// ControllerClient is a worker's handle on the controller's push
// endpoints.
type ControllerClient struct {
	c *client
}

// NewControllerClient builds a client for the controller listening at
// baseURL.
func NewControllerClient(baseURL string, timeout time.Duration) *ControllerClient {
	return &ControllerClient{c: newClient(baseURL, timeout)}
}

// Heartbeat pushes worker liveness/capacity info to the controller.
func (cc *ControllerClient) Heartbeat(ctx context.Context, info HeartbeatInfo) error {
	var ack Ack
	return cc.c.call(ctx, "/rpc/heartbeat", info, &ack)
}

// PushMetrics pushes a worker's current test snapshot to the controller.
func (cc *ControllerClient) PushMetrics(ctx context.Context, m WorkerMetrics) error {
	var ack Ack
	return cc.c.call(ctx, "/rpc/metrics", m, &ack)
}
