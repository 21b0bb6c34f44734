// Package httptask is the REST external adapter: it turns a plan's
// task_type/parameters into a task.Factory that issues one HTTP request per
// task.Execute call. This is deliberately outside the core (pkg/task,
// internal/engine, internal/metrics, internal/schedule, internal/runner
// know nothing about HTTP); it is one concrete way to satisfy
// api.TaskRegistry.
package httptask

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
)

// Config describes one HTTP call shape. A Factory built from it issues an
// identical request (method/url/headers/body) against every task id; the
// request is rebuilt fresh each call so the body reader is never shared
// across concurrent executions.
type Config struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration

	// MaxIdleConnsPerHost sizes the shared transport's connection pool. It
	// should track the plan's MaxConcurrency so the engine is never
	// bottlenecked on connection reuse rather than the target itself.
	MaxIdleConnsPerHost int
}

func (c *Config) withDefaults() {
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 64
	}
}

// statusThreshold is the first HTTP status code this adapter treats as a
// task failure; anything below it (1xx-3xx) is a success.
const statusThreshold = 400

// Factory builds one *http.Request per task.Execute, against a shared
// *http.Client whose transport pools connections across every task the
// engine dispatches concurrently. It implements task.Factory.
type Factory struct {
	cfg    Config
	client *http.Client
}

// NewFactory builds an httptask.Factory from cfg.
func NewFactory(cfg Config) *Factory {
	cfg.withDefaults()
	return &Factory{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxIdleConnsPerHost * 4,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Create implements task.Factory.
func (f *Factory) Create(id uint64) task.Task {
	return task.Func(func(ctx context.Context) (task.Result, error) {
		return f.execute(ctx, id)
	})
}

func (f *Factory) execute(ctx context.Context, id uint64) (task.Result, error) {
	start := time.Now()

	var bodyReader io.Reader
	if len(f.cfg.Body) > 0 {
		bodyReader = bytes.NewReader(f.cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, f.cfg.Method, f.cfg.URL, bodyReader)
	if err != nil {
		return task.NewFailure(id, start, time.Now(), fmt.Errorf("httptask: build request: %w", err)), nil
	}
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return task.NewFailure(id, start, time.Now(), err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	n, _ := io.Copy(io.Discard, resp.Body)
	end := time.Now()

	if resp.StatusCode >= statusThreshold {
		result := task.NewFailure(id, start, end, fmt.Errorf("httptask: unexpected status %d", resp.StatusCode))
		result.StatusCode = resp.StatusCode
		result.ResponseBytes = n
		return result, nil
	}

	result := task.NewSuccess(id, start, end)
	result.StatusCode = resp.StatusCode
	result.ResponseBytes = n
	return result, nil
}

var _ task.Factory = (*Factory)(nil)
