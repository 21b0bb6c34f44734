// Package api is the external control-plane adapter: a programmatic
// facade (start/stop/status/snapshot) exposed over HTTP via chi, plus a
// websocket live-snapshot pusher. None of this is part of the core;
// Server only calls into runner.Runner/controller.Controller, never the
// other way around.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/FairForge/loadstorm/internal/controller"
	"github.com/FairForge/loadstorm/internal/errs"
	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/FairForge/loadstorm/internal/report"
	"github.com/FairForge/loadstorm/internal/runner"
	"github.com/FairForge/loadstorm/internal/schedule"
	"github.com/FairForge/loadstorm/pkg/task"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// TaskRegistry resolves a plan's task_type/parameters into a task.Factory.
// Concrete task implementations (HTTP, gRPC, database, ...) live outside
// the core packages; the control API only needs something that can build
// one from a plan request.
type TaskRegistry interface {
	Factory(taskType string, params map[string]string) (task.Factory, error)
}

// testEntry is the server's bookkeeping for one test started through the
// control API.
type testEntry struct {
	run    *runner.Runner
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// Server hosts the control API, an optional distributed Controller, and
// the websocket live-snapshot pusher. A single process normally runs
// either a standalone Server (no Controller) or a controller-role Server
// (Controller set, no local test runners).
type Server struct {
	router *chi.Mux
	log    *zap.Logger

	registry TaskRegistry
	limiter  *RateLimiter

	mu    sync.Mutex
	tests map[string]*testEntry

	Controller   *controller.Controller // nil for a standalone (non-distributed) server
	reportSinks  []report.Sink
	authRequired bool
}

// NewServer builds a Server. log may be nil. jwtSecret enables bearer-token
// auth (scoped to "tests:write" on the mutating endpoints) when non-empty;
// a nil/empty secret leaves the control API unauthenticated, which keeps
// JWT auth opt-in (see cmd/loadstormd's LOADSTORM_JWT_SECRET).
func NewServer(registry TaskRegistry, ctrl *controller.Controller, jwtSecret []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		router:     chi.NewRouter(),
		log:        log.Named("api"),
		registry:   registry,
		limiter:    NewRateLimiter(),
		tests:      make(map[string]*testEntry),
		Controller: ctrl,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(RateLimitMiddleware(s.limiter))
	if len(jwtSecret) > 0 {
		s.router.Use(JWTMiddleware(jwtSecret))
		s.authRequired = true
	}

	s.routes()
	return s
}

// AddReportSink registers a sink (Prometheus exporter, console writer,
// history database, ...) that is attached to every test started
// afterward, via a report.Poller running alongside that test.
func (s *Server) AddReportSink(sink report.Sink) {
	s.reportSinks = append(s.reportSinks, sink)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Route("/api/v1/tests", func(r chi.Router) {
		if s.authRequired {
			r.With(RequireScope("tests:write")).Post("/", s.handleStart)
			r.With(RequireScope("tests:write")).Post("/{testID}/stop", s.handleStop)
		} else {
			r.Post("/", s.handleStart)
			r.Post("/{testID}/stop", s.handleStop)
		}
		r.Get("/{testID}", s.handleStatus)
		r.Get("/{testID}/snapshot", s.handleSnapshot)
		r.Get("/{testID}/stream", s.handleWebSocket)
	})

	if s.Controller != nil {
		s.router.Route("/api/v1/workers", func(r chi.Router) {
			r.Get("/", s.handleWorkers)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// startTestRequest is the wire shape of POST /api/v1/tests.
type startTestRequest struct {
	Name string `json:"name"`

	Shape            string        `json:"shape"`
	StartConcurrency int           `json:"start_concurrency"`
	MaxConcurrency   int           `json:"max_concurrency"`
	RampDuration     time.Duration `json:"ramp_duration"`

	StepSize     int           `json:"step_size"`
	StepInterval time.Duration `json:"step_interval"`

	TargetTPS int  `json:"target_tps"`
	RampTPS   bool `json:"ramp_tps"`

	SustainDuration time.Duration `json:"sustain_duration"`
	WarmupDuration  time.Duration `json:"warmup_duration"`

	Mode string `json:"mode"`

	TaskType   string            `json:"task_type"`
	Parameters map[string]string `json:"parameters"`
}

func (req startTestRequest) toPlan(factory task.Factory) (runner.Plan, error) {
	if req.MaxConcurrency < 1 {
		return runner.Plan{}, errs.ErrConfig("max_concurrency", "must be >= 1")
	}
	if req.RampDuration < 0 {
		return runner.Plan{}, errs.ErrConfig("ramp_duration", "must be >= 0")
	}

	shape := schedule.ShapeLinear
	switch req.Shape {
	case "step":
		shape = schedule.ShapeStep
	case "spike":
		shape = schedule.ShapeSpike
	}

	mode := runner.ConcurrencyBounded
	switch req.Mode {
	case "rate_limited":
		mode = runner.RateLimited
	case "hybrid":
		mode = runner.Hybrid
	}

	start := req.StartConcurrency
	if start < 1 {
		start = 1
	}

	return runner.Plan{
		Name: req.Name,
		Schedule: schedule.Config{
			Shape:            shape,
			StartConcurrency: start,
			MaxConcurrency:   req.MaxConcurrency,
			RampDuration:     req.RampDuration,
			StepSize:         req.StepSize,
			StepInterval:     req.StepInterval,
			TargetTPS:        req.TargetTPS,
			RampTPS:          req.RampTPS,
		},
		SustainDuration: req.SustainDuration,
		WarmupDuration:  req.WarmupDuration,
		Factory:         factory,
		Mode:            mode,
	}, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.ErrConfig("body", err.Error()))
		return
	}

	if s.Controller != nil {
		s.handleStartDistributed(w, req)
		return
	}

	factory, err := s.registry.Factory(req.TaskType, req.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.ErrConfig("task_type", err.Error()))
		return
	}

	plan, err := req.toPlan(factory)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := runner.New(plan, s.log)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	testID := newTestID()
	ctx, cancel := context.WithCancel(context.Background())
	entry := &testEntry{run: run, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tests[testID] = entry
	s.mu.Unlock()

	go func() {
		defer close(entry.done)
		entry.runErr = run.Run(ctx)
	}()

	if len(s.reportSinks) > 0 {
		poller := report.NewPoller(run.Metrics(), 0, s.log)
		for _, sink := range s.reportSinks {
			poller.AddSink(sink)
		}
		go poller.Run(ctx)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"test_id": testID})
}

// handleStartDistributed splits a test across the worker pool via the
// controller's proportional distribution algorithm instead of running it
// in-process. The distributed test id becomes the request's own testID
// once assignment succeeds.
func (s *Server) handleStartDistributed(w http.ResponseWriter, req startTestRequest) {
	testID := newTestID()
	shares, err := s.Controller.Distribute(context.Background(), controller.DistributeRequest{
		TestID:         testID,
		TaskType:       req.TaskType,
		TargetTPS:      req.TargetTPS,
		Duration:       req.SustainDuration,
		RampDuration:   req.RampDuration,
		MaxConcurrency: req.MaxConcurrency,
		Parameters:     req.Parameters,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"test_id": testID, "shares": shares})
}

func (s *Server) lookup(r *http.Request) (*testEntry, string, bool) {
	testID := chi.URLParam(r, "testID")
	s.mu.Lock()
	entry, ok := s.tests[testID]
	s.mu.Unlock()
	return entry, testID, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	if s.Controller != nil {
		agg, err := s.Controller.Aggregate(testID)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}

	entry, testID, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown test id"))
		return
	}
	resp := map[string]any{
		"test_id":  testID,
		"state":    entry.run.State(),
		"progress": entry.run.Progress(),
	}
	select {
	case <-entry.done:
		if entry.runErr != nil {
			resp["error"] = entry.runErr.Error()
		}
	default:
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	graceful := r.URL.Query().Get("graceful") != "false"

	if s.Controller != nil {
		if err := s.Controller.StopTest(r.Context(), testID, graceful); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"test_id": testID})
		return
	}

	entry, testID, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown test id"))
		return
	}
	entry.run.Stop(graceful)
	writeJSON(w, http.StatusOK, map[string]string{"test_id": testID, "state": string(entry.run.State())})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.Controller != nil {
		testID := chi.URLParam(r, "testID")
		agg, err := s.Controller.Aggregate(testID)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}

	entry, _, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown test id"))
		return
	}
	writeJSON(w, http.StatusOK, entry.run.Metrics().Snapshot())
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Workers())
}

// snapshotFor adapts a running test's metrics.Collector to report.SnapshotSource.
func (s *Server) snapshotFor(testID string) (metrics.Snapshot, bool) {
	s.mu.Lock()
	entry, ok := s.tests[testID]
	s.mu.Unlock()
	if !ok {
		return metrics.Snapshot{}, false
	}
	return entry.run.Metrics().Snapshot(), true
}

var testIDCounter struct {
	mu sync.Mutex
	n  int64
}

// newTestID generates a simple monotonically increasing id. A production
// deployment might prefer google/uuid (already a pack dependency, used
// elsewhere for opaque ids); a counter keeps status/snapshot URLs legible
// in examples and logs.
func newTestID() string {
	testIDCounter.mu.Lock()
	defer testIDCounter.mu.Unlock()
	testIDCounter.n++
	return "test-" + time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatInt(testIDCounter.n, 10)
}
