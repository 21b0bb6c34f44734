package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/FairForge/loadstorm/internal/report"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errUnknownTest = errors.New("unknown test id")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API is consumed by the operator's own tooling, not
	// third-party browser pages, so cross-origin upgrades are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades a GET /api/v1/tests/{testID}/stream request and
// pushes a metrics.Snapshot as JSON every report.DefaultPollInterval for as
// long as the connection stays open, using the same report.Poller/Sink
// abstraction the Prometheus and console reporters use.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Controller != nil {
		writeError(w, http.StatusNotImplemented, errors.New("live streaming is only available for a standalone server; poll the snapshot endpoint for a distributed test"))
		return
	}

	testID := chi.URLParam(r, "testID")
	if _, ok := s.snapshotFor(testID); !ok {
		writeError(w, http.StatusNotFound, errUnknownTest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	writeErrCh := make(chan error, 1)

	poller := report.NewPoller(
		report.SnapshotFunc(func() metrics.Snapshot {
			snap, _ := s.snapshotFor(testID)
			return snap
		}),
		report.DefaultPollInterval,
		s.log,
	)
	poller.AddSink(report.SinkFunc(func(snap metrics.Snapshot) {
		data, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			select {
			case writeErrCh <- err:
			default:
			}
		}
	}))

	// Drain client-initiated control frames (pings/close) in the
	// background so the connection doesn't look stalled to proxies.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-writeErrCh:
	case <-done:
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
