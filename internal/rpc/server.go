package rpc

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// WorkerService is implemented by a worker node to serve controller RPCs.
type WorkerService interface {
	AssignTask(ctx context.Context, a Assignment) (AssignResult, error)
	StopTest(ctx context.Context, req StopRequest) (StopResult, error)
}

// NewWorkerServer builds the gorilla/mux router a worker node mounts to
// receive AssignTask/StopTest calls from the controller. Kept as its own
// router (not merged into the control-plane chi router) because the RPC
// transport and the human-facing control API are different concerns with
// different encodings.
func NewWorkerServer(svc WorkerService, log *zap.Logger) *mux.Router {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rpc.worker")

	r := mux.NewRouter()
	r.HandleFunc("/rpc/assign", func(w http.ResponseWriter, req *http.Request) {
		var a Assignment
		if err := readFrame(req.Body, &a); err != nil {
			log.Warn("decode AssignTask request failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := svc.AssignTask(req.Context(), a)
		if err != nil {
			log.Error("AssignTask failed", zap.String("testId", a.TestID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		if err := writeFrame(w, resp); err != nil {
			log.Error("encode AssignTask response failed", zap.Error(err))
		}
	}).Methods(http.MethodPost)

	r.HandleFunc("/rpc/stop", func(w http.ResponseWriter, req *http.Request) {
		var sr StopRequest
		if err := readFrame(req.Body, &sr); err != nil {
			log.Warn("decode StopTest request failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := svc.StopTest(req.Context(), sr)
		if err != nil {
			log.Error("StopTest failed", zap.String("testId", sr.TestID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		if err := writeFrame(w, resp); err != nil {
			log.Error("encode StopTest response failed", zap.Error(err))
		}
	}).Methods(http.MethodPost)

	return r
}

// ControllerService is implemented by the controller to receive worker
// pushes.
type ControllerService interface {
	Heartbeat(ctx context.Context, info HeartbeatInfo) error
	PushMetrics(ctx context.Context, m WorkerMetrics) error
}

// NewControllerServer builds the router the controller mounts to receive
// Heartbeat/PushMetrics calls from workers.
func NewControllerServer(svc ControllerService, log *zap.Logger) *mux.Router {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rpc.controller")

	r := mux.NewRouter()
	r.HandleFunc("/rpc/heartbeat", func(w http.ResponseWriter, req *http.Request) {
		var info HeartbeatInfo
		if err := readFrame(req.Body, &info); err != nil {
			log.Warn("decode Heartbeat request failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.Heartbeat(req.Context(), info); err != nil {
			log.Error("Heartbeat failed", zap.String("workerId", info.WorkerID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_ = writeFrame(w, Ack{})
	}).Methods(http.MethodPost)

	r.HandleFunc("/rpc/metrics", func(w http.ResponseWriter, req *http.Request) {
		var m WorkerMetrics
		if err := readFrame(req.Body, &m); err != nil {
			log.Warn("decode PushMetrics request failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.PushMetrics(req.Context(), m); err != nil {
			log.Error("PushMetrics failed", zap.String("workerId", m.WorkerID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_ = writeFrame(w, Ack{})
	}).Methods(http.MethodPost)

	return r
}
