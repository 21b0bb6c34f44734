// Command loadstormd is the combined loadstorm binary: a standalone
// control-plane server, a distributed controller, or a worker node,
// selected by the configured role.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/loadstorm/internal/adapter/httptask"
	"github.com/FairForge/loadstorm/internal/api"
	"github.com/FairForge/loadstorm/internal/config"
	"github.com/FairForge/loadstorm/internal/controller"
	"github.com/FairForge/loadstorm/internal/coordstore"
	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/FairForge/loadstorm/internal/report"
	"github.com/FairForge/loadstorm/internal/rpc"
	"github.com/FairForge/loadstorm/internal/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	path := os.Getenv("LOADSTORM_CONFIG")
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if lvl, lerr := zap.ParseAtomicLevel(cfg.Server.LogLevel); lerr == nil {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = lvl
		if rebuilt, berr := zcfg.Build(); berr == nil {
			_ = logger.Sync()
			logger = rebuilt
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Distributed.Role {
	case "controller":
		runController(ctx, cfg, logger)
	case "worker":
		runWorker(ctx, cfg, logger)
	default:
		runStandalone(ctx, cfg, logger)
	}
}

// jwtSecret returns the control API's bearer-auth secret, or nil to leave
// the control API unauthenticated.
func jwtSecret() []byte {
	if v := os.Getenv("LOADSTORM_JWT_SECRET"); v != "" {
		return []byte(v)
	}
	return nil
}

func waitForShutdown(logger *zap.Logger, onShutdown func(ctx context.Context)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	onShutdown(ctx)
}

// runStandalone hosts the control API and runs tests in-process, with no
// distributed coordinator involved.
func runStandalone(_ context.Context, cfg config.Config, logger *zap.Logger) {
	registry := httptask.NewRegistry()
	server := api.NewServer(registry, nil, jwtSecret(), logger)
	for _, sink := range buildReporters(cfg, logger) {
		server.AddReportSink(sink)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server,
	}

	go waitForShutdown(logger, func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
	})

	logger.Info("loadstorm standalone server listening", zap.Int("port", cfg.Server.Port))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// runController hosts the distributed coordinator: the control API for
// starting/stopping tests across workers, plus the RPC endpoint workers
// heartbeat and push metrics to.
func runController(_ context.Context, cfg config.Config, logger *zap.Logger) {
	ctrlCfg := controller.Config{
		HeartbeatInterval: cfg.Distributed.HeartbeatInterval,
		DisconnectAfter:   2 * cfg.Distributed.HeartbeatInterval,
		MinSampleCount:    cfg.Distributed.MinSampleCount,
		AssignTimeout:     cfg.Distributed.AssignTimeout,
		StopTimeout:       cfg.Distributed.StopTimeout,
	}
	ctrl := controller.New(ctrlCfg, logger)
	ctrl.StartHealthSweep()
	defer ctrl.Stop()

	var store *coordstore.Store
	if cfg.Distributed.CoordStoreURL != "" {
		store = coordstore.New(cfg.Distributed.CoordStoreURL, "")
		defer func() { _ = store.Close() }()

		if existing, err := store.LoadWorkers(context.Background()); err != nil {
			logger.Warn("failed to load persisted workers from coordstore", zap.Error(err))
		} else {
			for _, w := range existing {
				ctrl.RegisterWorker(w.WorkerID, w.BaseURL)
			}
		}
	}

	for _, addr := range cfg.Distributed.WorkerAddrs {
		workerID := addr
		ctrl.RegisterWorker(workerID, "http://"+addr)
		if store != nil {
			_ = store.SaveWorker(context.Background(), coordstore.WorkerRecord{
				WorkerID: workerID,
				BaseURL:  "http://" + addr,
				JoinedAt: time.Now(),
			})
		}
	}

	rpcRouter := rpc.NewControllerServer(ctrl, logger)
	rpcSrv := &http.Server{Addr: cfg.Distributed.ListenAddr, Handler: rpcRouter}
	go func() {
		logger.Info("controller rpc endpoint listening", zap.String("addr", cfg.Distributed.ListenAddr))
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("controller rpc server failed", zap.Error(err))
		}
	}()

	apiSrv := api.NewServer(httptask.NewRegistry(), ctrl, jwtSecret(), logger)
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: apiSrv}

	go waitForShutdown(logger, func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
		_ = rpcSrv.Shutdown(ctx)
	})

	logger.Info("loadstorm controller api listening", zap.Int("port", cfg.Server.Port))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// runWorker hosts a worker node: it registers no HTTP control API of its
// own beyond the rpc.WorkerService endpoint the controller calls.
func runWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	workerID := cfg.Distributed.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	controllerClient := rpc.NewControllerClient("http://"+cfg.Distributed.ControllerAddr, cfg.Distributed.AssignTimeout)

	node := worker.New(worker.Config{
		ID:                  workerID,
		Hostname:            cfg.Distributed.Hostname,
		MaxCapacity:         cfg.Distributed.MaxCapacity,
		SupportedTaskTypes:  cfg.Distributed.SupportedTaskTypes,
		Metadata:            cfg.Distributed.Metadata,
		HeartbeatInterval:   cfg.Distributed.HeartbeatInterval,
		MetricsPushInterval: cfg.Distributed.MetricsPushInterval,
	}, worker.RegistryFunc(httptask.NewRegistry().Factory), controllerClient, logger)

	node.Start(ctx)
	defer node.Stop()

	rpcRouter := rpc.NewWorkerServer(node, logger)
	httpSrv := &http.Server{Addr: cfg.Distributed.ListenAddr, Handler: rpcRouter}

	go waitForShutdown(logger, func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
	})

	logger.Info("loadstorm worker listening",
		zap.String("worker_id", workerID),
		zap.String("addr", cfg.Distributed.ListenAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("worker server failed", zap.Error(err))
	}
}

// buildReporters wires the Prometheus exporter and the console writer
// when cfg.Report enables them. They are handed to each test's
// runner.Metrics() once the control API starts one. cfg.Report's
// JSONPath, CSVPath, HistoryDSN and PollInterval are not read here, so
// no JSON, CSV or Postgres history sink is built.
func buildReporters(cfg config.Config, logger *zap.Logger) []report.Sink {
	var sinks []report.Sink
	if cfg.Report.PrometheusEnabled {
		exporter := report.NewPromExporter("loadstorm")
		sinks = append(sinks, report.SinkFunc(exporter.Update))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", exporter.Handler())
			addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
			logger.Info("prometheus exporter listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("prometheus exporter failed", zap.Error(err))
			}
		}()
	}
	if cfg.Report.ConsoleEnabled {
		sinks = append(sinks, report.SinkFunc(func(snap metrics.Snapshot) {
			_ = report.WriteConsole(os.Stdout, snap)
		}))
	}
	return sinks
}
