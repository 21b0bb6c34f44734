package report

import (
	"context"
	"time"

	"github.com/FairForge/loadstorm/internal/metrics"
	"go.uber.org/zap"
)

// SnapshotSource is anything a Poller can pull a point-in-time view from:
// a single-node metrics.Collector or a distributed controller.Aggregate
// result adapted to the same shape.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func() metrics.Snapshot

// Snapshot implements SnapshotSource.
func (f SnapshotFunc) Snapshot() metrics.Snapshot { return f() }

// Sink receives each polled Snapshot. PromExporter.Update, WriteConsole,
// CSVWriter.Write, and HistorySink.Insert are all valid Sinks once
// adapted with SinkFunc.
type Sink interface {
	Accept(metrics.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(metrics.Snapshot)

// Accept implements Sink.
func (f SinkFunc) Accept(s metrics.Snapshot) { f(s) }

// DefaultPollInterval is the cadence at which consumers see a fresh
// snapshot unless they configure their own.
const DefaultPollInterval = 500 * time.Millisecond

// Poller pulls Snapshot from source at a fixed interval and forwards it
// to every registered Sink. Push streams (websocket, Prometheus, files)
// are all built on this pull loop: the metrics core never calls out to
// consumers itself.
type Poller struct {
	source   SnapshotSource
	interval time.Duration
	sinks    []Sink
	log      *zap.Logger
}

// NewPoller builds a Poller. interval<=0 uses DefaultPollInterval. log may
// be nil.
func NewPoller(source SnapshotSource, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{source: source, interval: interval, log: log.Named("report.poller")}
}

// AddSink registers a sink to receive every polled snapshot.
func (p *Poller) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := p.source.Snapshot()
			for _, s := range p.sinks {
				s.Accept(snap)
			}
		case <-ctx.Done():
			return
		}
	}
}
