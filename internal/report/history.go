package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FairForge/loadstorm/internal/metrics"
	_ "github.com/lib/pq" // postgres driver, grounded in internal/database/postgres.go
)

// HistorySink archives Snapshots to Postgres. The core itself persists
// nothing; this is strictly an optional consumer layered on top of the
// snapshot poll loop.
type HistorySink struct {
	db     *sql.DB
	testID string
}

// NewHistorySink opens a connection to dsn and ensures the history table
// exists.
func NewHistorySink(ctx context.Context, dsn, testID string) (*HistorySink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open history db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, createHistoryTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("report: create history table: %w", err)
	}

	return &HistorySink{db: db, testID: testID}, nil
}

const createHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS loadstorm_snapshot_history (
	id BIGSERIAL PRIMARY KEY,
	test_id TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	total BIGINT NOT NULL,
	success BIGINT NOT NULL,
	failure BIGINT NOT NULL,
	current_tps DOUBLE PRECISION NOT NULL,
	overall_tps DOUBLE PRECISION NOT NULL,
	avg_latency_ms DOUBLE PRECISION NOT NULL,
	success_rate DOUBLE PRECISION NOT NULL,
	p50 DOUBLE PRECISION NOT NULL,
	p95 DOUBLE PRECISION NOT NULL,
	p99 DOUBLE PRECISION NOT NULL
)`

// Insert archives one snapshot. Implements Sink via SinkFunc at the call
// site (Insert's context comes from the caller, not the Sink interface).
func (h *HistorySink) Insert(ctx context.Context, snap metrics.Snapshot) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO loadstorm_snapshot_history
			(test_id, total, success, failure, current_tps, overall_tps, avg_latency_ms, success_rate, p50, p95, p99)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.testID, snap.Total, snap.Success, snap.Failure, snap.CurrentTPS, snap.OverallTPS,
		snap.AvgLatencyMs, snap.SuccessRate, snap.Percentiles[50], snap.Percentiles[95], snap.Percentiles[99])
	if err != nil {
		return fmt.Errorf("report: insert history row: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (h *HistorySink) Close() error {
	return h.db.Close()
}
