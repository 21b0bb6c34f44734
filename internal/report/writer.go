package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/FairForge/loadstorm/internal/metrics"
)

// jsonSnapshot is the wire shape written by WriteJSON and read back by
// ReadJSON.
type jsonSnapshot struct {
	Total        int64              `json:"total"`
	Success      int64              `json:"success"`
	Failure      int64              `json:"failure"`
	ElapsedMs    int64              `json:"elapsed_ms"`
	CurrentTPS   float64            `json:"current_tps"`
	OverallTPS   float64            `json:"overall_tps"`
	AvgLatencyMs float64            `json:"avg_latency_ms"`
	SuccessRate  float64            `json:"success_rate"`
	AvgRespBytes float64            `json:"avg_response_bytes"`
	Percentiles  map[string]float64 `json:"percentiles"`
	StatusCodes  map[string]int64   `json:"status_codes"`
	TopErrors    []errorCountJSON   `json:"top_errors"`
}

type errorCountJSON struct {
	Class string `json:"class"`
	Count int64  `json:"count"`
}

func toJSONSnapshot(s metrics.Snapshot) jsonSnapshot {
	percentiles := make(map[string]float64, len(s.Percentiles))
	for p, v := range s.Percentiles {
		percentiles[strconv.FormatFloat(p, 'f', -1, 64)] = v
	}
	statusCodes := make(map[string]int64, len(s.StatusCodes))
	for code, n := range s.StatusCodes {
		statusCodes[strconv.Itoa(code)] = n
	}
	errs := make([]errorCountJSON, len(s.TopErrors))
	for i, e := range s.TopErrors {
		errs[i] = errorCountJSON{Class: e.Class, Count: e.Count}
	}
	return jsonSnapshot{
		Total:        s.Total,
		Success:      s.Success,
		Failure:      s.Failure,
		ElapsedMs:    s.Elapsed.Milliseconds(),
		CurrentTPS:   s.CurrentTPS,
		OverallTPS:   s.OverallTPS,
		AvgLatencyMs: s.AvgLatencyMs,
		SuccessRate:  s.SuccessRate,
		AvgRespBytes: s.AvgRespBytes,
		Percentiles:  percentiles,
		StatusCodes:  statusCodes,
		TopErrors:    errs,
	}
}

// WriteJSON serialises snap to w. Round-tripping through ReadJSON yields
// an equal jsonSnapshot.
func WriteJSON(w io.Writer, snap metrics.Snapshot) error {
	enc := json.NewEncoder(w)
	return enc.Encode(toJSONSnapshot(snap))
}

// ReadJSON deserialises a snapshot previously written by WriteJSON.
func ReadJSON(r io.Reader) (jsonSnapshot, error) {
	var s jsonSnapshot
	err := json.NewDecoder(r).Decode(&s)
	return s, err
}

// csvPercentileOrder is fixed so CSVWriter can append rows without re-deriving
// column order from the percentile map each call (map iteration order is
// not stable).
var csvPercentileOrder = []float64{10, 25, 50, 75, 90, 95, 99}

// CSVWriter appends one snapshot per row to an underlying csv.Writer,
// writing the header on first use.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter wraps w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends snap as one row, writing the header first if this is the
// first call.
func (c *CSVWriter) Write(snap metrics.Snapshot) error {
	if !c.wroteHeader {
		header := []string{"timestamp", "total", "success", "failure", "elapsed_ms",
			"current_tps", "overall_tps", "avg_latency_ms", "success_rate", "avg_response_bytes"}
		for _, p := range csvPercentileOrder {
			header = append(header, "p"+strconv.FormatFloat(p, 'f', -1, 64))
		}
		if err := c.w.Write(header); err != nil {
			return err
		}
		c.wroteHeader = true
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(snap.Total, 10),
		strconv.FormatInt(snap.Success, 10),
		strconv.FormatInt(snap.Failure, 10),
		strconv.FormatInt(snap.Elapsed.Milliseconds(), 10),
		strconv.FormatFloat(snap.CurrentTPS, 'f', 2, 64),
		strconv.FormatFloat(snap.OverallTPS, 'f', 2, 64),
		strconv.FormatFloat(snap.AvgLatencyMs, 'f', 3, 64),
		strconv.FormatFloat(snap.SuccessRate, 'f', 4, 64),
		strconv.FormatFloat(snap.AvgRespBytes, 'f', 1, 64),
	}
	for _, p := range csvPercentileOrder {
		row = append(row, strconv.FormatFloat(snap.Percentiles[p], 'f', 3, 64))
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteConsole renders a one-line human-readable summary.
func WriteConsole(w io.Writer, snap metrics.Snapshot) error {
	_, err := fmt.Fprintf(w, "total=%d success=%d failure=%d tps=%.1f avg=%.2fms p50=%.2fms p95=%.2fms p99=%.2fms success_rate=%.2f%%\n",
		snap.Total, snap.Success, snap.Failure, snap.CurrentTPS, snap.AvgLatencyMs,
		snap.Percentiles[50], snap.Percentiles[95], snap.Percentiles[99], snap.SuccessRate*100)
	return err
}

// TopErrorsSorted is a small helper for reporters that want a stable
// ordering independent of the collector's own tie-breaking.
func TopErrorsSorted(snap metrics.Snapshot) []metrics.ErrorCount {
	out := make([]metrics.ErrorCount, len(snap.TopErrors))
	copy(out, snap.TopErrors)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}
