package report

import (
	"bytes"
	"testing"

	"github.com/FairForge/loadstorm/internal/metrics"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Total:        100,
		Success:      95,
		Failure:      5,
		CurrentTPS:   50,
		OverallTPS:   48,
		AvgLatencyMs: 12.5,
		SuccessRate:  0.95,
		Percentiles:  map[float64]float64{10: 1, 25: 2, 50: 5, 75: 8, 90: 12, 95: 15, 99: 20},
		StatusCodes:  map[int]int64{200: 95, 500: 5},
		TopErrors:    []metrics.ErrorCount{{Class: "boom", Count: 5}},
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	snap := sampleSnapshot()
	require.NoError(t, WriteJSON(&buf, snap))

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	require.Equal(t, snap.Total, got.Total)
	require.Equal(t, snap.Success, got.Success)
	require.InDelta(t, snap.Percentiles[50], got.Percentiles["50"], 0.0001)
	require.Equal(t, "boom", got.TopErrors[0].Class)
}

func TestCSVWriterWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	require.NoError(t, w.Write(sampleSnapshot()))
	require.NoError(t, w.Write(sampleSnapshot()))

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	require.Equal(t, 3, lines) // header + 2 rows
}

func TestWriteConsoleIncludesPercentiles(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteConsole(&buf, sampleSnapshot()))
	require.Contains(t, buf.String(), "p99=20.00ms")
}
