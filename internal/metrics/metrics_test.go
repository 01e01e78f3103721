package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaugesReflectCounters(t *testing.T) {
	m := New()
	m.RunsStarted.Add(3)
	m.Captures.Add(7)
	m.ActiveRuns.Add(1)
	m.UpdateDetectLatency(42 * time.Millisecond)

	expected := `
# HELP wagon_captures_total Wagon frames captured
# TYPE wagon_captures_total gauge
wagon_captures_total 7
# HELP wagon_detect_latency_ms Latency of the last detector call in milliseconds
# TYPE wagon_detect_latency_ms gauge
wagon_detect_latency_ms 42
# HELP wagon_runs_active Capture runs in progress
# TYPE wagon_runs_active gauge
wagon_runs_active 1
# HELP wagon_runs_started_total Capture runs started
# TYPE wagon_runs_started_total gauge
wagon_runs_started_total 3
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"wagon_captures_total", "wagon_detect_latency_ms", "wagon_runs_active", "wagon_runs_started_total")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(20)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wagon_frames_processed_total 20")
}
