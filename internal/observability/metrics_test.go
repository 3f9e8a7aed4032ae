package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a := NewMetrics("durmah")
	b := NewMetrics("durmah")

	a.Turns.WithLabelValues("completed").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Turns.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Turns.WithLabelValues("completed")))
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("durmah_test")
	m.ObserveStage("llm", 250*time.Millisecond)
	m.DroppedAudio.WithLabelValues("busy").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `durmah_test_stage_latency_ms_bucket{stage="llm"`)
	assert.Contains(t, string(body), `durmah_test_dropped_audio_chunks_total{reason="busy"} 1`)
}
