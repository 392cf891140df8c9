package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Turn("morning_planning")
	m.Turn("morning_planning")
	m.Turn("ad_hoc")
	m.ParseFallback()
	m.StoreError("get")
	m.Delivery("sent")
	m.LLMLatency(1500 * time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`anchor_turns_total{message_type="morning_planning"} 2`,
		`anchor_turns_total{message_type="ad_hoc"} 1`,
		`anchor_parse_fallbacks_total 1`,
		`anchor_store_errors_total{op="get"} 1`,
		`anchor_deliveries_total{result="sent"} 1`,
		`anchor_llm_latency_seconds_count 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Turn("reflection")

	assert.Contains(t, scrape(t, m), `anchor_turns_total{message_type="reflection"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Turn("ad_hoc")
	m.ParseFallback()
	m.StoreError("put")
	m.Delivery("failed")
	m.LLMLatency(time.Second)
	assert.Nil(t, m.Registry())
}
