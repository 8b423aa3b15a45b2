package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LogReceived("historical")
	m.LogFiltered("sender")
	m.DecodeFailed("malformed_data")
	m.RecordPersisted()
	m.StoreFailed("replica")
	m.LaneFailed("live")
	m.SetWatermark("t", "live", 10)
	m.SetTasks(map[string]int{"Running": 1})
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LogReceived("historical")
	m.LogReceived("historical")
	m.LogFiltered("sender")
	m.RecordPersisted()
	m.SetWatermark("demo", "live", 42)
	m.SetTasks(map[string]int{"Running": 2})
	m.SetTasks(map[string]int{"Stopped": 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LogsReceived.WithLabelValues("historical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogsFiltered.WithLabelValues("sender")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsPersisted))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Watermark.WithLabelValues("demo", "live")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Tasks))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "events_monitor_logs_received_total"))
}
