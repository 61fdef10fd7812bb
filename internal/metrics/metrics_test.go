package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsIndependentRegistries(t *testing.T) {
	a := New("test")
	b := New("test")

	a.ObserveDetections("anonymize", map[string]int{"PHONE": 2, "NAME": 1})
	a.ObserveRequest("POST", "/v1/anonymize", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.PIIDetected.WithLabelValues("PHONE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Operations.WithLabelValues("anonymize")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Operations.WithLabelValues("anonymize")))
}

func TestMetricsHandler(t *testing.T) {
	m := New("case_sentinel")
	m.RateLimited.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "case_sentinel_rate_limited_total 1"))
}
