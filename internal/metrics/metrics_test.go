package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(KindRun, 20*time.Millisecond, nil)
	m.Observe(KindRun, 5*time.Millisecond, errors.New("boom"))
	m.Observe(KindSweep, time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(KindRun, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(KindRun, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(KindSweep, "ok")))
}

func TestSetLatestAndHandler(t *testing.T) {
	m := New()
	m.SetLatest(3.6e6, 58.2, 120)
	m.StoreError()

	assert.Equal(t, 3.6e6, testutil.ToFloat64(m.lastEnergy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tanksim_last_final_tank_temperature_celsius 58.2")
	assert.Contains(t, string(body), "tanksim_store_errors_total 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe(KindRun, time.Second, nil)
		m.SetLatest(1, 2, 3)
		m.StoreError()
	})
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Observe(KindRun, time.Millisecond, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsTotal.WithLabelValues(KindRun, "ok")))
}
