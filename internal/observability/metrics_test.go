package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveJobCountsByStatus(t *testing.T) {
	m := NewMetrics()

	m.ObserveJob("authz:usage_flush", 5*time.Millisecond, nil)
	m.ObserveJob("authz:usage_flush", 5*time.Millisecond, nil)
	m.ObserveJob("roles:stats_snapshot", time.Second, errors.New("boom"))

	require.Equal(t, float64(2), testutil.ToFloat64(m.jobsProcessed.WithLabelValues("authz:usage_flush", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.jobsProcessed.WithLabelValues("roles:stats_snapshot", "error")))
}

func TestObserveDecision(t *testing.T) {
	m := NewMetrics()

	m.ObserveDecision("granted", 2*time.Millisecond)
	m.ObserveDecision("denied", 2*time.Millisecond)
	m.ObserveDecision("granted", 2*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(m.decisionsTotal.WithLabelValues("granted")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.decisionsTotal.WithLabelValues("denied")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("granted", time.Millisecond)
	m.ObserveCacheLookup(true)
	m.ObserveJob("authz:usage_flush", time.Millisecond, nil)
	require.NotNil(t, m.Handler())
	require.NotNil(t, m.Registerer())
}
