package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.Sync("bootstrap", 20*time.Millisecond, 0)
	m.Sync("sync", time.Millisecond, 3)
	m.TestRun("pytest", true)
	m.TestRun("pytest", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncs.WithLabelValues("sync")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reparsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.testRuns.WithLabelValues("pytest", "no_result")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheLookup(true)
	m.Sync("sync", 0, 1)
	m.TestRun("jest", true)
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheLookup(false)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bmdash_cache_lookups_total{result="miss"} 1`)
}
