package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := New()

	r.CacheHit("price")
	r.CacheHit("price")
	r.FetchResult("price", "success")
	r.FetchResult("financial", "transient")
	r.Coalesced("price")
	r.StaleServed("valuation")
	r.JobFinished("partial")
	r.ObserveRefresh("price", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheHits.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetches.WithLabelValues("financial", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.coalesced.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.staleServed.WithLabelValues("valuation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobs.WithLabelValues("partial")))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheHit("price")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheHits.WithLabelValues("price")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.CacheHit("price")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `portfolio_cache_hits_total{kind="price"} 1`)
}
