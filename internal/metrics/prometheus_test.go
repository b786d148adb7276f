package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New("statuscat")

	m.CacheLookup(LookupHit)
	m.CacheLookup(LookupMiss)
	m.CacheLookup(LookupMiss)
	m.ProviderFetch(FetchNotFound)
	m.ObserveRequest(http.MethodGet, http.StatusOK, 5*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(LookupHit)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.lookupsTotal.WithLabelValues(LookupMiss)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fetchesTotal.WithLabelValues(FetchNotFound)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200")))
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.CacheLookup(LookupHit)
		m.ProviderFetch(FetchOK)
		m.ObserveRequest(http.MethodPut, http.StatusCreated, time.Millisecond)
	})
	require.Nil(t, m.Registry())
}

func TestMetricsServerExposesCollectors(t *testing.T) {
	m := New("statuscat")
	m.ProviderFetch(FetchOK)

	srv := httptest.NewServer(NewServer("", m).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `statuscat_provider_fetches_total{result="ok"} 1`))
}
