package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserversIncrementCounters(t *testing.T) {
	Init()
	Init()

	beforeRuns := testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("live"))
	ObserveRun("live")
	require.InDelta(t, beforeRuns+1, testutil.ToFloat64(crawlerRunsTotal.WithLabelValues("live")), 0.001)

	beforeItems := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("failed"))
	ObserveItem("failed")
	ObserveItem("failed")
	require.InDelta(t, beforeItems+2, testutil.ToFloat64(crawlerItemsTotal.WithLabelValues("failed")), 0.001)

	beforeFetch := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("detail", "error"))
	ObserveFetch("detail", "error")
	require.InDelta(t, beforeFetch+1, testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("detail", "error")), 0.001)

	beforeBlocked := testutil.ToFloat64(crawlerExtractionFailuresTotal.WithLabelValues("blocked"))
	ObserveExtractionFailure("blocked")
	require.InDelta(t, beforeBlocked+1, testutil.ToFloat64(crawlerExtractionFailuresTotal.WithLabelValues("blocked")), 0.001)

	beforeAdded := testutil.ToFloat64(crawlerPropertiesAddedTotal)
	ObservePropertiesAdded(3)
	ObservePropertiesAdded(0)
	require.InDelta(t, beforeAdded+3, testutil.ToFloat64(crawlerPropertiesAddedTotal), 0.001)

	ObserveRateLimitDelay("example.com", 20*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(crawlerRateLimitDelaySeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://zillow.com/homes", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
