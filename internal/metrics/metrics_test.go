package metrics

import (
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://WWW.Amazon.com/product-reviews/B0B2VRF2W9/", "www.amazon.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestFetchOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, FetchOutcome(harvest.Page{StatusCode: http.StatusOK}, nil))
	assert.Equal(t, OutcomeNotFound, FetchOutcome(harvest.Page{StatusCode: http.StatusNotFound}, nil))
	assert.Equal(t, OutcomeHTTPError, FetchOutcome(harvest.Page{StatusCode: 503}, &harvest.StatusError{StatusCode: 503}))
	assert.Equal(t, OutcomeError, FetchOutcome(harvest.Page{}, errors.New("timeout")))
}

func TestObserverFeedsCollectors(t *testing.T) {
	Init()
	obs := Observer{}
	url := "https://metrics-test.example/product-reviews/B0B2VRF2W9/"

	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics-test.example", OutcomeNotFound))
	obs.ObserveFetch("B0B2VRF2W9", harvest.Page{URL: url, StatusCode: http.StatusNotFound}, nil)
	assert.InDelta(t, before+1, testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics-test.example", OutcomeNotFound)), 0.001)

	beforeRotate := testutil.ToFloat64(transitionsTotal.WithLabelValues(string(harvest.ActionSortRotate)))
	obs.ObserveTransition("B0B2VRF2W9", harvest.Decision{Action: harvest.ActionSortRotate}, harvest.CrawlState{})
	assert.InDelta(t, beforeRotate+1, testutil.ToFloat64(transitionsTotal.WithLabelValues(string(harvest.ActionSortRotate))), 0.001)

	beforeSkipped := testutil.ToFloat64(recordsTotal.WithLabelValues("skipped"))
	obs.ObserveExtract("B0B2VRF2W9", 3, 2)
	assert.InDelta(t, beforeSkipped+2, testutil.ToFloat64(recordsTotal.WithLabelValues("skipped")), 0.001)
}

func TestObserveHarvest(t *testing.T) {
	Init()
	before := testutil.ToFloat64(duplicatesRemovedTotal)
	ObserveHarvest("done", 4)
	ObserveHarvest("failed", 0)
	assert.InDelta(t, before+4, testutil.ToFloat64(duplicatesRemovedTotal), 0.001)
	assert.GreaterOrEqual(t, testutil.ToFloat64(harvestsTotal.WithLabelValues("failed")), 1.0)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://www.amazon.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
