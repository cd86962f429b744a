package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListingStubDecodesFlexibleFields(t *testing.T) {
	t.Parallel()

	raw := `[
		{"zpid": 123456, "price": "$275,000", "beds": 4, "baths": 2.5, "latLong": {"latitude": 39.1, "longitude": -84.5}},
		{"zpid": "987", "price": 310000},
		{"zpid": null, "price": null}
	]`
	var stubs []ListingStub
	require.NoError(t, json.Unmarshal([]byte(raw), &stubs))
	require.Len(t, stubs, 3)

	require.Equal(t, "123456", stubs[0].ID())
	require.Equal(t, FlexString("$275,000"), stubs[0].Price)
	require.InDelta(t, 2.5, *stubs[0].Baths, 0.001)
	require.InDelta(t, 39.1, *stubs[0].LatLong.Latitude, 0.001)

	require.Equal(t, "987", stubs[1].ID())
	require.Equal(t, FlexString("310000"), stubs[1].Price)

	require.Empty(t, stubs[2].ID())
	require.Empty(t, stubs[2].Price)
}

func TestFlexStringRejectsObjects(t *testing.T) {
	t.Parallel()

	var f FlexString
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &f))
}

func TestPropertyHeroImage(t *testing.T) {
	t.Parallel()

	p := Property{Images: []ImageRef{{URL: "hero", IsHero: true}, {URL: "second", OrderIndex: 1}}}
	hero, ok := p.HeroImage()
	require.True(t, ok)
	require.Equal(t, "hero", hero.URL)

	_, ok = Property{}.HeroImage()
	require.False(t, ok)
}

func TestRunReportSucceeded(t *testing.T) {
	t.Parallel()

	require.Equal(t, 5, RunReport{Enriched: 3, Shallow: 2, Failed: 1}.Succeeded())
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	var err error = &FetchError{URL: "https://example.com", Cause: cause}
	wrapped := fmt.Errorf("search page: %w", err)

	var fetchErr *FetchError
	require.ErrorAs(t, wrapped, &fetchErr)
	require.ErrorIs(t, wrapped, cause)
	require.Contains(t, err.Error(), "https://example.com")

	blocked := fmt.Errorf("detail: %w", &ExtractionFailure{Reason: ReasonBlocked, Detail: "captcha"})
	require.True(t, IsBlocked(blocked))
	require.False(t, IsBlocked(&ExtractionFailure{Reason: ReasonNotFound}))
	require.Contains(t, blocked.Error(), "blocked")
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(2, 10*time.Millisecond, 40*time.Millisecond)
	fetchErr := &FetchError{URL: "u", Cause: errors.New("reset")}

	require.True(t, policy.ShouldRetry(fetchErr, 1))
	require.True(t, policy.ShouldRetry(fetchErr, 2))
	require.False(t, policy.ShouldRetry(fetchErr, 3))
	require.False(t, policy.ShouldRetry(nil, 1))
	require.False(t, policy.ShouldRetry(&ExtractionFailure{Reason: ReasonBlocked}, 1))
	require.False(t, policy.ShouldRetry(&FetchError{Cause: context.Canceled}, 1))

	for attempt := 0; attempt < 5; attempt++ {
		backoff := policy.Backoff(attempt)
		require.LessOrEqual(t, backoff, 40*time.Millisecond)
		require.GreaterOrEqual(t, backoff, 5*time.Millisecond)
	}

	require.False(t, NoRetry{}.ShouldRetry(fetchErr, 1))
	require.Zero(t, NoRetry{}.Backoff(3))
}
