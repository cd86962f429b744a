package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/pipeline"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/listing-crawler/internal/uploads"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeScraper struct {
	result pipeline.IngestResult
	err    error
	calls  int
}

func (f *fakeScraper) Ingest(_ context.Context) (pipeline.IngestResult, error) {
	f.calls++
	return f.result, f.err
}

type failingStore struct{}

func (failingStore) Load(context.Context) ([]crawler.Property, error) {
	return nil, errors.New("store offline")
}

func (failingStore) Update(context.Context, crawler.UpdateFunc) ([]crawler.Property, error) {
	return nil, errors.New("store offline")
}

func price(v int64) *int64 { return &v }

func property(id, city string, beds int, p *int64, scraped time.Time) crawler.Property {
	return crawler.Property{
		ID:        id,
		Address:   id + " Main St",
		City:      city,
		State:     "OH",
		Bedrooms:  beds,
		Bathrooms: 2,
		Price:     p,
		UnitCount: 2,
		ScrapedAt: scraped,
		IsActive:  true,
		Images:    []crawler.ImageRef{{URL: "https://img.example/" + id + ".jpg", IsHero: true}},
	}
}

type harness struct {
	server  *Server
	scraper *fakeScraper
	uploads string
}

func newHarness(t *testing.T, store crawler.PropertyStore, cfg Config) harness {
	t.Helper()
	dir := t.TempDir()
	root, err := uploads.New(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(root.Dir(), 0o755))
	scraper := &fakeScraper{}
	srv, err := NewServer(scraper, store, root, fakeClock{now: testNow}, cfg, zap.NewNop())
	require.NoError(t, err)
	return harness{server: srv, scraper: scraper, uploads: root.Dir()}
}

func (h harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	root, err := uploads.New(t.TempDir())
	require.NoError(t, err)
	_, err = NewServer(nil, memory.NewStore(), root, fakeClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewServer(&fakeScraper{}, memory.NewStore(), root, nil, Config{}, nil)
	require.Error(t, err)
}

func TestScrapeReturnsRunSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	props := []crawler.Property{
		property("1", "Cincinnati", 4, price(200000), testNow),
		property("2", "Cincinnati", 6, nil, testNow),
		property("3", "Cincinnati", 8, price(300000), testNow),
		property("4", "Cincinnati", 2, price(100000), testNow),
	}
	h.scraper.result = pipeline.IngestResult{
		Report: crawler.RunReport{
			RunID:      "run-1",
			Source:     crawler.SourceLive,
			Found:      5,
			Processed:  5,
			Failed:     1,
			Properties: props,
		},
		NewProperties:   4,
		TotalProperties: 10,
		Merged:          true,
	}

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/scrape", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Scraping completed successfully", body["message"])
	data := body["data"].(map[string]any)
	require.Equal(t, "run-1", data["runId"])
	require.EqualValues(t, 4, data["newProperties"])
	require.EqualValues(t, 10, data["totalProperties"])
	require.EqualValues(t, 5, data["found"])
	require.EqualValues(t, 1, data["failed"])
	require.Equal(t, "live", data["source"])
	require.Equal(t, false, data["degraded"])
	samples := body["samples"].([]any)
	require.Len(t, samples, 3)
	first := samples[0].(map[string]any)
	require.Equal(t, "1", first["id"])
	require.EqualValues(t, 1, first["images"])
	require.Nil(t, samples[1].(map[string]any)["price"])
	require.Equal(t, 1, h.scraper.calls)
}

func TestScrapeDegradedRunIsFlagged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	h.scraper.result = pipeline.IngestResult{
		Report: crawler.RunReport{
			RunID:      "run-2",
			Source:     crawler.SourceFallback,
			Degraded:   true,
			Properties: []crawler.Property{property("fallback-001", "Cincinnati", 4, price(275000), testNow)},
		},
	}

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/scrape", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	require.Equal(t, "fallback", data["source"])
	require.Equal(t, true, data["degraded"])
}

func TestScrapeFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	h.scraper.err = errors.New("crawl run: blocked")

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/scrape", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Contains(t, body["error"], "blocked")
	require.Contains(t, body, "duration")
}

func TestScrapeRejectsGet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/scrape", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Contains(t, rec.Body.String(), "Use POST")
	require.Zero(t, h.scraper.calls)
}

func TestScrapeIsRateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{ScrapeRatePerMinute: 1})

	first := h.do(t, httptest.NewRequest(http.MethodPost, "/api/scrape", nil))
	second := h.do(t, httptest.NewRequest(http.MethodPost, "/api/scrape", nil))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, 1, h.scraper.calls)
}

func TestOptionsReturnsCORSHeaders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{CORSOrigin: "https://app.example"})

	rec := h.do(t, httptest.NewRequest(http.MethodOptions, "/api/props", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestListPropertiesEmptyCollection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/props", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	body := decode(t, rec)
	require.Equal(t, emptyMessage, body["message"])
	require.Empty(t, body["data"])
	pagination := body["pagination"].(map[string]any)
	require.EqualValues(t, 0, pagination["totalCount"])
}

func TestListPropertiesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	inactive := property("9", "Cincinnati", 9, price(900000), testNow)
	inactive.IsActive = false
	store := memory.NewStore(
		property("1", "Cincinnati", 4, price(200000), testNow),
		property("2", "Norwood", 6, price(250000), testNow),
		property("3", "Cincinnati", 8, nil, testNow),
		property("4", "cincinnati", 5, price(400000), testNow),
		inactive,
	)
	h := newHarness(t, store, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/props?city=CINCI&bedrooms=4&priceMin=100000&pageSize=1&page=2", nil)
	rec := h.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.NotContains(t, body, "message")
	data := body["data"].([]any)
	require.Len(t, data, 1)
	summary := data[0].(map[string]any)
	require.Equal(t, "4", summary["id"])
	require.Equal(t, "https://img.example/4.jpg", summary["heroImage"])
	require.EqualValues(t, 1, summary["imageCount"])
	pagination := body["pagination"].(map[string]any)
	require.EqualValues(t, 2, pagination["totalCount"])
	require.EqualValues(t, 2, pagination["totalPages"])
	require.Equal(t, false, pagination["hasNext"])
	require.Equal(t, true, pagination["hasPrev"])
	filters := body["filters"].(map[string]any)
	require.Equal(t, "CINCI", filters["city"])
}

func TestListPropertiesRejectsMalformedNumbers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/props?priceMin=cheap", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProperty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(property("42", "Cincinnati", 4, price(200000), testNow)), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/props/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	require.Equal(t, "42", data["id"])
	require.Equal(t, "42 Main St", data["address"])

	missing := h.do(t, httptest.NewRequest(http.MethodGet, "/api/props/nope", nil))
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Contains(t, missing.Body.String(), "Property not found")
}

func TestStats(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(
		property("1", "Cincinnati", 4, price(150000), testNow.Add(-2*time.Hour)),
		property("2", "Norwood", 1, price(450000), testNow.Add(-48*time.Hour)),
	)
	h := newHarness(t, store, Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	data := body["data"].(map[string]any)
	overview := data["overview"].(map[string]any)
	require.EqualValues(t, 2, overview["totalProperties"])
	pricing := data["pricing"].(map[string]any)
	require.EqualValues(t, 300000, pricing["averagePrice"])
	activity := data["activity"].(map[string]any)
	require.EqualValues(t, 1, activity["recentlyScraped"])
	require.Contains(t, data, "storage")
	meta := body["meta"].(map[string]any)
	require.Equal(t, "Last updated 2 hours ago", meta["dataFreshness"])
}

func TestUploadsServesFilesWithCaching(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	dir := filepath.Join(h.uploads, "properties", "42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, "front.jpg")
	require.NoError(t, os.WriteFile(file, []byte("jpeg-bytes"), 0o644))
	mtime := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(file, mtime, mtime))

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/uploads/properties/42/front.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
	require.Equal(t, mtime.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	require.Equal(t, "10", rec.Header().Get("Content-Length"))
	require.Equal(t, "jpeg-bytes", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/uploads/properties/42/front.jpg", nil)
	req.Header.Set("If-Modified-Since", mtime.Format(http.TimeFormat))
	notModified := h.do(t, req)
	require.Equal(t, http.StatusNotModified, notModified.Code)
	require.Empty(t, notModified.Body.String())

	stale := httptest.NewRequest(http.MethodGet, "/uploads/properties/42/front.jpg", nil)
	stale.Header.Set("If-Modified-Since", mtime.Add(-time.Hour).Format(http.TimeFormat))
	require.Equal(t, http.StatusOK, h.do(t, stale).Code)
}

func TestUploadsRejectsBadPaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	require.NoError(t, os.MkdirAll(filepath.Join(h.uploads, "properties"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(h.uploads), "secret.txt"), []byte("x"), 0o644))

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "traversal", path: "/uploads/../secret.txt", code: http.StatusForbidden},
		{name: "missing", path: "/uploads/properties/none.png", code: http.StatusNotFound},
		{name: "directory", path: "/uploads/properties", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, false, decode(t, rec)["success"])
		})
	}
}

func TestProbes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})
	require.Equal(t, http.StatusOK, h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	require.Equal(t, http.StatusOK, h.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	broken := newHarness(t, failingStore{}, Config{})
	require.Equal(t, http.StatusServiceUnavailable, broken.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
	require.Equal(t, http.StatusInternalServerError, broken.do(t, httptest.NewRequest(http.MethodGet, "/api/props", nil)).Code)
}

func TestIndexListsEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(property("1", "Cincinnati", 4, nil, testNow)), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode(t, rec)
	require.Contains(t, body["endpoints"], "scrape")
	storage := body["storage"].(map[string]any)
	require.EqualValues(t, 1, storage["propertyCount"])
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.NewStore(), Config{})

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, false, decode(t, rec)["success"])
}
