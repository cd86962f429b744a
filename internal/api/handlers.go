package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/catalog"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/uploads"
)

const (
	sampleCount    = 3
	emptyMessage   = "No properties found. Run /api/scrape first to collect data."
	uploadCacheTTL = "public, max-age=31536000"
)

var endpoints = map[string]string{
	"root":           "GET /",
	"scrape":         "POST /api/scrape - Trigger scraping job",
	"properties":     "GET /api/props - List properties with pagination and filters",
	"propertyDetail": "GET /api/props/{id} - Get single property details",
	"images":         "GET /uploads/{path} - Serve uploaded images",
	"stats":          "GET /api/stats - System statistics",
}

var propertyQueryParams = map[string]string{
	"page":      "Page number (default: 1)",
	"pageSize":  "Items per page (default: 20, max: 100)",
	"bedrooms":  "Minimum bedrooms",
	"bathrooms": "Minimum bathrooms",
	"priceMin":  "Minimum price",
	"priceMax":  "Maximum price",
	"city":      "City filter (substring)",
	"state":     "State filter (exact)",
}

type indexResponse struct {
	Success     bool                         `json:"success"`
	Message     string                       `json:"message"`
	Timestamp   string                       `json:"timestamp"`
	Endpoints   map[string]string            `json:"endpoints"`
	QueryParams map[string]map[string]string `json:"queryParams"`
	Storage     storageSummary               `json:"storage"`
}

type storageSummary struct {
	PropertyCount int           `json:"propertyCount"`
	Uploads       uploads.Usage `json:"uploads"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	props, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("load properties failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "API error")
		return
	}
	usage, err := s.uploads.Usage(s.cfg.DiskWarningBytes)
	if err != nil {
		s.logger.Warn("upload usage failed", zap.Error(err))
	}
	writeJSON(w, r, http.StatusOK, indexResponse{
		Success:     true,
		Message:     "Listing crawler API",
		Timestamp:   s.clock.Now().UTC().Format(time.RFC3339),
		Endpoints:   endpoints,
		QueryParams: map[string]map[string]string{"properties": propertyQueryParams},
		Storage:     storageSummary{PropertyCount: len(props), Uploads: usage},
	})
}

type scrapeData struct {
	RunID           string            `json:"runId"`
	NewProperties   int               `json:"newProperties"`
	TotalProperties int               `json:"totalProperties"`
	Found           int               `json:"found"`
	Processed       int               `json:"processed"`
	Failed          int               `json:"failed"`
	Duration        int64             `json:"duration"`
	Timestamp       string            `json:"timestamp"`
	Source          crawler.RunSource `json:"source"`
	Degraded        bool              `json:"degraded"`
}

type scrapeSample struct {
	ID        string  `json:"id"`
	Address   string  `json:"address"`
	Bedrooms  int     `json:"bedrooms"`
	Bathrooms float64 `json:"bathrooms"`
	Price     *int64  `json:"price"`
	Images    int     `json:"images"`
}

type scrapeResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    scrapeData     `json:"data"`
	Samples []scrapeSample `json:"samples"`
}

type scrapeFailure struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Error    string `json:"error"`
	Duration int64  `json:"duration"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed. Use POST to trigger scraping.")
		return
	}
	start := s.clock.Now()
	result, err := s.scraper.Ingest(r.Context())
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		s.logger.Error("scrape failed", zap.Error(err), zap.Int64("duration_ms", millis(elapsed)))
		writeJSON(w, r, http.StatusBadGateway, scrapeFailure{
			Message:  "Scraping failed",
			Error:    err.Error(),
			Duration: millis(elapsed),
		})
		return
	}

	report := result.Report
	message := "Scraping completed successfully"
	switch {
	case report.Degraded:
		message = "Scraping failed; placeholder data returned and not saved"
	case len(report.Properties) == 0:
		message = "Scraping completed but no properties found"
	}
	samples := make([]scrapeSample, 0, sampleCount)
	for _, p := range report.Properties {
		if len(samples) == sampleCount {
			break
		}
		samples = append(samples, scrapeSample{
			ID:        p.ID,
			Address:   p.Address,
			Bedrooms:  p.Bedrooms,
			Bathrooms: p.Bathrooms,
			Price:     p.Price,
			Images:    len(p.Images),
		})
	}
	writeJSON(w, r, http.StatusOK, scrapeResponse{
		Success: true,
		Message: message,
		Data: scrapeData{
			RunID:           report.RunID,
			NewProperties:   result.NewProperties,
			TotalProperties: result.TotalProperties,
			Found:           report.Found,
			Processed:       report.Processed,
			Failed:          report.Failed,
			Duration:        millis(elapsed),
			Timestamp:       s.clock.Now().UTC().Format(time.RFC3339),
			Source:          report.Source,
			Degraded:        report.Degraded,
		},
		Samples: samples,
	})
}

type listResponse struct {
	Success    bool               `json:"success"`
	Data       []catalog.Summary  `json:"data"`
	Pagination catalog.Pagination `json:"pagination"`
	Filters    catalog.Filter     `json:"filters"`
	Message    string             `json:"message,omitempty"`
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	query, err := catalog.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	props, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("load properties failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to load properties")
		return
	}
	page, pagination := catalog.Paginate(query.Filter.Apply(props), query.Page, query.PageSize)
	resp := listResponse{
		Success:    true,
		Data:       catalog.SummarizeAll(page),
		Pagination: pagination,
		Filters:    query.Filter,
	}
	if len(props) == 0 {
		resp.Message = emptyMessage
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type propertyResponse struct {
	Success bool             `json:"success"`
	Data    crawler.Property `json:"data"`
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	props, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("load properties failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to load property")
		return
	}
	p, ok := crawler.FindByID(props, id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "Property not found")
		return
	}
	writeJSON(w, r, http.StatusOK, propertyResponse{Success: true, Data: p})
}

type statsData struct {
	Overview catalog.Overview      `json:"overview"`
	Pricing  catalog.Pricing       `json:"pricing"`
	Property catalog.PropertyStats `json:"property"`
	Activity catalog.Activity      `json:"activity"`
	Storage  uploads.Usage         `json:"storage"`
}

type statsMeta struct {
	GeneratedAt   string `json:"generatedAt"`
	DataFreshness string `json:"dataFreshness"`
}

type statsResponse struct {
	Success bool      `json:"success"`
	Data    statsData `json:"data"`
	Meta    statsMeta `json:"meta"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	props, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("load properties failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to generate statistics")
		return
	}
	now := s.clock.Now().UTC()
	stats := catalog.ComputeStats(props, now)
	usage, err := s.uploads.Usage(s.cfg.DiskWarningBytes)
	if err != nil {
		s.logger.Warn("upload usage failed", zap.Error(err))
	}
	writeJSON(w, r, http.StatusOK, statsResponse{
		Success: true,
		Data: statsData{
			Overview: stats.Overview,
			Pricing:  stats.Pricing,
			Property: stats.Property,
			Activity: stats.Activity,
			Storage:  usage,
		},
		Meta: statsMeta{
			GeneratedAt:   now.Format(time.RFC3339),
			DataFreshness: catalog.Freshness(stats, now),
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	full, info, err := s.uploads.Open(rel)
	switch {
	case errors.Is(err, uploads.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Access denied")
		return
	case errors.Is(err, uploads.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.logger.Error("stat upload failed", zap.String("path", rel), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to serve file")
		return
	}

	modified := info.ModTime().UTC().Truncate(time.Second)
	h := w.Header()
	h.Set("Cache-Control", uploadCacheTTL)
	h.Set("Last-Modified", modified.Format(http.TimeFormat))
	if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !modified.After(since) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		s.logger.Error("open upload failed", zap.String("path", rel), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "Failed to serve file")
		return
	}
	defer func() { _ = f.Close() }()
	h.Set("Content-Type", uploads.ContentType(full))
	h.Set("Content-Length", formatContentLength(info.Size()))
	w.WriteHeader(http.StatusOK)
	if !wantsBody(r) {
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("stream upload failed", zap.String("path", rel), zap.Error(err))
	}
}
