// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// UnitCountSource records how a Property's unit count was derived.
type UnitCountSource string

// Unit count sources.
const (
	UnitsFromDescription UnitCountSource = "description"
	UnitsFromBedrooms    UnitCountSource = "bedroom_heuristic"
)

// ImageRef describes one listing photo. Only URLs and metadata are captured.
type ImageRef struct {
	URL        string  `json:"url"`
	Filename   *string `json:"filename"`
	Width      *int    `json:"width"`
	Height     *int    `json:"height"`
	IsHero     bool    `json:"isHero"`
	OrderIndex int     `json:"orderIndex"`
	AltText    string  `json:"altText,omitempty"`
}

// Property is the canonical, persisted listing record keyed by ID.
type Property struct {
	ID                 string          `json:"id"`
	Address            string          `json:"address"`
	City               string          `json:"city"`
	State              string          `json:"state"`
	ZipCode            string          `json:"zipCode"`
	Latitude           *float64        `json:"latitude"`
	Longitude          *float64        `json:"longitude"`
	Bedrooms           int             `json:"bedrooms"`
	Bathrooms          float64         `json:"bathrooms"`
	Price              *int64          `json:"price"`
	SquareFootage      *int            `json:"squareFootage"`
	LotSize            *float64        `json:"lotSize"`
	YearBuilt          *int            `json:"yearBuilt"`
	PropertyType       string          `json:"propertyType"`
	UnitCount          int             `json:"unitCount"`
	UnitCountSource    UnitCountSource `json:"unitCountSource"`
	UnitCountEstimated bool            `json:"unitCountEstimated"`
	IsMultiUnit        bool            `json:"isMultiUnit"`
	Zestimate          *int64          `json:"zestimate"`
	RentZestimate      *int64          `json:"rentZestimate"`
	Description        string          `json:"description,omitempty"`
	SourceURL          string          `json:"sourceUrl"`
	ScrapedAt          time.Time       `json:"scrapedAt"`
	IsActive           bool            `json:"isActive"`
	Images             []ImageRef      `json:"images"`
}

// HeroImage returns the hero image, if any.
func (p Property) HeroImage() (ImageRef, bool) {
	for _, img := range p.Images {
		if img.IsHero {
			return img, true
		}
	}
	return ImageRef{}, false
}

// Clone returns a deep copy so callers can hand records across store
// boundaries without sharing slices or pointers.
func (p Property) Clone() Property {
	cp := p
	cp.Latitude = clonePtr(p.Latitude)
	cp.Longitude = clonePtr(p.Longitude)
	cp.Price = clonePtr(p.Price)
	cp.SquareFootage = clonePtr(p.SquareFootage)
	cp.LotSize = clonePtr(p.LotSize)
	cp.YearBuilt = clonePtr(p.YearBuilt)
	cp.Zestimate = clonePtr(p.Zestimate)
	cp.RentZestimate = clonePtr(p.RentZestimate)
	if p.Images != nil {
		cp.Images = make([]ImageRef, len(p.Images))
		for i, img := range p.Images {
			img.Filename = clonePtr(img.Filename)
			img.Width = clonePtr(img.Width)
			img.Height = clonePtr(img.Height)
			cp.Images[i] = img
		}
	}
	return cp
}

// CloneAll deep-copies a collection.
func CloneAll(props []Property) []Property {
	if props == nil {
		return nil
	}
	out := make([]Property, len(props))
	for i, p := range props {
		out[i] = p.Clone()
	}
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// LatLong is the coordinate pair carried by search results.
type LatLong struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ListingStub is one compact search-result entry. It is consumed by the
// normalizer or enricher and never persisted.
type ListingStub struct {
	ZPID         FlexString `json:"zpid"`
	Address      string     `json:"address"`
	City         string     `json:"addressCity"`
	State        string     `json:"addressState"`
	ZipCode      string     `json:"addressZipcode"`
	Beds         *float64   `json:"beds"`
	Baths        *float64   `json:"baths"`
	Price        FlexString `json:"price"`
	Area         *float64   `json:"area"`
	PropertyType string     `json:"propertyType"`
	DetailURL    string     `json:"detailUrl"`
	LatLong      *LatLong   `json:"latLong"`
}

// ID returns the external identifier of the stub.
func (s ListingStub) ID() string {
	return string(s.ZPID)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Method  string
	Body    []byte
	Headers http.Header
}

// FetchResponse is returned by Fetcher implementations. Non-2xx responses are
// returned with their body so block pages can be classified downstream.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// RunSource labels where a run's properties came from.
type RunSource string

// Run sources.
const (
	SourceLive     RunSource = "live"
	SourceFallback RunSource = "fallback"
)

// RunReport is the outcome of one orchestrator run.
type RunReport struct {
	RunID          string        `json:"runId"`
	Source         RunSource     `json:"source"`
	Degraded       bool          `json:"degraded"`
	FallbackReason string        `json:"fallbackReason,omitempty"`
	Found          int           `json:"found"`
	Processed      int           `json:"processed"`
	Enriched       int           `json:"enriched"`
	Shallow        int           `json:"shallow"`
	Failed         int           `json:"failed"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	Properties     []Property    `json:"properties"`
}

// Succeeded returns the number of items that produced a Property.
func (r RunReport) Succeeded() int {
	return r.Enriched + r.Shallow
}
