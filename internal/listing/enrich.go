package listing

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/island"
)

// Detail cache locations inside the detail-page island, tried in order.
var detailCachePaths = [][]string{
	island.Path("props.pageProps.componentProps.gdpClientCache"),
	island.Path("props.pageProps.gdpClientCache"),
}

type detailProperty struct {
	StreetAddress string        `json:"streetAddress"`
	City          string        `json:"city"`
	State         string        `json:"state"`
	Zipcode       string        `json:"zipcode"`
	Latitude      *float64      `json:"latitude"`
	Longitude     *float64      `json:"longitude"`
	Bedrooms      *float64      `json:"bedrooms"`
	Bathrooms     *float64      `json:"bathrooms"`
	Price         *float64      `json:"price"`
	LivingArea    *float64      `json:"livingArea"`
	LotSize       *float64      `json:"lotSize"`
	LotAreaValue  *float64      `json:"lotAreaValue"`
	YearBuilt     *float64      `json:"yearBuilt"`
	HomeType      string        `json:"homeType"`
	Zestimate     *float64      `json:"zestimate"`
	RentZestimate *float64      `json:"rentZestimate"`
	Description   string        `json:"description"`
	Photos        []detailPhoto `json:"photos"`
}

// Enricher builds full records from listing detail pages.
type Enricher struct {
	fetcher    crawler.Fetcher
	extractor  *island.Extractor
	normalizer *Normalizer
}

// NewEnricher wires the collaborators used for detail enrichment.
func NewEnricher(fetcher crawler.Fetcher, extractor *island.Extractor, normalizer *Normalizer) (*Enricher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	return &Enricher{fetcher: fetcher, extractor: extractor, normalizer: normalizer}, nil
}

// Enrich fetches the stub's detail page and merges it behind the stub's own
// fields. It returns crawler.ErrEnrichmentSkip when the page holds no
// property with photos; fetch and extraction failures pass through as-is.
func (e *Enricher) Enrich(ctx context.Context, stub crawler.ListingStub) (crawler.Property, error) {
	detailURL := e.normalizer.DetailURL(stub)
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: detailURL, Method: http.MethodGet})
	if err != nil {
		return crawler.Property{}, err
	}
	payload, err := e.extractor.Extract(string(resp.Body))
	if err != nil {
		return crawler.Property{}, fmt.Errorf("detail page %s: %w", detailURL, err)
	}
	detail, ok := findDetailProperty(payload)
	if !ok {
		return crawler.Property{}, fmt.Errorf("detail page %s: %w", detailURL, crawler.ErrEnrichmentSkip)
	}
	return e.merge(stub, detail), nil
}

func (e *Enricher) merge(stub crawler.ListingStub, d detailProperty) crawler.Property {
	p := e.normalizer.Normalize(stub)
	if strings.TrimSpace(stub.Address) == "" && d.StreetAddress != "" {
		p.Address = d.StreetAddress
	}
	if strings.TrimSpace(stub.City) == "" && d.City != "" {
		p.City = d.City
	}
	if strings.TrimSpace(stub.State) == "" && d.State != "" {
		p.State = d.State
	}
	if p.ZipCode == "" {
		p.ZipCode = strings.TrimSpace(d.Zipcode)
	}
	if p.Latitude == nil {
		p.Latitude = d.Latitude
	}
	if p.Longitude == nil {
		p.Longitude = d.Longitude
	}
	if stub.Beds == nil {
		p.Bedrooms = countOf(d.Bedrooms)
	}
	if stub.Baths == nil {
		p.Bathrooms = nonNegative(d.Bathrooms)
	}
	if p.Price == nil {
		p.Price = positiveInt64(d.Price)
	}
	if p.SquareFootage == nil {
		p.SquareFootage = positiveInt(d.LivingArea)
	}
	p.LotSize = positiveFloat(d.LotSize)
	if p.LotSize == nil {
		p.LotSize = positiveFloat(d.LotAreaValue)
	}
	p.YearBuilt = positiveInt(d.YearBuilt)
	if strings.TrimSpace(stub.PropertyType) == "" && d.HomeType != "" {
		p.PropertyType = HomeTypeLabel(d.HomeType)
	}
	p.Zestimate = positiveInt64(d.Zestimate)
	p.RentZestimate = positiveInt64(d.RentZestimate)
	p.Description = strings.TrimSpace(d.Description)

	if n, ok := UnitsFromText(p.Description); ok {
		p.UnitCount = n
		p.UnitCountSource = crawler.UnitsFromDescription
		p.UnitCountEstimated = false
		p.IsMultiUnit = isMultiUnit(p)
	} else {
		setEstimatedUnits(&p)
	}
	p.Images = selectImages(d.Photos, e.normalizer.cfg.MaxImages)
	return p
}

// findDetailProperty scans the detail cache for the first query entry, in key
// order, whose property carries photos.
func findDetailProperty(payload island.Payload) (detailProperty, bool) {
	for _, path := range detailCachePaths {
		cache, ok := payload.Object(path...)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(cache))
		for key := range cache {
			if isQueryKey(key) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			var entry struct {
				Property *detailProperty `json:"property"`
			}
			found, err := cache.Decode(&entry, key)
			if err != nil || !found || entry.Property == nil || len(entry.Property.Photos) == 0 {
				continue
			}
			return *entry.Property, true
		}
	}
	return detailProperty{}, false
}

// isQueryKey matches cache keys such as `ForSaleFullRenderQuery{"zpid":1}`.
func isQueryKey(key string) bool {
	name := key
	if i := strings.IndexByte(key, '{'); i >= 0 {
		name = key[:i]
	}
	return strings.HasSuffix(name, "Query")
}

// HomeTypeLabel turns identifiers like MULTI_FAMILY into "Multi-Family".
func HomeTypeLabel(homeType string) string {
	parts := strings.FieldsFunc(strings.ToLower(homeType), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "-")
}
