package listing

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Normalizer maps search-result stubs to properties without network access.
type Normalizer struct {
	cfg    Config
	origin *url.URL
	clock  crawler.Clock
}

// NewNormalizer validates cfg and returns a Normalizer.
func NewNormalizer(cfg Config, clock crawler.Clock) (*Normalizer, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	cfg = cfg.withDefaults()
	origin, err := parseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}
	return &Normalizer{cfg: cfg, origin: origin, clock: clock}, nil
}

// Config returns the effective configuration.
func (n *Normalizer) Config() Config {
	return n.cfg
}

// Normalize produces the shallow record for stub, carrying a single
// placeholder hero image.
func (n *Normalizer) Normalize(stub crawler.ListingStub) crawler.Property {
	id := stub.ID()
	bedrooms := countOf(stub.Beds)
	p := crawler.Property{
		ID:            id,
		Address:       orDefault(stub.Address, UnknownAddress),
		City:          orDefault(stub.City, n.cfg.DefaultCity),
		State:         orDefault(stub.State, n.cfg.DefaultState),
		ZipCode:       strings.TrimSpace(stub.ZipCode),
		Bedrooms:      bedrooms,
		Bathrooms:     nonNegative(stub.Baths),
		Price:         ParsePrice(string(stub.Price)),
		SquareFootage: positiveInt(stub.Area),
		PropertyType:  orDefault(stub.PropertyType, n.cfg.DefaultPropertyType),
		SourceURL:     n.DetailURL(stub),
		ScrapedAt:     n.clock.Now().UTC(),
		IsActive:      true,
	}
	if stub.LatLong != nil {
		p.Latitude = stub.LatLong.Latitude
		p.Longitude = stub.LatLong.Longitude
	}
	setEstimatedUnits(&p)
	p.Images = []crawler.ImageRef{n.placeholder(id)}
	return p
}

// DetailURL resolves the stub's detail path against the origin. Absolute
// detail URLs on the origin host are kept; any other host is replaced by the
// origin, keeping path and query.
func (n *Normalizer) DetailURL(stub crawler.ListingStub) string {
	ref, err := url.Parse(strings.TrimSpace(stub.DetailURL))
	if err != nil {
		return n.origin.String() + stub.DetailURL
	}
	if n.foreign(ref) {
		ref = &url.URL{Path: ref.Path, RawPath: ref.RawPath, RawQuery: ref.RawQuery, Fragment: ref.Fragment}
	}
	return n.origin.ResolveReference(ref).String()
}

// foreign reports whether ref would leave the configured origin, either through
// another host (including protocol-relative "//host/..." forms) or a non-web scheme.
func (n *Normalizer) foreign(ref *url.URL) bool {
	if ref.Host != "" && !strings.EqualFold(ref.Host, n.origin.Host) {
		return true
	}
	switch strings.ToLower(ref.Scheme) {
	case "", "http", "https":
		return false
	default:
		return true
	}
}

func (n *Normalizer) placeholder(id string) crawler.ImageRef {
	return crawler.ImageRef{
		URL:        fmt.Sprintf(n.cfg.PlaceholderImageURL, url.QueryEscape(id)),
		IsHero:     true,
		OrderIndex: 0,
		AltText:    "Property image",
	}
}

func setEstimatedUnits(p *crawler.Property) {
	p.UnitCount = EstimateUnits(p.Bedrooms)
	p.UnitCountSource = crawler.UnitsFromBedrooms
	p.UnitCountEstimated = true
	p.IsMultiUnit = isMultiUnit(*p)
}

func isMultiUnit(p crawler.Property) bool {
	if p.UnitCount > 1 {
		return true
	}
	kind := strings.ToLower(p.PropertyType)
	return strings.Contains(kind, "multi") || strings.Contains(kind, "duplex") ||
		strings.Contains(kind, "triplex") || strings.Contains(kind, "apartment")
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func countOf(v *float64) int {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return 0
	}
	return int(math.Floor(*v))
}

func nonNegative(v *float64) float64 {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return 0
	}
	return *v
}

func positiveInt(v *float64) *int {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

func positiveInt64(v *float64) *int64 {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return nil
	}
	n := int64(math.Round(*v))
	return &n
}

func positiveFloat(v *float64) *float64 {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return nil
	}
	f := *v
	return &f
}
