package pipeline

import (
	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// FallbackIDPrefix marks properties from the built-in placeholder dataset.
const FallbackIDPrefix = "fallback-"

func floatPtr(v float64) *float64 { return &v }

// fallbackStubs is the placeholder dataset served when the search page
// cannot be read and the fallback policy is enabled.
func fallbackStubs() []crawler.ListingStub {
	return []crawler.ListingStub{
		{
			ZPID:         FallbackIDPrefix + "001",
			Address:      "123 Mock Street",
			ZipCode:      "45202",
			Beds:         floatPtr(4),
			Baths:        floatPtr(2),
			Price:        "$275,000",
			Area:         floatPtr(1800),
			PropertyType: "Multi-Family",
			DetailURL:    "/homedetails/" + FallbackIDPrefix + "001/",
			LatLong:      &crawler.LatLong{Latitude: floatPtr(39.1031), Longitude: floatPtr(-84.5120)},
		},
		{
			ZPID:         FallbackIDPrefix + "002",
			Address:      "456 Test Avenue",
			ZipCode:      "45203",
			Beds:         floatPtr(6),
			Baths:        floatPtr(3),
			Price:        "$385,000",
			Area:         floatPtr(2400),
			PropertyType: "Multi-Family",
			DetailURL:    "/homedetails/" + FallbackIDPrefix + "002/",
			LatLong:      &crawler.LatLong{Latitude: floatPtr(39.1131), Longitude: floatPtr(-84.5220)},
		},
		{
			ZPID:         FallbackIDPrefix + "003",
			Address:      "789 Demo Lane",
			ZipCode:      "45204",
			Beds:         floatPtr(8),
			Baths:        floatPtr(4),
			Price:        "$495,000",
			Area:         floatPtr(3200),
			PropertyType: "Multi-Family",
			DetailURL:    "/homedetails/" + FallbackIDPrefix + "003/",
			LatLong:      &crawler.LatLong{Latitude: floatPtr(39.0931), Longitude: floatPtr(-84.5020)},
		},
	}
}

// fillFallback turns report into a degraded run carrying the placeholder dataset.
func (o *Orchestrator) fillFallback(report *crawler.RunReport, cause error) {
	stubs := fallbackStubs()
	report.Source = crawler.SourceFallback
	report.Degraded = true
	report.FallbackReason = cause.Error()
	report.Found = len(stubs)
	report.Processed = len(stubs)
	report.Shallow = len(stubs)
	report.Properties = make([]crawler.Property, 0, len(stubs))
	for _, stub := range stubs {
		report.Properties = append(report.Properties, o.normalizer.Normalize(stub))
	}
	report.Duration = o.clock.Now().Sub(report.StartedAt)
}
