package catalog

import (
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Summary is the list-view projection of a Property.
type Summary struct {
	ID                 string                  `json:"id"`
	Address            string                  `json:"address"`
	City               string                  `json:"city"`
	State              string                  `json:"state"`
	Bedrooms           int                     `json:"bedrooms"`
	Bathrooms          float64                 `json:"bathrooms"`
	Price              *int64                  `json:"price"`
	SquareFootage      *int                    `json:"squareFootage"`
	PropertyType       string                  `json:"propertyType"`
	UnitCount          int                     `json:"unitCount"`
	UnitCountSource    crawler.UnitCountSource `json:"unitCountSource"`
	UnitCountEstimated bool                    `json:"unitCountEstimated"`
	SourceURL          string                  `json:"sourceUrl"`
	HeroImage          *string                 `json:"heroImage"`
	ImageCount         int                     `json:"imageCount"`
	ScrapedAt          time.Time               `json:"scrapedAt"`
}

// Summarize projects p for list views.
func Summarize(p crawler.Property) Summary {
	s := Summary{
		ID:                 p.ID,
		Address:            p.Address,
		City:               p.City,
		State:              p.State,
		Bedrooms:           p.Bedrooms,
		Bathrooms:          p.Bathrooms,
		Price:              p.Price,
		SquareFootage:      p.SquareFootage,
		PropertyType:       p.PropertyType,
		UnitCount:          p.UnitCount,
		UnitCountSource:    p.UnitCountSource,
		UnitCountEstimated: p.UnitCountEstimated,
		SourceURL:          p.SourceURL,
		ImageCount:         len(p.Images),
		ScrapedAt:          p.ScrapedAt,
	}
	if hero, ok := p.HeroImage(); ok && hero.URL != "" {
		url := hero.URL
		s.HeroImage = &url
	}
	return s
}

// SummarizeAll projects every property.
func SummarizeAll(props []crawler.Property) []Summary {
	out := make([]Summary, len(props))
	for i, p := range props {
		out[i] = Summarize(p)
	}
	return out
}
