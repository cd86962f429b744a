package catalog

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Stats aggregates the collection for the statistics endpoint.
type Stats struct {
	Overview Overview      `json:"overview"`
	Pricing  Pricing       `json:"pricing"`
	Property PropertyStats `json:"property"`
	Activity Activity      `json:"activity"`
}

// Overview counts the collection.
type Overview struct {
	TotalProperties      int        `json:"totalProperties"`
	ActiveProperties     int        `json:"activeProperties"`
	PropertiesWithImages int        `json:"propertiesWithImages"`
	LastScrapedAt        *time.Time `json:"lastScrapedAt"`
}

// Pricing summarizes active properties with a positive price.
type Pricing struct {
	AveragePrice        int64          `json:"averagePrice"`
	MinPrice            int64          `json:"minPrice"`
	MaxPrice            int64          `json:"maxPrice"`
	PropertiesWithPrice int            `json:"propertiesWithPrice"`
	PriceRanges         map[string]int `json:"priceRanges"`
}

// PropertyStats describes the shape of active properties.
type PropertyStats struct {
	AverageUnits        int            `json:"averageUnits"`
	BedroomDistribution map[string]int `json:"bedroomDistribution"`
	TopCities           []CityCount    `json:"topCities"`
	PropertyTypes       []TypeCount    `json:"propertyTypes"`
}

// CityCount is one row of the city ranking.
type CityCount struct {
	City  string `json:"city"`
	Count int    `json:"count"`
}

// TypeCount is one row of the property type ranking.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Activity describes scrape recency.
type Activity struct {
	RecentlyScraped int        `json:"recentlyScraped"`
	OldestProperty  *time.Time `json:"oldestProperty"`
}

// Price range labels.
const (
	RangeUnder100k = "under100k"
	Range100to200k = "100k-200k"
	Range200to300k = "200k-300k"
	Range300to500k = "300k-500k"
	RangeOver500k  = "over500k"
)

const (
	recentWindow = 24 * time.Hour
	topCityLimit = 10
)

// ComputeStats aggregates props as of now.
func ComputeStats(props []crawler.Property, now time.Time) Stats {
	var active []crawler.Property
	for _, p := range props {
		if p.IsActive {
			active = append(active, p)
		}
	}

	stats := Stats{
		Overview: Overview{TotalProperties: len(props), ActiveProperties: len(active)},
		Pricing: Pricing{PriceRanges: map[string]int{
			RangeUnder100k: 0, Range100to200k: 0, Range200to300k: 0, Range300to500k: 0, RangeOver500k: 0,
		}},
		Property: PropertyStats{
			BedroomDistribution: map[string]int{},
			TopCities:           []CityCount{},
			PropertyTypes:       []TypeCount{},
		},
	}

	var (
		priceSum   float64
		unitSum    float64
		unitCount  int
		cities     = map[string]int{}
		types      = map[string]int{}
		newest     time.Time
		oldest     time.Time
		firstStamp = true
	)
	for _, p := range active {
		if len(p.Images) > 0 {
			stats.Overview.PropertiesWithImages++
		}
		if p.Price != nil && *p.Price > 0 {
			price := *p.Price
			if stats.Pricing.PropertiesWithPrice == 0 || price < stats.Pricing.MinPrice {
				stats.Pricing.MinPrice = price
			}
			if price > stats.Pricing.MaxPrice {
				stats.Pricing.MaxPrice = price
			}
			stats.Pricing.PropertiesWithPrice++
			priceSum += float64(price)
			stats.Pricing.PriceRanges[priceRange(price)]++
		}
		if p.UnitCount > 0 {
			unitSum += float64(p.UnitCount)
			unitCount++
		}
		stats.Property.BedroomDistribution[bedroomLabel(p.Bedrooms)]++
		cities[orUnknown(p.City)]++
		types[orUnknown(p.PropertyType)]++

		if now.Sub(p.ScrapedAt) < recentWindow {
			stats.Activity.RecentlyScraped++
		}
		if firstStamp || p.ScrapedAt.After(newest) {
			newest = p.ScrapedAt
		}
		if firstStamp || p.ScrapedAt.Before(oldest) {
			oldest = p.ScrapedAt
		}
		firstStamp = false
	}

	if n := stats.Pricing.PropertiesWithPrice; n > 0 {
		stats.Pricing.AveragePrice = roundInt64(priceSum / float64(n))
	}
	if unitCount > 0 {
		stats.Property.AverageUnits = int(roundInt64(unitSum / float64(unitCount)))
	}
	for _, c := range ranked(cities) {
		if len(stats.Property.TopCities) == topCityLimit {
			break
		}
		stats.Property.TopCities = append(stats.Property.TopCities, CityCount{City: c.key, Count: c.count})
	}
	for _, t := range ranked(types) {
		stats.Property.PropertyTypes = append(stats.Property.PropertyTypes, TypeCount{Type: t.key, Count: t.count})
	}
	if !firstStamp {
		stats.Overview.LastScrapedAt = &newest
		stats.Activity.OldestProperty = &oldest
	}
	return stats
}

// Freshness renders the age of the newest record.
func Freshness(stats Stats, now time.Time) string {
	if stats.Overview.LastScrapedAt == nil {
		return "No data available"
	}
	hours := math.Round(now.Sub(*stats.Overview.LastScrapedAt).Hours())
	return fmt.Sprintf("Last updated %d hours ago", int64(hours))
}

func priceRange(price int64) string {
	switch {
	case price < 100000:
		return RangeUnder100k
	case price < 200000:
		return Range100to200k
	case price < 300000:
		return Range200to300k
	case price < 500000:
		return Range300to500k
	default:
		return RangeOver500k
	}
}

func bedroomLabel(n int) string {
	if n == 1 {
		return "1 bedroom"
	}
	return strconv.Itoa(n) + " bedrooms"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

type keyCount struct {
	key   string
	count int
}

// ranked orders by count descending, then key ascending.
func ranked(m map[string]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		out = append(out, keyCount{key: k, count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// roundInt64 rounds v, saturating at the int64 range.
func roundInt64(v float64) int64 {
	v = math.Round(v)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(v)
}
