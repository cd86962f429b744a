// Package listing maps search-result entries and detail pages into canonical
// property records.
package listing

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds the market defaults applied while normalizing.
type Config struct {
	// Origin is prefixed to relative detail paths.
	Origin              string
	DefaultCity         string
	DefaultState        string
	DefaultPropertyType string
	// MaxImages caps how many detail photos are considered.
	MaxImages int
	// PlaceholderImageURL is a fmt template receiving the escaped listing id.
	PlaceholderImageURL string
}

// Defaults used when a Config field is empty.
const (
	DefaultOrigin              = "https://www.zillow.com"
	DefaultCity                = "Cincinnati"
	DefaultState               = "OH"
	DefaultPropertyType        = "Multi-Family"
	DefaultMaxImages           = 5
	DefaultPlaceholderImageURL = "https://via.placeholder.com/400x300.png?text=Property+%s"
	UnknownAddress             = "Unknown Address"
)

func (c Config) withDefaults() Config {
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	if c.DefaultCity == "" {
		c.DefaultCity = DefaultCity
	}
	if c.DefaultState == "" {
		c.DefaultState = DefaultState
	}
	if c.DefaultPropertyType == "" {
		c.DefaultPropertyType = DefaultPropertyType
	}
	if c.MaxImages <= 0 {
		c.MaxImages = DefaultMaxImages
	}
	if c.PlaceholderImageURL == "" {
		c.PlaceholderImageURL = DefaultPlaceholderImageURL
	}
	return c
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", raw)
	}
	return u, nil
}
