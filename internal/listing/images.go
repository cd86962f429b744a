package listing

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type photoSource struct {
	URL    string `json:"url"`
	Width  *int   `json:"width"`
	Height *int   `json:"height"`
}

type detailPhoto struct {
	URL          string `json:"url"`
	Caption      string `json:"caption"`
	MixedSources struct {
		JPEG []photoSource `json:"jpeg"`
	} `json:"mixedSources"`
}

// ImageFilename is the generated name for the photo at index.
func ImageFilename(index int) string {
	if index == 0 {
		return "hero.jpg"
	}
	return fmt.Sprintf("gallery_%02d.jpg", index)
}

// selectImages keeps the first limit photos in source order, drops the ones
// without a usable URL and renumbers the rest densely from zero.
func selectImages(photos []detailPhoto, limit int) []crawler.ImageRef {
	if limit > 0 && len(photos) > limit {
		photos = photos[:limit]
	}
	out := make([]crawler.ImageRef, 0, len(photos))
	for _, photo := range photos {
		src, ok := bestSource(photo)
		if !ok {
			continue
		}
		idx := len(out)
		name := ImageFilename(idx)
		alt := strings.TrimSpace(photo.Caption)
		if alt == "" {
			alt = fmt.Sprintf("Property image %d", idx+1)
		}
		out = append(out, crawler.ImageRef{
			URL:        src.URL,
			Filename:   &name,
			Width:      src.Width,
			Height:     src.Height,
			IsHero:     idx == 0,
			OrderIndex: idx,
			AltText:    alt,
		})
	}
	return out
}

// bestSource picks the widest JPEG rendition. Without widths the last entry
// wins, since sources are listed smallest first.
func bestSource(photo detailPhoto) (photoSource, bool) {
	var (
		best  photoSource
		found bool
	)
	for _, src := range photo.MixedSources.JPEG {
		if strings.TrimSpace(src.URL) == "" {
			continue
		}
		if !found || widthOf(src) >= widthOf(best) {
			best = src
			found = true
		}
	}
	if found {
		return best, true
	}
	if strings.TrimSpace(photo.URL) != "" {
		return photoSource{URL: photo.URL}, true
	}
	return photoSource{}, false
}

func widthOf(src photoSource) int {
	if src.Width == nil {
		return 0
	}
	return *src.Width
}
