// Package storage holds helpers shared by the property collection backends.
// Every backend persists the collection as a JSON array in insertion order.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrConflict reports that a concurrent writer changed the collection
// between read and write.
var ErrConflict = errors.New("storage: concurrent modification")

// Marshal encodes the collection as an indented JSON array. An empty
// collection encodes as [].
func Marshal(props []crawler.Property) ([]byte, error) {
	if props == nil {
		props = []crawler.Property{}
	}
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted collection. Empty input is an empty collection.
func Unmarshal(data []byte) ([]crawler.Property, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []crawler.Property{}, nil
	}
	var props []crawler.Property
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	if props == nil {
		props = []crawler.Property{}
	}
	return props, nil
}

// Apply runs fn against a deep copy of current so a failing fn can never
// corrupt the caller's view.
func Apply(current []crawler.Property, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	if fn == nil {
		return nil, errors.New("storage: update function is required")
	}
	next, err := fn(crawler.CloneAll(current))
	if err != nil {
		return nil, fmt.Errorf("apply update: %w", err)
	}
	if next == nil {
		next = []crawler.Property{}
	}
	return next, nil
}
