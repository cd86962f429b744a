// Package island locates and parses the JSON application state that
// server-rendered listing pages embed in a script element.
package island

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ScriptID is the element id of the bootstrap payload.
const ScriptID = "__NEXT_DATA__"

// DefaultDataMarkers identify script bodies that carry listing state when the
// primary element is missing.
var DefaultDataMarkers = []string{
	"searchPageState",
	"listResults",
	"gdpClientCache",
	ScriptID,
}

// DefaultBlockMarkers are matched case-insensitively against the page with
// JSON islands removed.
var DefaultBlockMarkers = []string{
	"captcha",
	"access denied",
	"access to this page has been denied",
	"are you a robot",
	"you have been blocked",
	"request blocked",
	"window.location.replace",
	`http-equiv="refresh"`,
}

const jsonScripts = `script#` + ScriptID + `, script[type="application/json"], script[type="application/ld+json"]`

// Extractor turns HTML into a Payload. It holds no per-call state.
type Extractor struct {
	blockMarkers []string
	dataMarkers  []string
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithBlockMarkers replaces the denylist. An empty list keeps the defaults.
func WithBlockMarkers(markers []string) Option {
	return func(e *Extractor) {
		if len(markers) > 0 {
			e.blockMarkers = lowerAll(markers)
		}
	}
}

// WithDataMarkers replaces the secondary lookup markers.
func WithDataMarkers(markers []string) Option {
	return func(e *Extractor) {
		if len(markers) > 0 {
			e.dataMarkers = append([]string(nil), markers...)
		}
	}
}

// New builds an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		blockMarkers: lowerAll(DefaultBlockMarkers),
		dataMarkers:  append([]string(nil), DefaultDataMarkers...),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the parsed payload or a *crawler.ExtractionFailure. A page
// that matches the denylist is reported as blocked even when a valid payload
// is also present.
func (e *Extractor) Extract(html string) (Payload, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &crawler.ExtractionFailure{Reason: crawler.ReasonParseError, Detail: "parse html", Err: err}
	}

	primary := doc.Find("script#" + ScriptID).First()
	hasPrimary := primary.Length() > 0
	primaryText := primary.Text()
	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts = append(scripts, s.Text())
	})

	if marker, blocked := e.blockedBy(doc); blocked {
		return nil, &crawler.ExtractionFailure{Reason: crawler.ReasonBlocked, Detail: "marker " + marker}
	}

	if hasPrimary {
		payload, err := decodeObject(primaryText)
		if err != nil {
			return nil, &crawler.ExtractionFailure{Reason: crawler.ReasonParseError, Detail: "script#" + ScriptID, Err: err}
		}
		return payload, nil
	}

	var lastErr error
	for _, text := range scripts {
		if !e.hasDataMarker(text) {
			continue
		}
		payload, err := decodeScript(text)
		if err == nil {
			return payload, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, &crawler.ExtractionFailure{Reason: crawler.ReasonParseError, Detail: "marked script", Err: lastErr}
	}
	return nil, &crawler.ExtractionFailure{Reason: crawler.ReasonNotFound, Detail: "no data island"}
}

// blockedBy mutates doc: JSON islands are removed so that keys inside the
// payload cannot trip the denylist.
func (e *Extractor) blockedBy(doc *goquery.Document) (string, bool) {
	doc.Find(jsonScripts).Remove()
	rendered, err := doc.Html()
	if err != nil {
		return "", false
	}
	rendered = strings.ToLower(rendered)
	for _, marker := range e.blockMarkers {
		if marker != "" && strings.Contains(rendered, marker) {
			return marker, true
		}
	}
	return "", false
}

func (e *Extractor) hasDataMarker(text string) bool {
	for _, marker := range e.dataMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// decodeScript accepts raw JSON, comment-wrapped JSON and `x = {...};`
// assignments.
func decodeScript(text string) (Payload, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "<!--")
	trimmed = strings.TrimSuffix(trimmed, "-->")
	trimmed = strings.TrimSpace(trimmed)
	if payload, err := decodeObject(trimmed); err == nil {
		return payload, nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no json object in script")
	}
	return decodeObject(trimmed[start : end+1])
}

func decodeObject(text string) (Payload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty script content")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if payload == nil {
		return nil, errors.New("payload is not an object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after json object")
	}
	return Payload(payload), nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

// compactJSON is used by Payload.Decode to re-encode a subtree.
func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode subtree: %w", err)
	}
	return buf.Bytes(), nil
}
