package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrEnrichmentSkip reports that a detail page had no usable property object.
	ErrEnrichmentSkip = errors.New("enrichment skipped: no property with photos on detail page")
	// ErrMissingID reports a search entry without an external identifier.
	ErrMissingID = errors.New("listing has no external id")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// FetchError wraps a transport-level failure.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ExtractionReason classifies why a data island could not be produced.
type ExtractionReason string

// Extraction failure reasons.
const (
	ReasonNotFound   ExtractionReason = "not_found"
	ReasonParseError ExtractionReason = "parse_error"
	ReasonBlocked    ExtractionReason = "blocked"
)

// ExtractionFailure is a structural failure to obtain the embedded payload.
type ExtractionFailure struct {
	Reason ExtractionReason
	Detail string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	msg := "extraction failed (" + string(e.Reason) + ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

// IsBlocked reports whether err carries a blocked extraction failure.
func IsBlocked(err error) bool {
	var failure *ExtractionFailure
	return errors.As(err, &failure) && failure.Reason == ReasonBlocked
}
