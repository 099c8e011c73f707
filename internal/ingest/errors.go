package ingest

import (
	"fmt"
	"strings"
)

// ErrorKind classifies ingestion failures for retry decisions upstream.
type ErrorKind int

const (
	// Transient failures (network hiccups, throttling) may succeed on retry.
	Transient ErrorKind = iota
	// Permanent failures (removed, private, geo-blocked) never will.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// IngestError reports a failed source ingestion.
type IngestError struct {
	Kind   ErrorKind
	URL    string
	Stderr string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ingest %s (%s): %v: %s", e.URL, e.Kind, e.Err, e.Stderr)
	}
	return fmt.Sprintf("ingest %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// permanentMarkers are downloader stderr fragments that indicate the source
// itself is gone or inaccessible rather than the network being flaky.
var permanentMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video is not available",
	"account associated with this video has been terminated",
	"Sign in to confirm your age",
	"not available in your country",
	"Unsupported URL",
	"is not a valid URL",
}

// classify derives the error kind from downloader stderr output.
func classify(stderr string) ErrorKind {
	for _, marker := range permanentMarkers {
		if strings.Contains(stderr, marker) {
			return Permanent
		}
	}
	return Transient
}
