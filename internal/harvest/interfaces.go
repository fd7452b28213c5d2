package harvest

import (
	"context"
	"net/http"
	"time"
)

// Fetcher retrieves one URL. Implementations must return a Page for every
// response they receive, including non-2xx ones; the Scheduler decides which
// statuses count as failures.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) (Page, error)
}

// Extractor turns a fetched page into records for the given subject.
type Extractor interface {
	Extract(subjectID string, page Page) (ExtractResult, error)
}

// RecordStore persists records and runs the post-crawl dedup pass.
type RecordStore interface {
	Insert(ctx context.Context, records []Record) error
	Dedupe(ctx context.Context, subjectID string) (int64, error)
	FetchAll(ctx context.Context, subjectID string) ([]StoredRecord, error)
}

// Handoff delivers the cleaned record set to downstream analytics.
type Handoff interface {
	Deliver(ctx context.Context, subjectID string, records []StoredRecord) error
}

// RateLimiter delays outbound requests to respect the target's limits.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Observer receives harvest lifecycle notifications. All methods are called
// synchronously from the controller goroutine.
type Observer interface {
	ObserveFetch(subjectID string, page Page, err error)
	ObserveTransition(subjectID string, decision Decision, state CrawlState)
	ObserveExtract(subjectID string, kept, skipped int)
}
