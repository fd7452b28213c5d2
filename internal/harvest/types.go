// Package harvest implements the review harvest controller: the fetch scheduler,
// the pagination/retry/sort-rotation state machine and the per-subject run loop.
package harvest

import (
	"net/http"
	"time"
)

// Sentinel values used when a review caption cannot be parsed.
const (
	UnknownLocation = "None"
)

// UnknownDate is stored when a review caption carries no recognizable date.
var UnknownDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Record is one harvested review. Records are immutable once extracted.
type Record struct {
	SubjectID string    `json:"subject_id"`
	Text      string    `json:"text"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	Date      time.Time `json:"date"`
	Verified  bool      `json:"verified"`
	Rating    float64   `json:"rating"`
}

// StoredRecord is a Record together with the identifier assigned by the store.
type StoredRecord struct {
	ID int64 `json:"id"`
	Record
}

// Status is the lifecycle state of a single subject harvest.
type Status string

// Harvest status values.
const (
	StatusActive Status = "active"
	StatusDone   Status = "done"
)

// CrawlState is the per-subject state threaded through every step of the
// state machine. It is owned by exactly one controller invocation.
type CrawlState struct {
	SubjectID  string
	CurrentURL string
	RetryCount int
	PageCount  int
	Fetches    int
	SortIndex  int
	Status     Status
}

// Action is the transition chosen after a fetch.
type Action string

// State machine transitions, in priority order.
const (
	ActionAdvance     Action = "advance"
	ActionRenderRetry Action = "render_retry"
	ActionSortRotate  Action = "sort_rotate"
	ActionDone        Action = "done"
)

// Decision describes the next step the controller must take.
type Decision struct {
	Action Action
	URL    string
	Reason string
}

// Page is the outcome of a single fetch as seen by the state machine.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ExtractResult is the output of the extractor for one page.
type ExtractResult struct {
	Records []Record
	// Skipped counts review fragments dropped for missing mandatory fields.
	Skipped int
	// NextPage is the raw href of the next-page link, empty when absent.
	NextPage string
}

// Summary reports what a finished harvest did.
type Summary struct {
	SubjectID         string        `json:"subject_id"`
	Fetches           int           `json:"fetches"`
	Pages             int           `json:"pages"`
	Retries           int           `json:"retries"`
	Rotations         int           `json:"rotations"`
	RecordsExtracted  int           `json:"records_extracted"`
	RecordsSkipped    int           `json:"records_skipped"`
	DuplicatesRemoved int64         `json:"duplicates_removed"`
	RecordsKept       int           `json:"records_kept"`
	Stopped           bool          `json:"stopped"`
	Elapsed           time.Duration `json:"elapsed"`
}
