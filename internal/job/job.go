// Package job defines the job-control types shared by the API, dispatcher and workers.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Status represents the lifecycle state of a harvest job.
type Status string

// Job status values persisted in the job store.
const (
	StatusActive Status = "active"
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

var (
	// ErrJobNotFound is returned when a job ID is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job ID is created twice.
	ErrJobExists = errors.New("job already exists")
	// ErrHarvestInProgress is returned when a subject already has an active harvest.
	ErrHarvestInProgress = errors.New("harvest already in progress for subject")
	// ErrQueueClosed is returned by a Queue that no longer yields items.
	ErrQueueClosed = errors.New("queue closed")
)

// Counters mirrors the harvest summary of a job.
type Counters struct {
	Fetches           int   `json:"fetches"`
	Pages             int   `json:"pages"`
	Retries           int   `json:"retries"`
	Rotations         int   `json:"rotations"`
	RecordsExtracted  int   `json:"records_extracted"`
	RecordsSkipped    int   `json:"records_skipped"`
	DuplicatesRemoved int64 `json:"duplicates_removed"`
	RecordsKept       int   `json:"records_kept"`
}

// CountersFrom copies the counters of a harvest summary.
func CountersFrom(s harvest.Summary) Counters {
	return Counters{
		Fetches:           s.Fetches,
		Pages:             s.Pages,
		Retries:           s.Retries,
		Rotations:         s.Rotations,
		RecordsExtracted:  s.RecordsExtracted,
		RecordsSkipped:    s.RecordsSkipped,
		DuplicatesRemoved: s.DuplicatesRemoved,
		RecordsKept:       s.RecordsKept,
	}
}

// Job is the metadata kept for each submitted harvest.
type Job struct {
	ID            string     `json:"id"`
	SubjectID     string     `json:"subject_id"`
	Status        Status     `json:"status"`
	Submitted     time.Time  `json:"submitted_at"`
	Started       *time.Time `json:"started_at,omitempty"`
	Finished      *time.Time `json:"finished_at,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	StopRequested bool       `json:"stop_requested"`
	Counters      Counters   `json:"counters"`
}

// Terminal reports whether the job can no longer change state.
func (j Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// Store persists job metadata.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	// MarkStarted records the moment a worker picked the job up.
	MarkStarted(ctx context.Context, jobID string) error
	// Finish moves the job into a terminal status.
	Finish(ctx context.Context, jobID string, status Status, errText string, counters Counters) error
	MarkStopRequested(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	SubjectID string
	Stop      *harvest.StopToken
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for harvest jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
