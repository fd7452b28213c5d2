package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/review-harvester/internal/job"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]job.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]job.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return job.ErrJobExists
	}
	s.jobs[j.ID] = j
	return nil
}

// MarkStarted sets the start timestamp once.
func (s *JobStore) MarkStarted(_ context.Context, jobID string) error {
	return s.update(jobID, func(j *job.Job) {
		if j.Started == nil {
			j.Started = pointerTime(s.now())
		}
	})
}

// Finish moves a job into a terminal status with its final counters.
func (s *JobStore) Finish(_ context.Context, jobID string, status job.Status, errText string, counters job.Counters) error {
	return s.update(jobID, func(j *job.Job) {
		j.Status = status
		j.ErrorText = errText
		j.Counters = counters
		if j.Finished == nil && (status == job.StatusDone || status == job.StatusFailed) {
			j.Finished = pointerTime(s.now())
		}
	})
}

// MarkStopRequested flags that a stop was requested for the job.
func (s *JobStore) MarkStopRequested(_ context.Context, jobID string) error {
	return s.update(jobID, func(j *job.Job) { j.StopRequested = true })
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

func (s *JobStore) update(jobID string, fn func(*job.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return job.ErrJobNotFound
	}
	fn(&j)
	s.jobs[jobID] = j
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
