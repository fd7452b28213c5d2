package job

import (
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

type entry struct {
	subjectID string
	stop      *harvest.StopToken
}

// Registry tracks the stop tokens of active harvests and guarantees at most
// one active harvest per subject.
type Registry struct {
	mu        sync.Mutex
	byJob     map[string]entry
	bySubject map[string]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byJob:     make(map[string]entry),
		bySubject: make(map[string]string),
	}
}

// Register claims subjectID for jobID and returns the job's stop token.
func (r *Registry) Register(jobID, subjectID string) (*harvest.StopToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.bySubject[subjectID]; busy {
		return nil, ErrHarvestInProgress
	}
	if _, exists := r.byJob[jobID]; exists {
		return nil, ErrJobExists
	}
	stop := harvest.NewStopToken()
	r.byJob[jobID] = entry{subjectID: subjectID, stop: stop}
	r.bySubject[subjectID] = jobID
	return stop, nil
}

// Stop raises the stop token of jobID. It reports false when the job is not active.
func (r *Registry) Stop(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byJob[jobID]
	if !ok {
		return false
	}
	e.stop.Stop()
	return true
}

// StopAll raises every active stop token and returns the affected job IDs.
func (r *Registry) StopAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byJob))
	for id, e := range r.byJob {
		e.stop.Stop()
		ids = append(ids, id)
	}
	return ids
}

// Release forgets jobID once its harvest has finished.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byJob[jobID]
	if !ok {
		return
	}
	delete(r.byJob, jobID)
	if r.bySubject[e.subjectID] == jobID {
		delete(r.bySubject, e.subjectID)
	}
}

// Active reports the number of registered harvests.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byJob)
}
