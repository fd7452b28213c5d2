// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// ReviewStore keeps review rows in insertion order for development/testing.
type ReviewStore struct {
	mu     sync.RWMutex
	rows   []harvest.StoredRecord
	nextID int64
}

// NewReviewStore constructs a ReviewStore.
func NewReviewStore() *ReviewStore {
	return &ReviewStore{}
}

// Insert appends records, assigning increasing IDs.
func (s *ReviewStore) Insert(_ context.Context, records []harvest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.nextID++
		s.rows = append(s.rows, harvest.StoredRecord{ID: s.nextID, Record: r})
	}
	return nil
}

// Dedupe keeps the earliest row of every (subject, text) group of subjectID.
func (s *ReviewStore) Dedupe(_ context.Context, subjectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	kept := s.rows[:0]
	var removed int64
	for _, r := range s.rows {
		if r.SubjectID == subjectID {
			if _, dup := seen[r.Text]; dup {
				removed++
				continue
			}
			seen[r.Text] = struct{}{}
		}
		kept = append(kept, r)
	}
	clear(s.rows[len(kept):])
	s.rows = kept
	return removed, nil
}

// FetchAll returns the rows of subjectID ordered by ID.
func (s *ReviewStore) FetchAll(_ context.Context, subjectID string) ([]harvest.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.StoredRecord, 0)
	for _, r := range s.rows {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}
