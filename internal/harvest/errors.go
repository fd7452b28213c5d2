package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStopped is returned by the Scheduler once the stop token has been raised.
	ErrStopped = errors.New("harvest stopped")
	// ErrFetchBudgetExhausted is returned once the hard fetch cap is reached.
	ErrFetchBudgetExhausted = errors.New("fetch budget exhausted")
	// ErrInvalidSubjectID reports a malformed subject identifier.
	ErrInvalidSubjectID = errors.New("invalid subject id")
)

// StatusError reports a response with an unexpected HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// PersistenceError wraps a store failure; it is fatal for the harvest.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
