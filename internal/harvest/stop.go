package harvest

import "sync"

// StopToken is a cooperative cancellation signal. Raising it never aborts a
// fetch in flight; the controller observes it at the next decision point.
type StopToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopToken returns an unraised token.
func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Stop raises the token. It is safe to call more than once.
func (t *StopToken) Stop() {
	t.once.Do(func() { close(t.ch) })
}

// Stopped reports whether Stop has been called. A nil token is never stopped.
func (t *StopToken) Stopped() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done exposes the token as a channel closed on Stop.
func (t *StopToken) Done() <-chan struct{} {
	return t.ch
}
