package harvest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

const defaultFetchTimeout = 15 * time.Second

// Gate bounds the number of outbound requests in flight across every
// controller in the process.
type Gate struct {
	slots chan struct{}
}

// NewGate builds a Gate with the given capacity (minimum 1).
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

func (g *Gate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch slot wait canceled: %w", ctx.Err())
	}
}

func (g *Gate) release() {
	select {
	case <-g.slots:
	default:
	}
}

// SchedulerConfig controls a Scheduler.
type SchedulerConfig struct {
	Timeout    time.Duration
	MaxFetches int
	UserAgents []string
	Headers    http.Header
}

// Scheduler issues the fetches of a single harvest, one at a time.
type Scheduler struct {
	fetcher Fetcher
	gate    *Gate
	limiter RateLimiter
	stop    *StopToken
	cfg     SchedulerConfig
	fetches int
	pick    func(n int) int
}

// NewScheduler wires a Scheduler. gate, limiter and stop are optional.
func NewScheduler(fetcher Fetcher, gate *Gate, limiter RateLimiter, stop *StopToken, cfg SchedulerConfig) *Scheduler {
	if gate == nil {
		gate = NewGate(1)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxFetches <= 0 || cfg.MaxFetches > MaxFetches {
		cfg.MaxFetches = MaxFetches
	}
	return &Scheduler{
		fetcher: fetcher,
		gate:    gate,
		limiter: limiter,
		stop:    stop,
		cfg:     cfg,
		pick:    rand.IntN,
	}
}

// Fetches returns how many fetches have been issued so far.
func (s *Scheduler) Fetches() int {
	return s.fetches
}

// Fetch retrieves url. A 404 response is returned as a normal page; any other
// non-2xx status yields a *StatusError alongside the page.
func (s *Scheduler) Fetch(ctx context.Context, url string) (Page, error) {
	if s.stop.Stopped() {
		return Page{}, ErrStopped
	}
	if s.fetches >= s.cfg.MaxFetches {
		return Page{}, ErrFetchBudgetExhausted
	}
	if err := s.gate.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer s.gate.release()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return Page{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	s.fetches++
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, err := s.fetcher.Fetch(fetchCtx, url, s.headers())
	if page.URL == "" {
		page.URL = url
	}
	if err != nil {
		return page, fmt.Errorf("fetch %s: %w", url, err)
	}
	if page.StatusCode == http.StatusNotFound {
		return page, nil
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return page, &StatusError{URL: url, StatusCode: page.StatusCode}
	}
	return page, nil
}

func (s *Scheduler) headers() http.Header {
	h := s.cfg.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if n := len(s.cfg.UserAgents); n > 0 {
		h.Set("User-Agent", s.cfg.UserAgents[s.pick(n)])
	}
	return h
}
