package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config controls a Controller.
type Config struct {
	BaseURL   string
	Scheduler SchedulerConfig
}

// Controller runs harvests. A Controller is safe to share between workers;
// each Run call owns its own CrawlState and Scheduler.
type Controller struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	store     RecordStore
	handoff   Handoff
	limiter   RateLimiter
	gate      *Gate
	observer  Observer
	clock     Clock
	logger    *zap.Logger
}

// NewController constructs a Controller. handoff, limiter, observer and clock
// may be nil.
func NewController(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	store RecordStore,
	handoff Handoff,
	limiter RateLimiter,
	gate *Gate,
	observer Observer,
	clock Clock,
	logger *zap.Logger,
) *Controller {
	if gate == nil {
		gate = NewGate(1)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		handoff:   handoff,
		limiter:   limiter,
		gate:      gate,
		observer:  observer,
		clock:     clock,
		logger:    logger,
	}
}

// Run harvests subjectID until the state machine reaches Done, then dedupes
// the stored records and hands the cleaned set off. Errors are returned only
// for persistence failures and context cancellation; fetch failures are
// absorbed by the retry budget.
func (c *Controller) Run(ctx context.Context, subjectID string, stop *StopToken) (Summary, error) {
	started := c.clock.Now()
	machine := NewMachine(c.cfg.BaseURL, c.cfg.Scheduler.MaxFetches)
	sched := NewScheduler(c.fetcher, c.gate, c.limiter, stop, c.cfg.Scheduler)
	state := machine.Start(subjectID)
	summary := Summary{SubjectID: subjectID}
	logger := c.logger.With(zap.String("subject_id", subjectID))

	logger.Info("harvest started", zap.String("url", state.CurrentURL))

	next := state.CurrentURL
	for state.Status == StatusActive {
		var decision Decision
		if stop.Stopped() {
			decision, state = machine.Stop(state)
			summary.Stopped = true
			c.observer.ObserveTransition(subjectID, decision, state)
			break
		}

		page, fetchErr := sched.Fetch(ctx, next)
		state.Fetches = sched.Fetches()
		switch {
		case errors.Is(fetchErr, ErrStopped):
			decision, state = machine.Stop(state)
			summary.Stopped = true
			c.observer.ObserveTransition(subjectID, decision, state)
			continue
		case errors.Is(fetchErr, ErrFetchBudgetExhausted):
			state.Status = StatusDone
			continue
		case ctx.Err() != nil:
			summary.Elapsed = c.clock.Now().Sub(started)
			return c.finish(summary, state), fmt.Errorf("harvest %s interrupted: %w", subjectID, ctx.Err())
		}
		c.observer.ObserveFetch(subjectID, page, fetchErr)
		if fetchErr != nil {
			logger.Warn("fetch failed", zap.String("url", next), zap.Error(fetchErr))
		}

		result := c.extract(logger, subjectID, page)
		if len(result.Records) > 0 {
			if err := c.store.Insert(ctx, result.Records); err != nil {
				summary.Elapsed = c.clock.Now().Sub(started)
				return c.finish(summary, state), &PersistenceError{Op: "insert", Err: err}
			}
		}
		summary.RecordsExtracted += len(result.Records)
		summary.RecordsSkipped += result.Skipped

		decision, state = machine.Decide(state, Outcome{
			PageURL:  page.URL,
			NextPage: result.NextPage,
			Failed:   fetchErr != nil,
		})
		switch decision.Action {
		case ActionRenderRetry:
			summary.Retries++
		case ActionSortRotate:
			summary.Rotations++
		}
		c.observer.ObserveTransition(subjectID, decision, state)
		logger.Debug("transition",
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason),
			zap.String("next_url", decision.URL),
			zap.Int("records", len(result.Records)),
			zap.Int("retry_count", state.RetryCount),
			zap.Int("page_count", state.PageCount),
			zap.Int("sort_index", state.SortIndex),
			zap.Int("fetches", state.Fetches),
		)
		next = decision.URL
	}
	summary = c.finish(summary, state)

	removed, err := c.store.Dedupe(ctx, subjectID)
	if err != nil {
		summary.Elapsed = c.clock.Now().Sub(started)
		return summary, &PersistenceError{Op: "dedupe", Err: err}
	}
	summary.DuplicatesRemoved = removed

	records, err := c.store.FetchAll(ctx, subjectID)
	if err != nil {
		summary.Elapsed = c.clock.Now().Sub(started)
		return summary, &PersistenceError{Op: "fetch all", Err: err}
	}
	summary.RecordsKept = len(records)

	if c.handoff != nil {
		if err := c.handoff.Deliver(ctx, subjectID, records); err != nil {
			logger.Warn("handoff failed", zap.Error(err))
		}
	}

	summary.Elapsed = c.clock.Now().Sub(started)
	logger.Info("harvest finished",
		zap.Int("fetches", summary.Fetches),
		zap.Int("pages", summary.Pages),
		zap.Int("records_extracted", summary.RecordsExtracted),
		zap.Int("records_skipped", summary.RecordsSkipped),
		zap.Int64("duplicates_removed", summary.DuplicatesRemoved),
		zap.Int("records_kept", summary.RecordsKept),
		zap.Bool("stopped", summary.Stopped),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func (c *Controller) extract(logger *zap.Logger, subjectID string, page Page) ExtractResult {
	if len(page.Body) == 0 {
		return ExtractResult{}
	}
	result, err := c.extractor.Extract(subjectID, page)
	if err != nil {
		logger.Warn("extract failed", zap.String("url", page.URL), zap.Error(err))
		return ExtractResult{}
	}
	c.observer.ObserveExtract(subjectID, len(result.Records), result.Skipped)
	return result
}

func (c *Controller) finish(summary Summary, state CrawlState) Summary {
	summary.Fetches = state.Fetches
	summary.Pages = state.PageCount
	return summary
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, Page, error)                {}
func (nopObserver) ObserveTransition(string, Decision, CrawlState) {}
func (nopObserver) ObserveExtract(string, int, int)                 {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
