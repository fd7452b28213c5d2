// Package dispatcher accepts harvest requests and fans queued work out to workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/job"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// Dispatcher owns job admission and the worker pool.
type Dispatcher struct {
	queue    job.Queue
	jobs     job.Store
	registry *job.Registry
	ids      job.IDGenerator
	clock    job.Clock
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue job.Queue,
	jobs job.Store,
	registry *job.Registry,
	ids job.IDGenerator,
	clock job.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		jobs:     jobs,
		registry: registry,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		logger:   logger,
	}
}

// Run starts all workers and blocks until every worker has exited, which
// happens once the context finishes or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Submit validates the subject, records a new active job and queues it.
func (d *Dispatcher) Submit(ctx context.Context, subjectID string) (job.Job, error) {
	if err := harvest.ValidateSubjectID(subjectID); err != nil {
		return job.Job{}, err
	}
	jobID, err := d.ids.NewID()
	if err != nil {
		return job.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	stop, err := d.registry.Register(jobID, subjectID)
	if err != nil {
		return job.Job{}, err
	}

	submitted := d.clock.Now().UTC()
	j := job.Job{
		ID:        jobID,
		SubjectID: subjectID,
		Status:    job.StatusActive,
		Submitted: submitted,
	}
	if err := d.jobs.CreateJob(ctx, j); err != nil {
		d.registry.Release(jobID)
		return job.Job{}, fmt.Errorf("create job: %w", err)
	}

	item := job.QueueItem{JobID: jobID, SubjectID: subjectID, Stop: stop, Submitted: submitted.UnixNano()}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.registry.Release(jobID)
		d.abandon(ctx, jobID, err)
		return job.Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("harvest queued", zap.String("job_id", jobID), zap.String("subject_id", subjectID))
	return j, nil
}

// Stop raises the stop token of an active job. Stopping a finished job is a no-op.
func (d *Dispatcher) Stop(ctx context.Context, jobID string) (job.Job, error) {
	j, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	if j.Terminal() {
		return j, nil
	}
	if d.registry.Stop(jobID) {
		d.logger.Info("stop requested", zap.String("job_id", jobID), zap.String("subject_id", j.SubjectID))
	}
	if err := d.jobs.MarkStopRequested(ctx, jobID); err != nil {
		return job.Job{}, fmt.Errorf("mark stop requested: %w", err)
	}
	j.StopRequested = true
	return j, nil
}

// StopAll raises the stop token of every active job and returns their IDs.
func (d *Dispatcher) StopAll(ctx context.Context) []string {
	ids := d.registry.StopAll()
	for _, id := range ids {
		if err := d.jobs.MarkStopRequested(ctx, id); err != nil && !errors.Is(err, job.ErrJobNotFound) {
			d.logger.Warn("mark stop requested failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	if len(ids) > 0 {
		d.logger.Info("stop requested for all harvests", zap.Int("jobs", len(ids)))
	}
	return ids
}

// Active reports the number of harvests queued or running.
func (d *Dispatcher) Active() int {
	return d.registry.Active()
}

func (d *Dispatcher) abandon(ctx context.Context, jobID string, cause error) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.jobs.Finish(finishCtx, jobID, job.StatusFailed, cause.Error(), job.Counters{}); err != nil {
		d.logger.Error("abandon job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
