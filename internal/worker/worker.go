// Package worker runs queued harvest jobs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/job"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const finishTimeout = 5 * time.Second

// Harvester runs one harvest to completion.
type Harvester interface {
	Run(ctx context.Context, subjectID string, stop *harvest.StopToken) (harvest.Summary, error)
}

// Worker consumes queue items and runs the harvest controller for each.
type Worker struct {
	queue     job.Queue
	jobs      job.Store
	registry  *job.Registry
	harvester Harvester
	logger    *zap.Logger
}

// New constructs a Worker.
func New(queue job.Queue, jobs job.Store, registry *job.Registry, harvester Harvester, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		registry:  registry,
		harvester: harvester,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, job.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("subject_id", item.SubjectID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item job.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("subject_id", item.SubjectID))
	defer w.registry.Release(item.JobID)
	metrics.IncActiveHarvests()
	defer metrics.DecActiveHarvests()

	if err := w.jobs.MarkStarted(ctx, item.JobID); err != nil {
		logger.Error("mark job started failed", zap.Error(err))
	}

	summary, runErr := w.harvester.Run(ctx, item.SubjectID, item.Stop)
	status, errText := job.StatusDone, ""
	if runErr != nil {
		status, errText = job.StatusFailed, runErr.Error()
		logger.Error("harvest failed", zap.Error(runErr))
	}
	metrics.ObserveHarvest(string(status), summary.DuplicatesRemoved)

	// the final status must land even when shutdown canceled ctx
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := w.jobs.Finish(finishCtx, item.JobID, status, errText, job.CountersFrom(summary)); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Bool("stopped", summary.Stopped),
		zap.Int("records_kept", summary.RecordsKept),
	)
}
