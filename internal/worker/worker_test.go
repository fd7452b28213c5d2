package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/job"
	queuememory "github.com/JakeFAU/review-harvester/internal/queue/memory"
	"github.com/JakeFAU/review-harvester/internal/storage/memory"
)

type fakeHarvester struct {
	mu       sync.Mutex
	subjects []string
	summary  harvest.Summary
	err      error
	block    chan struct{}
}

func (h *fakeHarvester) Run(ctx context.Context, subjectID string, stop *harvest.StopToken) (harvest.Summary, error) {
	h.mu.Lock()
	h.subjects = append(h.subjects, subjectID)
	h.mu.Unlock()
	if h.block != nil {
		select {
		case <-h.block:
		case <-stop.Done():
			return harvest.Summary{SubjectID: subjectID, Stopped: true}, nil
		case <-ctx.Done():
			return harvest.Summary{}, ctx.Err()
		}
	}
	s := h.summary
	s.SubjectID = subjectID
	return s, h.err
}

type fixture struct {
	queue    *queuememory.Queue
	jobs     *memory.JobStore
	registry *job.Registry
}

func newFixture(t *testing.T, subjectID string) (fixture, *harvest.StopToken) {
	t.Helper()
	f := fixture{queue: queuememory.NewQueue(4), jobs: memory.NewJobStore(), registry: job.NewRegistry()}
	stop, err := f.registry.Register("job-1", subjectID)
	require.NoError(t, err)
	require.NoError(t, f.jobs.CreateJob(context.Background(), job.Job{ID: "job-1", SubjectID: subjectID, Status: job.StatusActive}))
	require.NoError(t, f.queue.Enqueue(context.Background(), job.QueueItem{JobID: "job-1", SubjectID: subjectID, Stop: stop}))
	return f, stop
}

func waitForStatus(t *testing.T, jobs *memory.JobStore, want job.Status) job.Job {
	t.Helper()
	var got job.Job
	require.Eventually(t, func() bool {
		j, err := jobs.GetJob(context.Background(), "job-1")
		got = j
		return err == nil && j.Status == want && j.Finished != nil
	}, time.Second, 10*time.Millisecond)
	return got
}

func TestWorkerCompletesJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _ := newFixture(t, "B0B2VRF2W9")
	h := &fakeHarvester{summary: harvest.Summary{Fetches: 13, Pages: 1, DuplicatesRemoved: 13, RecordsKept: 5}}

	go New(f.queue, f.jobs, f.registry, h, zap.NewNop()).Run(ctx)

	final := waitForStatus(t, f.jobs, job.StatusDone)
	require.NotNil(t, final.Started)
	require.Empty(t, final.ErrorText)
	require.Equal(t, 5, final.Counters.RecordsKept)
	require.Equal(t, 13, final.Counters.Fetches)
	require.Eventually(t, func() bool { return f.registry.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWorkerMarksFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _ := newFixture(t, "B0B2VRF2W9")
	h := &fakeHarvester{
		summary: harvest.Summary{Fetches: 2},
		err:     &harvest.PersistenceError{Op: "insert", Err: errors.New("connection reset")},
	}

	go New(f.queue, f.jobs, f.registry, h, nil).Run(ctx)

	final := waitForStatus(t, f.jobs, job.StatusFailed)
	require.Contains(t, final.ErrorText, "connection reset")
	require.Equal(t, 2, final.Counters.Fetches)

	// the subject can be harvested again once the failed job is released
	require.Eventually(t, func() bool {
		_, err := f.registry.Register("job-2", "B0B2VRF2W9")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopEndsJobAsDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _ := newFixture(t, "B0B2VRF2W9")
	h := &fakeHarvester{block: make(chan struct{})}

	go New(f.queue, f.jobs, f.registry, h, nil).Run(ctx)
	require.Eventually(t, func() bool {
		j, _ := f.jobs.GetJob(context.Background(), "job-1")
		return j.Started != nil
	}, time.Second, 10*time.Millisecond)

	require.True(t, f.registry.Stop("job-1"))
	waitForStatus(t, f.jobs, job.StatusDone)
}

func TestWorkerRecordsFailureAfterShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f, _ := newFixture(t, "B0B2VRF2W9")
	h := &fakeHarvester{block: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		New(f.queue, f.jobs, f.registry, h, nil).Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		j, _ := f.jobs.GetJob(context.Background(), "job-1")
		return j.Started != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	final, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, final.Status)
	require.Contains(t, final.ErrorText, context.Canceled.Error())
}

func TestWorkerExitsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	q.Close()
	done := make(chan struct{})
	go func() {
		New(q, memory.NewJobStore(), job.NewRegistry(), &fakeHarvester{}, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on closed queue")
	}
}
