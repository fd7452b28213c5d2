package job

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestRegistryRejectsConcurrentSubject(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stop, err := r.Register("job-1", "B0B2VRF2W9")
	require.NoError(t, err)
	require.NotNil(t, stop)

	_, err = r.Register("job-2", "B0B2VRF2W9")
	require.ErrorIs(t, err, ErrHarvestInProgress)

	r.Release("job-1")
	_, err = r.Register("job-2", "B0B2VRF2W9")
	require.NoError(t, err)
}

func TestRegistryStop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stop, err := r.Register("job-1", "AAAAAAAAAA")
	require.NoError(t, err)

	assert.False(t, r.Stop("unknown"))
	assert.True(t, r.Stop("job-1"))
	assert.True(t, stop.Stopped())
	// raising twice is harmless
	assert.True(t, r.Stop("job-1"))
}

func TestRegistryStopAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a, err := r.Register("job-a", "AAAAAAAAAA")
	require.NoError(t, err)
	b, err := r.Register("job-b", "BBBBBBBBBB")
	require.NoError(t, err)

	ids := r.StopAll()
	sort.Strings(ids)
	assert.Equal(t, []string{"job-a", "job-b"}, ids)
	assert.True(t, a.Stopped())
	assert.True(t, b.Stopped())
	assert.Equal(t, 2, r.Active())

	r.Release("job-a")
	r.Release("job-b")
	r.Release("job-b")
	assert.Zero(t, r.Active())
}

func TestCountersFrom(t *testing.T) {
	t.Parallel()

	got := CountersFrom(harvest.Summary{Fetches: 13, Pages: 1, Retries: 9, Rotations: 2, RecordsExtracted: 18, RecordsSkipped: 4, DuplicatesRemoved: 13, RecordsKept: 5})
	assert.Equal(t, Counters{Fetches: 13, Pages: 1, Retries: 9, Rotations: 2, RecordsExtracted: 18, RecordsSkipped: 4, DuplicatesRemoved: 13, RecordsKept: 5}, got)
	assert.True(t, Job{Status: StatusFailed}.Terminal())
	assert.False(t, Job{Status: StatusActive}.Terminal())
}
