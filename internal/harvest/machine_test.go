package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://www.example.com"

func TestMachineAdvanceResetsRetries(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.RetryCount = 2
	state.Fetches = 5

	decision, next := m.Decide(state, Outcome{
		PageURL:  "https://www.example.com/product-reviews/B0B2VRF2W9/",
		NextPage: "/product-reviews/B0B2VRF2W9/ref=cm_cr_arp_d_paging_btm_next_2?pageNumber=2",
	})

	require.Equal(t, ActionAdvance, decision.Action)
	assert.Equal(t, "https://www.example.com/product-reviews/B0B2VRF2W9/ref=cm_cr_arp_d_paging_btm_next_2?pageNumber=2", decision.URL)
	assert.Equal(t, 0, next.RetryCount)
	assert.Equal(t, 1, next.PageCount)
	assert.Equal(t, decision.URL, next.CurrentURL)
	assert.Equal(t, StatusActive, next.Status)
}

func TestMachineRenderRetryKeepsURL(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.Fetches = 1

	for i := 1; i <= MaxRenderRetries; i++ {
		var decision Decision
		decision, state = m.Decide(state, Outcome{PageURL: state.CurrentURL})
		require.Equal(t, ActionRenderRetry, decision.Action)
		assert.Equal(t, ListingURL(testBase, "B0B2VRF2W9", 0), decision.URL)
		assert.Equal(t, i, state.RetryCount)
		state.Fetches++
	}
}

func TestMachineRotatesAfterRetries(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.RetryCount = MaxRenderRetries
	state.Fetches = 14

	decision, next := m.Decide(state, Outcome{})
	require.Equal(t, ActionSortRotate, decision.Action)
	assert.Equal(t, 1, next.SortIndex)
	assert.Equal(t, 0, next.RetryCount)
	assert.Equal(t, "https://www.example.com/product-reviews/B0B2VRF2W9/?sortBy=reviewerType&filterByStar=one_star", decision.URL)
}

func TestMachineDoneWhenEverythingExhausted(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.RetryCount = MaxRenderRetries
	state.SortIndex = MaxSortIndex
	state.Fetches = 30

	decision, next := m.Decide(state, Outcome{})
	assert.Equal(t, ActionDone, decision.Action)
	assert.Equal(t, StatusDone, next.Status)
}

func TestMachineFailedFetchIgnoresNextLink(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.Fetches = 1

	decision, next := m.Decide(state, Outcome{NextPage: "/page-2", Failed: true})
	assert.Equal(t, ActionRenderRetry, decision.Action)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, 0, next.PageCount)
}

func TestMachineFetchCapForcesDone(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	state := m.Start("B0B2VRF2W9")
	state.Fetches = MaxFetches

	decision, next := m.Decide(state, Outcome{NextPage: "/page-201"})
	assert.Equal(t, ActionDone, decision.Action)
	assert.Equal(t, StatusDone, next.Status)
}

func TestMachineClampsMaxFetches(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MaxFetches, NewMachine(testBase, 10_000).maxFetches)
	assert.Equal(t, 25, NewMachine(testBase, 25).maxFetches)
}

// Drives the machine through link/no-link sequences and checks the counter
// invariants after every step.
func TestMachineInvariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		pattern   []bool
		wantSteps int
	}{
		// never more than three pages in a row without a link: runs into the cap
		{name: "capped", pattern: []bool{true, false, false, false, true, true, false, true, false, false}, wantSteps: MaxFetches},
		// four misses in a row: rotates twice and finishes early
		{name: "exhausted", pattern: []bool{true, true, false, false, true, false, false, false, false, true}, wantSteps: 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMachine(testBase, 0)
			state := m.Start("B0B2VRF2W9")
			prevSort := 0
			steps := 0
			for state.Status == StatusActive {
				state.Fetches++
				out := Outcome{PageURL: state.CurrentURL}
				if tt.pattern[steps%len(tt.pattern)] {
					out.NextPage = "?pageNumber=2"
				}
				var decision Decision
				decision, state = m.Decide(state, out)
				steps++

				require.LessOrEqual(t, state.RetryCount, MaxRenderRetries)
				require.LessOrEqual(t, state.SortIndex, MaxSortIndex)
				require.GreaterOrEqual(t, state.SortIndex, prevSort)
				require.LessOrEqual(t, state.SortIndex-prevSort, 1)
				require.LessOrEqual(t, state.Fetches, MaxFetches)
				if decision.Action == ActionAdvance {
					require.Zero(t, state.RetryCount)
				}
				prevSort = state.SortIndex
			}
			assert.Equal(t, tt.wantSteps, steps)
		})
	}
}

func TestMachineStop(t *testing.T) {
	t.Parallel()

	m := NewMachine(testBase, 0)
	decision, state := m.Stop(m.Start("B0B2VRF2W9"))
	assert.Equal(t, ActionDone, decision.Action)
	assert.Equal(t, StatusDone, state.Status)

	decision, _ = m.Decide(state, Outcome{NextPage: "/x"})
	assert.Equal(t, ActionDone, decision.Action)
}

func TestValidateSubjectID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSubjectID("B0B2VRF2W9"))
	require.ErrorIs(t, ValidateSubjectID("short"), ErrInvalidSubjectID)
	require.ErrorIs(t, ValidateSubjectID("B0B2VRF2W!"), ErrInvalidSubjectID)
	require.ErrorIs(t, ValidateSubjectID("B0B2VRF2W9X"), ErrInvalidSubjectID)
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://www.example.com/product-reviews/B0B2VRF2W9/", ListingURL(testBase+"/", "B0B2VRF2W9", 0))
	assert.Equal(t, "https://www.example.com/product-reviews/B0B2VRF2W9/?sortBy=reviewerType&filterByStar=two_star", ListingURL(testBase, "B0B2VRF2W9", 2))
	assert.Equal(t, "https://www.example.com/product-reviews/B0B2VRF2W9/", ListingURL(testBase, "B0B2VRF2W9", 7))
}
