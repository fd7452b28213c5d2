package harvest

// MaxRenderRetries bounds consecutive refetches of a URL that showed no next-page link.
const MaxRenderRetries = 3

// MaxFetches is the hard ceiling on fetches for a single subject.
const MaxFetches = 200

// Outcome summarizes a fetch for the state machine.
type Outcome struct {
	// PageURL is the URL the page was served from; relative links resolve against it.
	PageURL string
	// NextPage is the raw next-page href, empty when the page had none.
	NextPage string
	// Failed is set for timeouts, transport errors and unexpected statuses.
	Failed bool
}

// Machine decides the next step of a harvest. It holds no per-subject state;
// every call receives the CrawlState and returns the updated copy.
type Machine struct {
	baseURL    string
	maxFetches int
}

// NewMachine builds a Machine for listings hosted at baseURL. maxFetches is
// clamped to MaxFetches.
func NewMachine(baseURL string, maxFetches int) Machine {
	if maxFetches <= 0 || maxFetches > MaxFetches {
		maxFetches = MaxFetches
	}
	return Machine{baseURL: baseURL, maxFetches: maxFetches}
}

// Start returns the initial state for subjectID.
func (m Machine) Start(subjectID string) CrawlState {
	return CrawlState{
		SubjectID:  subjectID,
		CurrentURL: ListingURL(m.baseURL, subjectID, 0),
		Status:     StatusActive,
	}
}

// Decide applies the transition rules, in priority order, to the outcome of
// the fetch that state.Fetches just counted.
func (m Machine) Decide(state CrawlState, out Outcome) (Decision, CrawlState) {
	if state.Status == StatusDone {
		return Decision{Action: ActionDone, Reason: "already done"}, state
	}
	if state.Fetches >= m.maxFetches {
		state.Status = StatusDone
		return Decision{Action: ActionDone, Reason: "fetch cap reached"}, state
	}

	if !out.Failed && out.NextPage != "" {
		base := out.PageURL
		if base == "" {
			base = state.CurrentURL
		}
		if next, err := ResolveURL(base, out.NextPage); err == nil {
			state.RetryCount = 0
			state.PageCount++
			state.CurrentURL = next
			return Decision{Action: ActionAdvance, URL: next, Reason: "next page link"}, state
		}
	}

	if state.RetryCount < MaxRenderRetries {
		state.RetryCount++
		reason := "no next page link"
		if out.Failed {
			reason = "fetch failed"
		}
		return Decision{Action: ActionRenderRetry, URL: state.CurrentURL, Reason: reason}, state
	}

	if state.SortIndex < MaxSortIndex {
		state.SortIndex++
		state.RetryCount = 0
		state.CurrentURL = ListingURL(m.baseURL, state.SubjectID, state.SortIndex)
		return Decision{Action: ActionSortRotate, URL: state.CurrentURL, Reason: "retry budget exhausted"}, state
	}

	state.Status = StatusDone
	return Decision{Action: ActionDone, Reason: "all sort orders exhausted"}, state
}

// Stop marks the state as done after an external stop request.
func (m Machine) Stop(state CrawlState) (Decision, CrawlState) {
	state.Status = StatusDone
	return Decision{Action: ActionDone, Reason: "stop requested"}, state
}
