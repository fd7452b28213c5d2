package metrics

import "github.com/JakeFAU/review-harvester/internal/harvest"

// Observer feeds controller events into the Prometheus collectors.
type Observer struct{}

// ObserveFetch implements harvest.Observer.
func (Observer) ObserveFetch(_ string, page harvest.Page, err error) {
	ObserveFetch(page.URL, page, err)
}

// ObserveTransition implements harvest.Observer.
func (Observer) ObserveTransition(_ string, d harvest.Decision, _ harvest.CrawlState) {
	ObserveTransition(d.Action)
}

// ObserveExtract implements harvest.Observer.
func (Observer) ObserveExtract(_ string, kept, skipped int) {
	ObserveRecords(kept, skipped)
}
