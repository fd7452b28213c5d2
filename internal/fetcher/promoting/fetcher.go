// Package promoting combines a plain fetcher with a headless one, rendering a
// page in the browser only when the plain response carries no review markup.
package promoting

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/headless/detector"
)

// Detector classifies a plainly fetched page.
type Detector interface {
	Classify(page harvest.Page) detector.Verdict
}

// Fetcher implements harvest.Fetcher.
type Fetcher struct {
	probe    harvest.Fetcher
	headless harvest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New wires the probe and headless fetchers.
func New(probe, headless harvest.Fetcher, classifier Detector, logger *zap.Logger) (*Fetcher, error) {
	if probe == nil || headless == nil {
		return nil, fmt.Errorf("probe and headless fetchers are required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, headless: headless, detector: classifier, logger: logger}, nil
}

// Fetch tries the probe first. Probe failures are returned as is; the retry
// budget of the caller decides what happens next.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers http.Header) (harvest.Page, error) {
	page, err := f.probe.Fetch(ctx, url, headers)
	if err != nil {
		return page, err
	}
	verdict := f.detector.Classify(page)
	switch {
	case verdict == detector.BotCheck:
		f.logger.Warn("bot check served, keeping plain page", zap.String("url", url))
		return page, nil
	case !verdict.Promote():
		return page, nil
	}
	f.logger.Debug("promoting fetch to headless",
		zap.String("url", url),
		zap.Stringer("verdict", verdict),
		zap.Int("probe_bytes", len(page.Body)),
	)
	rendered, err := f.headless.Fetch(ctx, url, headers)
	if err != nil {
		return rendered, fmt.Errorf("headless fetch: %w", err)
	}
	rendered.Duration += page.Duration
	return rendered, nil
}
