// Package detector classifies plainly fetched review pages and decides which
// of them need a rendered retry.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Verdict is the classification of one fetched page.
type Verdict int

// Page verdicts.
const (
	// Listing is server-rendered review markup, possibly with zero reviews.
	Listing Verdict = iota
	// NotApplicable covers non-200 responses; the state machine owns those.
	NotApplicable
	// Blank is a 200 with no body.
	Blank
	// Shell is a client-rendered page: script-heavy or an SPA mount point.
	Shell
	// BotCheck is an interstitial challenge. Rendering it does not help.
	BotCheck
	// Other is any page that fits none of the above, such as a sign-in wall.
	Other
)

var verdictNames = map[Verdict]string{
	Listing:       "listing",
	NotApplicable: "not_applicable",
	Blank:         "blank",
	Shell:         "shell",
	BotCheck:      "bot_check",
	Other:         "other",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return "unknown"
}

// Promote reports whether a headless fetch can recover the page.
func (v Verdict) Promote() bool {
	return v == Blank || v == Shell
}

// Heuristic classifies pages with marker and script-share rules.
type Heuristic struct {
	// ShortBody is the size under which a script-heavy page counts as a shell.
	ShortBody int
	// ScriptShare is the minimum fraction of the body inside <script> tags.
	ScriptShare float64
}

// NewHeuristic creates a detector. Zero shortBody selects 2 KiB.
func NewHeuristic(shortBody int) *Heuristic {
	if shortBody <= 0 {
		shortBody = 2048
	}
	return &Heuristic{ShortBody: shortBody, ScriptShare: 0.25}
}

var (
	reviewMarkers = [][]byte{
		[]byte(`id="cm_cr-review_list"`),
		[]byte(`data-hook="review"`),
	}
	botCheckMarkers = [][]byte{
		[]byte("/errors/validatecaptcha"),
		[]byte("type the characters you see"),
		[]byte("api-services-support@amazon.com"),
	}
	shellMarkers = [][]byte{
		[]byte(`id="__next"`),
		[]byte(`id="root"`),
		[]byte(`id="app"`),
		[]byte("data-reactroot"),
	}
)

// Classify returns the verdict for page.
func (h *Heuristic) Classify(page harvest.Page) Verdict {
	if page.StatusCode != http.StatusOK {
		return NotApplicable
	}
	body := page.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return Blank
	}
	if containsAny(body, reviewMarkers) {
		return Listing
	}
	lower := bytes.ToLower(body)
	if containsAny(lower, botCheckMarkers) {
		return BotCheck
	}
	if containsAny(lower, shellMarkers) {
		return Shell
	}
	if len(body) < h.ShortBody && scriptShare(lower) >= h.ScriptShare {
		return Shell
	}
	return Other
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// scriptShare returns the fraction of lower covered by <script> elements. An
// unterminated tag covers the rest of the document.
func scriptShare(lower []byte) float64 {
	open, closing := []byte("<script"), []byte("</script>")
	covered := 0
	rest := lower
	for {
		start := bytes.Index(rest, open)
		if start < 0 {
			break
		}
		end := bytes.Index(rest[start:], closing)
		if end < 0 {
			covered += len(rest) - start
			break
		}
		end += start + len(closing)
		covered += end - start
		rest = rest[end:]
	}
	return float64(covered) / float64(len(lower))
}
