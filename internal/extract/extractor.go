// Package extract turns fetched review listing pages into harvest records.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Selectors for the review listing markup.
const (
	reviewSelector   = "#cm_cr-review_list div.review"
	bodySelector     = "span[data-hook=review-body]"
	titleSelector    = "[data-hook=review-title] > span"
	captionSelector  = "span[data-hook=review-date]"
	badgeSelector    = "span[data-hook=avp-badge]"
	ratingSelector   = "[data-hook*=review-star-rating]"
	nextPageSelector = ".a-pagination .a-last > a"
)

const (
	minRating = 1.0
	maxRating = 5.0
)

// Extractor implements harvest.Extractor over goquery documents.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract parses every review fragment on the page. Fragments missing a
// mandatory field are skipped and counted; they never fail the page.
func (e *Extractor) Extract(subjectID string, page harvest.Page) (harvest.ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return harvest.ExtractResult{}, fmt.Errorf("parse html: %w", err)
	}

	var result harvest.ExtractResult
	if href, ok := doc.Find(nextPageSelector).First().Attr("href"); ok {
		result.NextPage = strings.TrimSpace(href)
	}

	doc.Find(reviewSelector).Each(func(i int, s *goquery.Selection) {
		record, reason := parseReview(subjectID, s)
		if reason != "" {
			result.Skipped++
			e.logger.Debug("review skipped",
				zap.String("subject_id", subjectID),
				zap.String("url", page.URL),
				zap.Int("index", i),
				zap.String("reason", reason),
			)
			return
		}
		result.Records = append(result.Records, record)
	})
	return result, nil
}

// parseReview returns the record, or a non-empty skip reason.
func parseReview(subjectID string, s *goquery.Selection) (harvest.Record, string) {
	rating, ok := ParseRating(s.Find(ratingSelector).Text())
	if !ok {
		return harvest.Record{}, "missing rating"
	}
	if rating < minRating || rating > maxRating {
		return harvest.Record{}, "rating out of range"
	}

	caption := strings.TrimSpace(s.Find(captionSelector).First().Text())
	location, ok := ParseLocation(caption)
	if !ok {
		location = harvest.UnknownLocation
	}
	date, match := ParseDate(caption)
	switch match {
	case DateAbsent:
		date = harvest.UnknownDate
	case DateInvalid:
		return harvest.Record{}, "unparseable date"
	}

	return harvest.Record{
		SubjectID: subjectID,
		Text:      strings.TrimSpace(s.Find(bodySelector).Text()),
		Title:     firstText(s.Find(titleSelector)),
		Location:  location,
		Date:      date,
		Verified:  strings.TrimSpace(s.Find(badgeSelector).Text()) != "",
		Rating:    rating,
	}, ""
}

// firstText returns the first non-blank direct text node of the selection.
func firstText(s *goquery.Selection) string {
	var out string
	s.Contents().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if goquery.NodeName(n) != "#text" {
			return true
		}
		if t := strings.TrimSpace(n.Text()); t != "" {
			out = t
			return false
		}
		return true
	})
	return out
}
