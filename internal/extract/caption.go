package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	locationPattern = regexp.MustCompile(`Reviewed in (.*?) on`)
	datePattern     = regexp.MustCompile(`on (\w+ \d+, \d{4})`)
	ratingPattern   = regexp.MustCompile(`(\d+\.*\d*) out`)
)

const captionDateLayout = "January 2, 2006"

// ParseLocation pulls the marketplace location out of a review caption such
// as "Reviewed in the United States on June 3, 2022".
func ParseLocation(caption string) (string, bool) {
	m := locationPattern.FindStringSubmatch(caption)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m[1]), "the ")), true
}

// DateMatch is the outcome of ParseDate.
type DateMatch int

// ParseDate outcomes.
const (
	// DateAbsent means the caption carries no date-shaped text.
	DateAbsent DateMatch = iota
	// DateParsed means a date was found and parsed.
	DateParsed
	// DateInvalid means date-shaped text was found but could not be parsed,
	// typically an unrecognized month name.
	DateInvalid
)

// ParseDate extracts the "Month D, YYYY" portion of a caption.
func ParseDate(caption string) (time.Time, DateMatch) {
	m := datePattern.FindStringSubmatch(caption)
	if m == nil {
		return time.Time{}, DateAbsent
	}
	t, err := time.Parse(captionDateLayout, strings.TrimSpace(m[1]))
	if err != nil {
		return time.Time{}, DateInvalid
	}
	return t.UTC(), DateParsed
}

// ParseRating reads the leading score of a "4.0 out of 5 stars" string.
func ParseRating(text string) (float64, bool) {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	// "4..0" matches the pattern but is not a number.
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
