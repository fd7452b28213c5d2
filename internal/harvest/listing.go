package harvest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SubjectIDLength is the fixed length of a subject identifier.
const SubjectIDLength = 10

var subjectIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// sortRotations lists the alternate listing orders tried once default
// pagination is exhausted. Index 0 is the default ordering.
var sortRotations = [...]string{
	"",
	"sortBy=reviewerType&filterByStar=one_star",
	"sortBy=reviewerType&filterByStar=two_star",
}

// MaxSortIndex is the last usable index into the rotation table.
const MaxSortIndex = len(sortRotations) - 1

// ValidateSubjectID checks the identifier format. Callers run it before a
// harvest starts; the controller itself does not re-validate.
func ValidateSubjectID(subjectID string) error {
	if !subjectIDPattern.MatchString(subjectID) {
		return fmt.Errorf("%w: %q must be %d alphanumeric characters", ErrInvalidSubjectID, subjectID, SubjectIDLength)
	}
	return nil
}

// ListingURL returns the review listing for subjectID under the given sort index.
func ListingURL(baseURL, subjectID string, sortIndex int) string {
	base := strings.TrimRight(baseURL, "/")
	listing := fmt.Sprintf("%s/product-reviews/%s/", base, subjectID)
	if sortIndex <= 0 || sortIndex > MaxSortIndex {
		return listing
	}
	return listing + "?" + sortRotations[sortIndex]
}

// ResolveURL resolves href against the page it was found on.
func ResolveURL(pageURL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), nil
}
