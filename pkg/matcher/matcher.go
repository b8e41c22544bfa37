package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter is a parsed comma-separated OR list of terms.
type Filter struct {
	terms []string
}

// ParseFilter splits raw on commas, trims and lower-cases each term and
// drops the blank ones.
func ParseFilter(raw string) Filter {
	var f Filter
	for _, part := range strings.Split(raw, ",") {
		term := Normalize(strings.TrimSpace(part))
		if term != "" {
			f.terms = append(f.terms, term)
		}
	}
	return f
}

// Terms returns the normalized terms.
func (f Filter) Terms() []string { return f.terms }

// Empty reports whether the filter collects everything.
func (f Filter) Empty() bool { return len(f.terms) == 0 }

// Match expects detailText to be lower-cased already.
func (f Filter) Match(detailText string) bool {
	if f.Empty() {
		return true
	}
	for _, term := range f.terms {
		if strings.Contains(detailText, term) {
			return true
		}
	}
	return false
}

// MatchedTerms returns every term found in detailText.
func (f Filter) MatchedTerms(detailText string) []string {
	var found []string
	for _, term := range f.terms {
		if strings.Contains(detailText, term) {
			found = append(found, term)
		}
	}
	return found
}

// Matches evaluates detailText against a raw filter string.
func Matches(detailText, filter string) bool {
	return ParseFilter(filter).Match(detailText)
}

// Normalize lower-cases text the same way for detail text and filter terms.
func Normalize(text string) string {
	return cases.Lower(language.Und).String(text)
}
