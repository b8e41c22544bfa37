package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"listing-scanner/pkg/models"
)

const (
	reportTitle  = "Listing Scanner Results"
	allItemsTerm = "(all items)"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9]`)

// FormatReport renders the plain-text export of a run.
func FormatReport(filter string, at time.Time, matches []models.MatchRecord) string {
	term := strings.TrimSpace(filter)
	if term == "" {
		term = allItemsTerm
	}

	var b strings.Builder
	b.WriteString(reportTitle + "\n")
	fmt.Fprintf(&b, "Search Term: %q\n", term)
	fmt.Fprintf(&b, "Date: %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Matched: %d items\n", len(matches))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Title)
		fmt.Fprintf(&b, "   URL: %s\n", m.Link)
		fmt.Fprintf(&b, "   Found at: %s\n\n", m.Timestamp.Format("15:04:05"))
	}
	return b.String()
}

// ReportFileName is report-<filter>-<unix millis>.txt with the filter
// reduced to [a-zA-Z0-9_].
func ReportFileName(filter string, at time.Time) string {
	term := strings.TrimSpace(filter)
	if term == "" {
		term = allItemsTerm
	}
	return fmt.Sprintf("report-%s-%d.txt", unsafeName.ReplaceAllString(term, "_"), at.UnixMilli())
}

// WriteReport writes the report into dir and returns its path. Nothing is
// written for an empty match list.
func WriteReport(dir, filter string, at time.Time, matches []models.MatchRecord) (string, error) {
	if len(matches) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, ReportFileName(filter, at))
	if err := os.WriteFile(path, []byte(FormatReport(filter, at, matches)), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
