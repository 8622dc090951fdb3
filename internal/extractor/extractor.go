// Package extractor identifies email columns in tabular data and produces
// the deduplicated candidate set a cleaning session will verify.
package extractor

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrNoEmailColumn = errors.New(`no email column found: a column header must contain "email"`)
	ErrEmptyInput    = errors.New("file has no data rows")
)

// addressPattern is a plausibility check, not RFC validation. The remote
// oracle owns the real syntax verdict; this only filters values that cannot
// possibly be addresses so we never spend a credit on them.
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Extraction is the result of scanning a parsed CSV for candidate addresses.
type Extraction struct {
	// EmailColumns holds the indexes of all header cells containing "email".
	EmailColumns []int
	// Candidates holds unique, trimmed, lowercased addresses in first-seen order.
	Candidates []string
}

// FindEmailColumns returns the indexes of header cells whose text contains
// the substring "email", case-insensitively. Multiple columns may match.
func FindEmailColumns(header []string) []int {
	var cols []int
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), "email") {
			cols = append(cols, i)
		}
	}
	return cols
}

// IsPlausibleAddress reports whether the trimmed value has the shape
// localpart@domain.tld with no whitespace or extra @ signs.
func IsPlausibleAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Extract scans the data rows under every email column and returns the
// deduplicated candidate set. Values are trimmed and lowercased before
// dedup, so "Foo@X.com" and " foo@x.com " collapse to one candidate.
func Extract(header []string, rows [][]string) (*Extraction, error) {
	cols := FindEmailColumns(header)
	if len(cols) == 0 {
		return nil, ErrNoEmailColumn
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}

	seen := make(map[string]bool)
	var candidates []string
	for _, row := range rows {
		for _, col := range cols {
			if col >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[col])
			if value == "" || !IsPlausibleAddress(value) {
				continue
			}
			addr := strings.ToLower(value)
			if !seen[addr] {
				seen[addr] = true
				candidates = append(candidates, addr)
			}
		}
	}

	return &Extraction{EmailColumns: cols, Candidates: candidates}, nil
}
