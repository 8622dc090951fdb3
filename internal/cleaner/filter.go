package cleaner

import (
	"errors"
	"strings"

	"github.com/ignite/leadclean/internal/verifier"
)

var ErrNoValidRows = errors.New("no rows contained a verified email address")

// FilterRows keeps the header plus every data row with at least one
// email-column cell whose verdict is verified. Cells are matched against the
// verdict map the same way candidates were extracted: trimmed and lowercased.
// Row relative order is preserved. Returns ErrNoValidRows when nothing
// qualifies.
func FilterRows(records [][]string, emailColumns []int, verdicts map[string]verifier.Verdict) ([][]string, error) {
	if len(records) == 0 {
		return nil, ErrNoValidRows
	}

	filtered := [][]string{records[0]}
	for _, row := range records[1:] {
		if rowHasVerifiedEmail(row, emailColumns, verdicts) {
			filtered = append(filtered, row)
		}
	}

	if len(filtered) < 2 {
		return nil, ErrNoValidRows
	}
	return filtered, nil
}

func rowHasVerifiedEmail(row []string, emailColumns []int, verdicts map[string]verifier.Verdict) bool {
	for _, col := range emailColumns {
		if col >= len(row) {
			continue
		}
		addr := strings.ToLower(strings.TrimSpace(row[col]))
		if addr == "" {
			continue
		}
		if v, ok := verdicts[addr]; ok && v.Verified {
			return true
		}
	}
	return false
}
