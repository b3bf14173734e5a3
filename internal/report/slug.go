// Package report renders the per-report artifacts: the student workbook, the
// Word analysis document, and the filename convention the collector relies
// on to recover class and subject from disk.
package report

import "strings"

// Slug normalizes a report name into a filesystem-safe stem. Whitespace runs
// collapse to single spaces, characters invalid on common filesystems are
// replaced with underscores, and leading/trailing dots and spaces are
// stripped. An empty result falls back to "item".
func Slug(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	var b strings.Builder
	replaced := false
	for _, r := range s {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			// Runs of invalid characters collapse to one underscore.
			if !replaced {
				b.WriteRune('_')
			}
			replaced = true
		default:
			b.WriteRune(r)
			replaced = false
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "item"
	}
	return out
}
