package report

import (
	"strconv"
	"strings"
)

// Policy maps a total percentage onto the five-point grade scale. Thresholds
// are inclusive lower bounds and must be strictly decreasing.
type Policy struct {
	FiveMin  int
	FourMin  int
	ThreeMin int
}

// Grade buckets a total percentage into a 2..5 grade.
func (p Policy) Grade(totalPct float64) int {
	switch {
	case totalPct >= float64(p.FiveMin):
		return 5
	case totalPct >= float64(p.FourMin):
		return 4
	case totalPct >= float64(p.ThreeMin):
		return 3
	default:
		return 2
	}
}

// DeriveGrade returns the grade for a raw percentage cell, or "" when the
// cell does not parse as a number. Used as a fallback for rows where the
// journal page did not expose a grade cell.
func (p Policy) DeriveGrade(totalPct string) string {
	v, ok := ParsePercent(totalPct)
	if !ok {
		return ""
	}
	return strconv.Itoa(p.Grade(v))
}

// ParsePercent parses a percentage cell as rendered by the journal: optional
// "%" suffix and either dot or comma decimal separator.
func ParsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
