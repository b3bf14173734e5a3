package scraper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// periodLabels maps the requested quarter code to its display label.
var periodLabels = map[string]string{
	"1": "1 четверть",
	"2": "2 четверть (1 полугодие)",
	"3": "3 четверть",
	"4": "4 четверть (2 полугодие)",
}

// PeriodLabel returns the display label for a quarter code, or "" when the
// code is unknown.
func PeriodLabel(code string) string {
	return periodLabels[code]
}

// Tab is one period tab on the detail screen.
type Tab struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// ParseTabs extracts the period tabs from the detail page HTML. Only
// in-page anchors count; anything else in the pill bar is navigation
// chrome.
func ParseTabs(html string) ([]Tab, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []Tab
	doc.Find(`ul#pills-tab a[data-toggle="pill"]`).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if !strings.HasPrefix(href, "#") {
			return
		}
		out = append(out, Tab{Text: normalizeSpace(a.Text()), Href: href})
	})
	return out, nil
}

// PickTabForPeriod maps the requested quarter onto an available tab.
// Preference order: the exact #chetvert_N tab; for quarter 2 a first
// half-year tab; for quarter 4 a second half-year tab; any tab whose label
// contains the quarter number; the first tab. Returns "" only when there
// are no tabs at all.
func PickTabForPeriod(periodCode string, tabs []Tab) string {
	hrefs := map[string]bool{}
	for _, t := range tabs {
		hrefs[t.Href] = true
	}

	if periodCode == "1" || periodCode == "2" || periodCode == "3" {
		if direct := "#chetvert_" + periodCode; hrefs[direct] {
			return direct
		}
	}

	// Quarter 4 can be rendered as a second half-year tab depending on the
	// school's period settings.
	if periodCode == "4" {
		if hrefs["#chetvert_4"] {
			return "#chetvert_4"
		}
		for _, t := range tabs {
			if strings.Contains(strings.ToLower(t.Text), "2 полугод") {
				return t.Href
			}
		}
	}

	if periodCode == "2" {
		for _, t := range tabs {
			if strings.Contains(strings.ToLower(t.Text), "1 полугод") {
				return t.Href
			}
		}
	}

	if label := periodLabels[periodCode]; label != "" {
		num := strings.Fields(label)[0]
		for _, t := range tabs {
			if strings.Contains(t.Text, num) {
				return t.Href
			}
		}
	}

	if len(tabs) > 0 {
		return tabs[0].Href
	}
	return ""
}

// ParseStudents extracts one record per data row from a period tab pane.
// Values come from element ids keyed by row index where present; gaps fall
// back to positional heuristics over the raw cell texts.
func ParseStudents(paneHTML string, quarterNum int) ([]scrape.Student, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(paneHTML))
	if err != nil {
		return nil, err
	}

	// The grade cell ids carry the authoritative quarter number.
	if id, ok := doc.Find(`p[id^="ocenka_"]`).First().Attr("id"); ok {
		if _, q, ok := parseRowQuarterID(id, "ocenka"); ok {
			quarterNum = q
		}
	}

	table := doc.Find(`p[id^="ocenka_"]`).First().Closest("table")
	if table.Length() == 0 {
		table = doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
			return t.Find("tbody tr").Length() > 0
		}).First()
	}
	if table.Length() == 0 {
		return nil, nil
	}

	var out []scrape.Student
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		num := normalizeSpace(tds.Eq(0).Text())
		if !isDigits(num) {
			return
		}
		fio := normalizeSpace(tds.Eq(1).Text())

		rowIdx := i
		gradeSel := tr.Find(`p[id^="ocenka_"][id$="_chetvert_` + strconv.Itoa(quarterNum) + `"]`)
		if id, ok := gradeSel.First().Attr("id"); ok {
			if r, _, ok := parseRowQuarterID(id, "ocenka"); ok {
				rowIdx = r
			}
		}

		s := scrape.Student{
			Num:          num,
			Name:         fio,
			QuarterNum:   quarterNum,
			Average:      idText(tr, "average_%d_chetvert_%d", quarterNum, rowIdx),
			FormativePct: idText(tr, "average_itog_%d_chetvert_%d", quarterNum, rowIdx),
			SectionPct:   idText(tr, "sor_%d_chetvert_%d", rowIdx, quarterNum),
			TermPct:      idText(tr, "soch_%d_chetvert_%d", rowIdx, quarterNum),
			TotalPct:     idText(tr, "summa_%d_chetvert_%d", rowIdx, quarterNum),
			Grade:        normalizeSpace(gradeSel.First().Text()),
		}

		cells := make([]string, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, normalizeSpace(td.Text()))
		})
		s.RawCells = cells

		fillFromCells(&s, cells)

		points := map[int]string{}
		prefix := "chetvert_" + strconv.Itoa(quarterNum) + "_razdel_"
		tr.Find(`input[id^="` + prefix + `"]`).Each(func(_ int, inp *goquery.Selection) {
			id := inp.AttrOr("id", "")
			parts := strings.Split(id, "_")
			// chetvert_{q}_razdel_{k}_{row}
			if len(parts) < 5 || parts[2] != "razdel" {
				return
			}
			sec, err := strconv.Atoi(parts[3])
			if err != nil {
				return
			}
			points[sec] = inp.AttrOr("value", "")
		})
		if len(points) > 0 {
			s.SectionPoints = points
		}

		out = append(out, s)
	})
	return out, nil
}

// fillFromCells fills the gaps an id-based pass left behind. A decimal in a
// plausible aggregate range becomes the average; percent-marked cells fill
// the percentage fields in encounter order; a lone 1-5 digit near the row
// end becomes the grade.
func fillFromCells(s *scrape.Student, cells []string) {
	needPcts := s.FormativePct == "" && s.SectionPct == "" && s.TermPct == "" && s.TotalPct == ""
	if s.Average == "" || needPcts {
		for _, cell := range cells[min(2, len(cells)):] {
			if cell == "" {
				continue
			}
			if s.Average == "" {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", "."), 64); err == nil && v >= 0 && v <= 20 {
					s.Average = cell
					continue
				}
			}
			if strings.Contains(cell, "%") {
				switch {
				case s.FormativePct == "":
					s.FormativePct = cell
				case s.SectionPct == "":
					s.SectionPct = cell
				case s.TermPct == "":
					s.TermPct = cell
				case s.TotalPct == "":
					s.TotalPct = cell
				}
			}
		}
	}
	if s.Grade == "" {
		for i := max(0, len(cells)-3); i < len(cells); i++ {
			if v, err := strconv.Atoi(cells[i]); err == nil && v >= 1 && v <= 5 {
				s.Grade = cells[i]
				break
			}
		}
	}
}

// ParseMaxPoints extracts the per-section maximum points from the header
// inputs of a period tab pane, keyed by section number.
func ParseMaxPoints(paneHTML string) (map[int]int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(paneHTML))
	if err != nil {
		return nil, err
	}
	out := map[int]int{}
	doc.Find(`input[id^="chetvert_"][id$="_max"]`).Each(func(_ int, inp *goquery.Selection) {
		id := inp.AttrOr("id", "")
		parts := strings.Split(id, "_")
		// chetvert_{q}_razdel_{k}_max
		if len(parts) < 5 || parts[0] != "chetvert" || parts[2] != "razdel" {
			return
		}
		sec, err := strconv.Atoi(parts[3])
		if err != nil {
			return
		}
		val := strings.TrimSpace(inp.AttrOr("value", ""))
		if val == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(val, ",", "."), 64)
		if err != nil {
			return
		}
		out[sec] = int(f)
	})
	return out, nil
}

// SortedSections returns the section numbers of a max-points map in order.
func SortedSections(maxPoints map[int]int) []int {
	out := make([]int, 0, len(maxPoints))
	for sec := range maxPoints {
		out = append(out, sec)
	}
	sort.Ints(out)
	return out
}

// parseRowQuarterID splits ids like "ocenka_{row}_chetvert_{q}".
func parseRowQuarterID(id, kind string) (row, quarter int, ok bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 4 || parts[0] != kind || parts[2] != "chetvert" {
		return 0, 0, false
	}
	row, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	quarter, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, false
	}
	return row, quarter, true
}

func idText(tr *goquery.Selection, format string, a, b int) string {
	return normalizeSpace(tr.Find("p#" + fmt.Sprintf(format, a, b)).First().Text())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
