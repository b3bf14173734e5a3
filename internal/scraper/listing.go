package scraper

import (
	"net/url"
	"strings"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// listingJS captures each listing row with cell geometry. Degenerate rows
// render with near-zero-size cells, which only the live layout can reveal,
// so measurement happens in the page and filtering happens in Go.
const listingJS = `(() => {
	const rows = [];
	const table = document.querySelector('table.table.table-hover');
	if (!table) return rows;
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	for (const tr of table.querySelectorAll('tbody tr')) {
		const cells = [];
		for (const td of tr.querySelectorAll('td')) {
			const r = td.getBoundingClientRect();
			cells.push({text: norm(td.innerText), w: r.width, h: r.height});
		}
		const a = tr.querySelector('a[href*="action=semester2"]');
		const strong = tr.querySelector('td:nth-child(2) strong');
		const muted = tr.querySelector('td:nth-child(2) div.text-muted');
		rows.push({
			cells: cells,
			href: a ? (a.getAttribute('href') || '') : '',
			subject: strong ? norm(strong.innerText) : '',
			muted: muted ? norm(muted.innerText) : '',
		});
	}
	return rows;
})()`

// ListingCell is one measured table cell of a listing row.
type ListingCell struct {
	Text string  `json:"text"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// ListingRow is the raw capture of one listing table row.
type ListingRow struct {
	Cells   []ListingCell `json:"cells"`
	Href    string        `json:"href"`
	Subject string        `json:"subject"`
	Muted   string        `json:"muted"`
}

// FilterListing turns raw listing rows into extraction items. Rows whose
// cells collapsed to a few pixels and that carry no detail link are
// rendering artifacts and are dropped; rows without a detail link cannot be
// opened and are dropped too.
func FilterListing(rows []ListingRow, baseURL string) []scrape.Item {
	base, _ := url.Parse(baseURL)
	var out []scrape.Item
	for i, row := range rows {
		hasTiny := false
		for _, c := range row.Cells {
			if c.W <= 3 && c.H <= 3 {
				hasTiny = true
				break
			}
		}
		if hasTiny && row.Href == "" {
			continue
		}
		if row.Href == "" {
			continue
		}

		class := ""
		if len(row.Cells) > 0 {
			class = row.Cells[0].Text
		}
		subject := row.Subject
		if subject == "" && len(row.Cells) > 1 {
			// The subject cell can carry muted helper text under the name.
			subject = stripSubstring(row.Cells[1].Text, row.Muted)
		}

		item := scrape.Item{
			Index:      i + 1,
			Class:      class,
			Subject:    subject,
			DetailHref: row.Href,
		}
		if base != nil {
			if ref, err := url.Parse(row.Href); err == nil {
				item.DetailURL = base.ResolveReference(ref).String()
			}
		}
		out = append(out, item)
	}
	return out
}

func stripSubstring(full, sub string) string {
	if sub == "" {
		return full
	}
	return normalizeSpace(strings.Replace(full, sub, "", 1))
}
