package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterListingDropsDegenerateRows(t *testing.T) {
	t.Parallel()

	rows := []ListingRow{
		{
			Cells: []ListingCell{
				{Text: "5 «В»", W: 80, H: 30},
				{Text: "Алгебра Обновленное содержание", W: 200, H: 30},
			},
			Href:    "?action=semester2&id=11",
			Subject: "Алгебра",
			Muted:   "Обновленное содержание",
		},
		{
			// Rendering artifact: tiny cells, no detail link.
			Cells: []ListingCell{{Text: "", W: 2, H: 2}},
		},
		{
			// Real-size row without a detail link cannot be opened.
			Cells: []ListingCell{
				{Text: "6 «А»", W: 80, H: 30},
				{Text: "Физика", W: 200, H: 30},
			},
		},
		{
			Cells: []ListingCell{
				{Text: "7 «Б»", W: 80, H: 30},
				{Text: "История", W: 200, H: 30},
			},
			Href: "?action=semester2&id=12",
		},
	}

	items := FilterListing(rows, "https://mektep.edu.kz/office/?action=semester")
	require.Len(t, items, 2)

	require.Equal(t, 1, items[0].Index)
	require.Equal(t, "5 «В»", items[0].Class)
	require.Equal(t, "Алгебра", items[0].Subject)
	require.Equal(t, "?action=semester2&id=11", items[0].DetailHref)
	require.Equal(t, "https://mektep.edu.kz/office/?action=semester2&id=12", items[1].DetailURL)

	// The muted helper text is stripped when no strong label was captured.
	require.Equal(t, "История", items[1].Subject)
}

func TestFilterListingSubjectFromCellWhenNoStrong(t *testing.T) {
	t.Parallel()

	rows := []ListingRow{{
		Cells: []ListingCell{
			{Text: "8 «Г»", W: 80, H: 30},
			{Text: "Биология Обновленное содержание", W: 200, H: 30},
		},
		Href:  "?action=semester2&id=13",
		Muted: "Обновленное содержание",
	}}

	items := FilterListing(rows, "")
	require.Len(t, items, 1)
	require.Equal(t, "Биология", items[0].Subject)
}

func TestFilterListingEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, FilterListing(nil, ""))
}
