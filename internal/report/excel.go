package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// Context carries the report-level metadata written to the workbook's
// context sheet and used for Word template substitution.
type Context struct {
	OrgName     string
	ProfileName string
	Class       string
	Subject     string
	PeriodCode  string
	PeriodLabel string
	SelectedTab string
	CriteriaURL string
}

const studentsSheet = "students"

// WriteWorkbook writes the student workbook for one report: a students sheet
// with one row per learner plus a max-points row, and a context sheet with
// the report metadata. maxPoints is keyed by section number, section 0 being
// the term assessment.
func WriteWorkbook(path string, students []scrape.Student, ctx Context, maxPoints map[int]int, policy Policy) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", studentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet("context"); err != nil {
		return fmt.Errorf("add context sheet: %w", err)
	}

	sections := collectSections(students)
	headers := []string{"№", "ФИО", "Формативная (среднее)"}
	for _, sec := range sections {
		headers = append(headers, sectionLabel(sec))
	}
	headers = append(headers, "% ФО", "% СОр", "% СОч", "Итог %", "Оценка")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(studentsSheet, cell, h)
	}

	// Row 2 carries the per-section maximum points so header text stays
	// stable for downstream consumers.
	_ = f.SetCellValue(studentsSheet, "B2", "Макс.")
	for i, sec := range sections {
		if mp, ok := maxPoints[sec]; ok {
			cell, _ := excelize.CoordinatesToCellName(4+i, 2)
			_ = f.SetCellValue(studentsSheet, cell, mp)
		}
	}

	row := 3
	for _, s := range students {
		grade := s.Grade
		if grade == "" {
			grade = policy.DeriveGrade(s.TotalPct)
		}
		values := []interface{}{s.Num, s.Name, s.Average}
		for _, sec := range sections {
			values = append(values, s.SectionPoints[sec])
		}
		values = append(values, s.FormativePct, s.SectionPct, s.TermPct, s.TotalPct, grade)
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(studentsSheet, cell, v)
		}
		row++
	}

	last, _ := excelize.CoordinatesToCellName(len(headers), 2)
	if styleID, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}); err == nil {
		_ = f.SetCellStyle(studentsSheet, "A1", last, styleID)
	}
	headerEnd, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.AutoFilter(studentsSheet, "A1:"+headerEnd, nil)
	_ = f.SetPanes(studentsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      2,
		TopLeftCell: "A3",
		ActivePane:  "bottomLeft",
	})

	_ = f.SetColWidth(studentsSheet, "A", "A", 5)
	_ = f.SetColWidth(studentsSheet, "B", "B", 28)
	_ = f.SetColWidth(studentsSheet, "C", "C", 18)
	if len(headers) > 3 {
		start, _ := excelize.ColumnNumberToName(4)
		end, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetColWidth(studentsSheet, start, end, 14)
	}

	meta := [][2]string{
		{"generated_at", time.Now().Format("2006-01-02T15:04:05")},
		{"org_name", ctx.OrgName},
		{"profile_name", ctx.ProfileName},
		{"class", ctx.Class},
		{"subject", ctx.Subject},
		{"period_code", ctx.PeriodCode},
		{"period_label", ctx.PeriodLabel},
		{"selected_tab", ctx.SelectedTab},
		{"criteria_url", ctx.CriteriaURL},
	}
	for i, kv := range meta {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valCell, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue("context", keyCell, kv[0])
		_ = f.SetCellValue("context", valCell, kv[1])
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func collectSections(students []scrape.Student) []int {
	seen := map[int]bool{}
	for _, s := range students {
		for sec := range s.SectionPoints {
			seen[sec] = true
		}
	}
	out := make([]int, 0, len(seen))
	for sec := range seen {
		out = append(out, sec)
	}
	sort.Ints(out)
	return out
}

// sectionLabel names a section column. Section 0 holds the term assessment.
func sectionLabel(sec int) string {
	if sec == 0 {
		return "СОч"
	}
	return fmt.Sprintf("СОр %d", sec)
}
