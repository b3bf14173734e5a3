// Package collector persists finished report artifacts and enforces the
// organization guard before anything reaches the report store.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// Collector scans a job's reports directory and upserts one record per
// report stem.
type Collector struct {
	reports scrape.ReportStore
	schools scrape.SchoolDirectory
	clock   scrape.Clock
	logger  *zap.Logger
}

func New(reports scrape.ReportStore, schools scrape.SchoolDirectory, clock scrape.Clock, logger *zap.Logger) *Collector {
	return &Collector{reports: reports, schools: schools, clock: clock, logger: logger}
}

// FoundReport is one report reconstructed from the artifact files on disk.
type FoundReport struct {
	Class     string
	Subject   string
	ExcelPath string
	WordPath  string
}

// VerifyOrg checks the scraped organization name against the job's school.
// It returns an error wrapping scrape.ErrOrgMismatch on a confirmed
// mismatch. The check is skipped, with a log line, when the school allows
// cross-organization reports, the school is unknown, or the scrape left no
// organization name behind.
func (c *Collector) VerifyOrg(ctx context.Context, job *scrape.Job) error {
	school, err := c.schools.GetSchool(ctx, job.SchoolID)
	if err != nil {
		c.logger.Warn("school lookup failed, skipping org check",
			zap.String("job_id", job.ID), zap.Int64("school_id", job.SchoolID), zap.Error(err))
		return nil
	}
	if school.AllowCrossOrgReports {
		c.logger.Info("cross-org reports allowed, skipping org check",
			zap.String("job_id", job.ID), zap.String("school", school.Name))
		return nil
	}

	scraped, ok := ReadScrapedOrgName(job.OutputDir)
	if !ok {
		c.logger.Warn("org name artifact missing, skipping org check",
			zap.String("job_id", job.ID), zap.String("output_dir", job.OutputDir))
		return nil
	}

	if OrgNamesMatch(scraped, school.Name) {
		c.logger.Info("org name check passed",
			zap.String("job_id", job.ID), zap.String("scraped", scraped), zap.String("school", school.Name))
		return nil
	}
	return fmt.Errorf("%w: организация «%s» не совпадает со школой «%s», создание отчётов для других школ запрещено",
		scrape.ErrOrgMismatch, scraped, school.Name)
}

// Collect scans <output_dir>/reports and upserts a record for every stem
// that has at least one artifact. It is idempotent: re-running over the same
// directory updates paths in place instead of duplicating records.
func (c *Collector) Collect(ctx context.Context, job *scrape.Job) (created, updated int, err error) {
	found, err := ScanReports(filepath.Join(job.OutputDir, "reports"))
	if err != nil {
		return 0, 0, err
	}
	for _, fr := range found {
		rec := scrape.ReportRecord{
			SchoolID:   job.SchoolID,
			TeacherID:  job.TeacherID,
			PeriodCode: job.PeriodCode,
			ClassName:  fr.Class,
			Subject:    fr.Subject,
			ExcelPath:  fr.ExcelPath,
			WordPath:   fr.WordPath,
			Updated:    c.clock.Now(),
		}
		if fr.ExcelPath != "" && fr.WordPath == "" {
			c.logger.Warn("word artifact missing for report",
				zap.String("job_id", job.ID), zap.String("class", fr.Class), zap.String("subject", fr.Subject))
		}
		wasCreated, err := c.reports.UpsertReport(ctx, rec)
		if err != nil {
			return created, updated, fmt.Errorf("save report %s %s: %w", fr.Class, fr.Subject, err)
		}
		if wasCreated {
			created++
		} else {
			updated++
		}
	}
	c.logger.Info("reports collected",
		zap.String("job_id", job.ID), zap.Int("created", created), zap.Int("updated", updated))
	return created, updated, nil
}

// ScanReports groups artifact files in dir by filename stem. A missing
// directory yields an empty result, not an error: a run can legitimately
// produce nothing.
func ScanReports(dir string) ([]FoundReport, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reports dir: %w", err)
	}

	type pair struct{ excel, word string }
	byStem := map[string]*pair{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".xlsx" && ext != ".docx" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		p := byStem[stem]
		if p == nil {
			p = &pair{}
			byStem[stem] = p
		}
		abs := filepath.Join(dir, e.Name())
		if ext == ".xlsx" {
			p.excel = abs
		} else {
			p.word = abs
		}
	}

	stems := make([]string, 0, len(byStem))
	for stem := range byStem {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	out := make([]FoundReport, 0, len(stems))
	for _, stem := range stems {
		class, subject := ParseClassSubject(stem)
		p := byStem[stem]
		out = append(out, FoundReport{Class: class, Subject: subject, ExcelPath: p.excel, WordPath: p.word})
	}
	return out, nil
}

// ParseClassSubject splits a report filename stem into class and subject.
// Class names carry guillemet quotes («5 «В»»), so everything through the
// closing guillemet is the class. Stems without guillemets split on the
// first space.
func ParseClassSubject(stem string) (class, subject string) {
	s := strings.TrimSpace(stem)
	if strings.Contains(s, "«") {
		if i := strings.Index(s, "»"); i != -1 {
			return strings.TrimSpace(s[:i+len("»")]), strings.TrimSpace(s[i+len("»"):])
		}
	}
	fields := strings.Fields(s)
	if len(fields) <= 1 {
		return s, ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// ReadScrapedOrgName loads the organization name the scraper captured before
// switching languages, falling back to the post-switch capture.
func ReadScrapedOrgName(outputDir string) (string, bool) {
	for _, name := range []string{"org_name_ru.txt", "org_name.txt"} {
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, true
		}
	}
	return "", false
}

// OrgNamesMatch compares organization names leniently: case-insensitive
// after whitespace normalization, with containment in either direction
// accepted. Display names on the journal vary in punctuation and
// abbreviation, so exact equality rejects too much.
func OrgNamesMatch(a, b string) bool {
	na := normalizeOrgName(a)
	nb := normalizeOrgName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeOrgName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
