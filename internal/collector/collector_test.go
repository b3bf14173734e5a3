package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

type fakeReportStore struct {
	records map[string]scrape.ReportRecord
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{records: map[string]scrape.ReportRecord{}}
}

func (s *fakeReportStore) key(r scrape.ReportRecord) string {
	return fmt.Sprintf("%d|%s|%s|%s", r.TeacherID, r.ClassName, r.Subject, r.PeriodCode)
}

func (s *fakeReportStore) UpsertReport(_ context.Context, rec scrape.ReportRecord) (bool, error) {
	k := s.key(rec)
	if existing, ok := s.records[k]; ok {
		if rec.ExcelPath != "" {
			existing.ExcelPath = rec.ExcelPath
		}
		if rec.WordPath != "" {
			existing.WordPath = rec.WordPath
		}
		existing.Updated = rec.Updated
		s.records[k] = existing
		return false, nil
	}
	s.records[k] = rec
	return true, nil
}

func (s *fakeReportStore) ListReports(_ context.Context, teacherID int64, periodCode string) ([]scrape.ReportRecord, error) {
	var out []scrape.ReportRecord
	for _, r := range s.records {
		if r.TeacherID == teacherID && r.PeriodCode == periodCode {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSchools struct {
	school scrape.School
	err    error
}

func (f *fakeSchools) GetSchool(context.Context, int64) (scrape.School, error) {
	return f.school, f.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestCollector(reports scrape.ReportStore, schools scrape.SchoolDirectory) *Collector {
	return New(reports, schools, fixedClock{now: time.Unix(1700000000, 0)}, zap.NewNop())
}

func writeReportFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	reportsDir := filepath.Join(dir, "reports")
	require.NoError(t, os.MkdirAll(reportsDir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(reportsDir, name), []byte("x"), 0o644))
	}
}

func TestParseClassSubject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stem, class, subject string
	}{
		{"5 «В» Математика", "5 «В»", "Математика"},
		{"10 «А» Всемирная история", "10 «А»", "Всемирная история"},
		{"5В Алгебра", "5В", "Алгебра"},
		{"Информатика", "Информатика", ""},
	}
	for _, tc := range cases {
		class, subject := ParseClassSubject(tc.stem)
		require.Equal(t, tc.class, class, "stem %q", tc.stem)
		require.Equal(t, tc.subject, subject, "stem %q", tc.stem)
	}
}

func TestOrgNamesMatch(t *testing.T) {
	t.Parallel()

	require.True(t, OrgNamesMatch("  Лицей   № 5 ", "лицей № 5"))
	require.True(t, OrgNamesMatch("КГУ Лицей № 5", "Лицей № 5"))
	require.True(t, OrgNamesMatch("Лицей № 5", "КГУ Лицей № 5 города Караганды"))
	require.False(t, OrgNamesMatch("Школа № 12", "Лицей № 5"))
	require.False(t, OrgNamesMatch("", "Лицей № 5"))
}

func TestScanReportsGroupsByStem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeReportFiles(t, dir,
		"5 «В» Математика.xlsx",
		"5 «В» Математика.docx",
		"6 «А» Физика.xlsx",
		"notes.txt",
	)

	found, err := ScanReports(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "5 «В»", found[0].Class)
	require.Equal(t, "Математика", found[0].Subject)
	require.NotEmpty(t, found[0].ExcelPath)
	require.NotEmpty(t, found[0].WordPath)
	require.Equal(t, "6 «А»", found[1].Class)
	require.Empty(t, found[1].WordPath)
}

func TestScanReportsMissingDir(t *testing.T) {
	t.Parallel()

	found, err := ScanReports(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCollectIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeReportFiles(t, dir,
		"5 «В» Математика.xlsx",
		"5 «В» Математика.docx",
		"6 «А» Физика.xlsx",
		"7 «Б» Химия.xlsx",
	)
	job := &scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", OutputDir: dir}
	store := newFakeReportStore()
	c := newTestCollector(store, &fakeSchools{school: scrape.School{ID: 1, Name: "Лицей № 5"}})

	created, updated, err := c.Collect(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 3, created)
	require.Equal(t, 0, updated)

	created, updated, err = c.Collect(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 0, created)
	require.Equal(t, 3, updated)

	recs, err := store.ListReports(context.Background(), 10, "2")
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestVerifyOrgMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org_name_ru.txt"), []byte("Школа № 12\n"), 0o644))
	job := &scrape.Job{ID: "j1", SchoolID: 1, OutputDir: dir}
	c := newTestCollector(newFakeReportStore(), &fakeSchools{school: scrape.School{ID: 1, Name: "Лицей № 5"}})

	err := c.VerifyOrg(context.Background(), job)
	require.ErrorIs(t, err, scrape.ErrOrgMismatch)
}

func TestVerifyOrgSkipsWhenCrossOrgAllowed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org_name_ru.txt"), []byte("Школа № 12"), 0o644))
	job := &scrape.Job{ID: "j1", SchoolID: 1, OutputDir: dir}
	c := newTestCollector(newFakeReportStore(), &fakeSchools{school: scrape.School{ID: 1, Name: "Лицей № 5", AllowCrossOrgReports: true}})

	require.NoError(t, c.VerifyOrg(context.Background(), job))
}

func TestVerifyOrgSkipsWhenArtifactMissing(t *testing.T) {
	t.Parallel()

	job := &scrape.Job{ID: "j1", SchoolID: 1, OutputDir: t.TempDir()}
	c := newTestCollector(newFakeReportStore(), &fakeSchools{school: scrape.School{ID: 1, Name: "Лицей № 5"}})

	require.NoError(t, c.VerifyOrg(context.Background(), job))
}

func TestVerifyOrgFallsBackToPostSwitchName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org_name.txt"), []byte("Лицей № 5"), 0o644))
	job := &scrape.Job{ID: "j1", SchoolID: 1, OutputDir: dir}
	c := newTestCollector(newFakeReportStore(), &fakeSchools{school: scrape.School{ID: 1, Name: "Лицей № 5"}})

	require.NoError(t, c.VerifyOrg(context.Background(), job))
}
