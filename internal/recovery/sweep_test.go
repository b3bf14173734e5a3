package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/clock/system"
	"github.com/aselbek/mektep-reports/internal/collector"
	"github.com/aselbek/mektep-reports/internal/scrape"
	"github.com/aselbek/mektep-reports/internal/storage/memory"
)

func newTestSweeper(t *testing.T) (*Sweeper, *memory.Store) {
	t.Helper()
	store := memory.NewStore(system.Clock{})
	store.PutSchool(scrape.School{ID: 1, Name: "Лицей № 5"})
	coll := collector.New(store, store, system.Clock{}, zap.NewNop())
	return NewSweeper(store, coll, zap.NewNop()), store
}

func seedRunningJob(t *testing.T, store *memory.Store, id, outputDir string) {
	t.Helper()
	ctx := context.Background()
	job := scrape.Job{ID: id, SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru"}
	require.NoError(t, store.CreateJob(ctx, job))
	if outputDir != "" {
		require.NoError(t, store.SetOutputDir(ctx, id, outputDir))
	}
	require.NoError(t, store.UpdateStatus(ctx, id, scrape.JobStatusRunning, ""))
}

func writeArtifacts(t *testing.T, dir string, stems ...string) {
	t.Helper()
	reportsDir := filepath.Join(dir, "reports")
	require.NoError(t, os.MkdirAll(reportsDir, 0o755))
	for _, stem := range stems {
		require.NoError(t, os.WriteFile(filepath.Join(reportsDir, stem+".xlsx"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(reportsDir, stem+".docx"), []byte("x"), 0o644))
	}
}

func TestSweepRecoversJobWithArtifacts(t *testing.T) {
	t.Parallel()

	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeArtifacts(t, dir, "5 «В» Математика", "6 «А» Физика", "7 «Б» Химия")
	seedRunningJob(t, store, "j1", dir)

	require.NoError(t, sweeper.Sweep(ctx))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusSucceeded, job.Status)
	require.Contains(t, job.ErrorText, "восстановлено после перезапуска")

	recs, err := store.ListReports(ctx, 10, "2")
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeArtifacts(t, dir, "5 «В» Математика")
	seedRunningJob(t, store, "j1", dir)

	require.NoError(t, sweeper.Sweep(ctx))
	require.NoError(t, sweeper.Sweep(ctx))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusSucceeded, job.Status)

	recs, err := store.ListReports(ctx, 10, "2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestSweepLeavesJobsWithoutArtifacts(t *testing.T) {
	t.Parallel()

	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	seedRunningJob(t, store, "no-dir", "")
	seedRunningJob(t, store, "empty-dir", t.TempDir())

	require.NoError(t, sweeper.Sweep(ctx))

	for _, id := range []string{"no-dir", "empty-dir"} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		require.Equal(t, scrape.JobStatusRunning, job.Status)
	}
}

func TestSweepSkipsForeignOrgCheck(t *testing.T) {
	t.Parallel()

	sweeper, store := newTestSweeper(t)
	ctx := context.Background()

	// Artifacts from another organization still count: the guard ran before
	// the crash, the sweep only salvages what is on disk.
	dir := t.TempDir()
	writeArtifacts(t, dir, "5 «В» Математика")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "org_name_ru.txt"), []byte("Школа № 12"), 0o644))
	seedRunningJob(t, store, "j1", dir)

	require.NoError(t, sweeper.Sweep(ctx))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusSucceeded, job.Status)
}
