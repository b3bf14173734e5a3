package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	job := scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru", Limit: 5}
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			"j1", int64(1), int64(10), "2", "ru", 5,
			"queued", 0, "", (*int)(nil),
			0, "", "", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusStampsTimes(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("running", "", true, now, false, "j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "j1", scrape.JobStatusRunning, ""))

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("failed", "Неверный логин или пароль", false, now, true, "j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "j1", scrape.JobStatusFailed, "Неверный логин или пароль"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("failed", "x", false, now, true, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateStatus(context.Background(), "missing", scrape.JobStatusFailed, "x")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReportReportsCreated(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	rec := scrape.ReportRecord{
		SchoolID:   1,
		TeacherID:  10,
		PeriodCode: "2",
		ClassName:  "5 «В»",
		Subject:    "Математика",
		ExcelPath:  "/data/reports/5В.xlsx",
	}

	mock.ExpectQuery("INSERT INTO reports").
		WithArgs(int64(1), int64(10), "2", "5 «В»", "Математика", "/data/reports/5В.xlsx", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(true))

	created, err := store.UpsertReport(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, created)

	mock.ExpectQuery("INSERT INTO reports").
		WithArgs(int64(1), int64(10), "2", "5 «В»", "Математика", "/data/reports/5В.xlsx", "", now).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(false))

	created, err = store.UpsertReport(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunningScansJobs(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "school_id", "teacher_id", "period_code", "lang", "item_limit",
		"status", "progress_percent", "progress_message", "total_reports",
		"processed_reports", "output_dir", "error_text", "created_at", "started_at", "finished_at",
	}).AddRow(
		"j1", int64(1), int64(10), "2", "ru", 0,
		"running", 42, "Обработано отчетов: 1 из 3", ptrInt(3),
		1, "/data/job_j1", "", now, &now, (*time.Time)(nil),
	)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE status").
		WithArgs("running").
		WillReturnRows(rows)

	jobs, err := store.ListRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scrape.JobStatusRunning, jobs[0].Status)
	require.Equal(t, 42, jobs[0].ProgressPercent)
	require.NotNil(t, jobs[0].TotalReports)
	require.Equal(t, 3, *jobs[0].TotalReports)
	require.NotNil(t, jobs[0].Started)
	require.Nil(t, jobs[0].Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchoolScansRow(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, allow_cross_org_reports FROM schools").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "allow_cross_org_reports"}).
			AddRow(int64(1), "Лицей № 5", false))

	school, err := store.GetSchool(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Лицей № 5", school.Name)
	require.False(t, school.AllowCrossOrgReports)
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptrInt(v int) *int { return &v }
