package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

func (s *Store) CreateJob(ctx context.Context, job scrape.Job) error {
	if job.Status == "" {
		job.Status = scrape.JobStatusQueued
	}
	if job.Created.IsZero() {
		job.Created = s.clock.Now()
	}
	query := `
		INSERT INTO jobs (
			id, school_id, teacher_id, period_code, lang, item_limit,
			status, progress_percent, progress_message, total_reports,
			processed_reports, output_dir, error_text, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.SchoolID, job.TeacherID, job.PeriodCode, job.Lang, job.Limit,
		string(job.Status), job.ProgressPercent, job.ProgressMessage, nullableInt(job.TotalReports),
		job.ProcessedReports, job.OutputDir, job.ErrorText, job.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `
	id, school_id, teacher_id, period_code, lang, item_limit,
	status, progress_percent, progress_message, total_reports,
	processed_reports, output_dir, error_text, created_at, started_at, finished_at
`

func (s *Store) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	return job, nil
}

func (s *Store) SetOutputDir(ctx context.Context, jobID, dir string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET output_dir = ? WHERE id = ?`, dir, jobID)
	if err != nil {
		return fmt.Errorf("set output dir for job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

func (s *Store) UpdateStatus(ctx context.Context, jobID string, status scrape.JobStatus, errText string) error {
	now := s.clock.Now().Unix()
	query := `
		UPDATE jobs SET
			status = ?,
			error_text = CASE WHEN ? = '' THEN error_text ELSE ? END,
			started_at = CASE WHEN ? AND started_at IS NULL THEN ? ELSE started_at END,
			finished_at = CASE WHEN ? AND finished_at IS NULL THEN ? ELSE finished_at END
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(status),
		errText, errText,
		status == scrape.JobStatusRunning, now,
		status.IsTerminal(), now,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, percent int, message string, total *int, processed int) error {
	query := `
		UPDATE jobs SET
			progress_percent = ?, progress_message = ?,
			total_reports = ?, processed_reports = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, percent, message, nullableInt(total), processed, jobID)
	if err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return requireRow(res, jobID)
}

func (s *Store) ListRunning(ctx context.Context) ([]scrape.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at`,
		string(scrape.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()

	var out []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (scrape.Job, error) {
	var (
		job      scrape.Job
		status   string
		total    sql.NullInt64
		created  int64
		started  sql.NullInt64
		finished sql.NullInt64
	)
	err := row.Scan(
		&job.ID, &job.SchoolID, &job.TeacherID, &job.PeriodCode, &job.Lang, &job.Limit,
		&status, &job.ProgressPercent, &job.ProgressMessage, &total,
		&job.ProcessedReports, &job.OutputDir, &job.ErrorText, &created, &started, &finished,
	)
	if err != nil {
		return scrape.Job{}, err
	}
	job.Status = scrape.JobStatus(status)
	if total.Valid {
		n := int(total.Int64)
		job.TotalReports = &n
	}
	job.Created = time.Unix(created, 0).UTC()
	job.Started = unixPtr(started)
	job.Finished = unixPtr(finished)
	return job, nil
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
