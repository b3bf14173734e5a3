package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.SchoolID, job.TeacherID, job.PeriodCode, job.Lang, job.Limit,
		string(job.Status), job.ProgressPercent, job.ProgressMessage, job.TotalReports,
		job.ProcessedReports, job.OutputDir, job.ErrorText, job.Created,
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
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	return job, nil
}

func (s *Store) SetOutputDir(ctx context.Context, jobID, dir string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET output_dir = $1 WHERE id = $2`, dir, jobID)
	if err != nil {
		return fmt.Errorf("set output dir for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, jobID string, status scrape.JobStatus, errText string) error {
	now := s.clock.Now()
	query := `
		UPDATE jobs SET
			status = $1,
			error_text = CASE WHEN $2 = '' THEN error_text ELSE $2 END,
			started_at = CASE WHEN $3 AND started_at IS NULL THEN $4 ELSE started_at END,
			finished_at = CASE WHEN $5 AND finished_at IS NULL THEN $4 ELSE finished_at END
		WHERE id = $6
	`
	tag, err := s.pool.Exec(ctx, query,
		string(status), errText,
		status == scrape.JobStatusRunning, now, status.IsTerminal(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, percent int, message string, total *int, processed int) error {
	query := `
		UPDATE jobs SET
			progress_percent = $1, progress_message = $2,
			total_reports = $3, processed_reports = $4
		WHERE id = $5
	`
	tag, err := s.pool.Exec(ctx, query, percent, message, total, processed, jobID)
	if err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRunning(ctx context.Context) ([]scrape.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at`,
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

func scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job    scrape.Job
		status string
	)
	err := row.Scan(
		&job.ID, &job.SchoolID, &job.TeacherID, &job.PeriodCode, &job.Lang, &job.Limit,
		&status, &job.ProgressPercent, &job.ProgressMessage, &job.TotalReports,
		&job.ProcessedReports, &job.OutputDir, &job.ErrorText, &job.Created, &job.Started, &job.Finished,
	)
	if err != nil {
		return scrape.Job{}, err
	}
	job.Status = scrape.JobStatus(status)
	return job, nil
}
