package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

func (s *Store) UpsertReport(ctx context.Context, record scrape.ReportRecord) (bool, error) {
	if record.Updated.IsZero() {
		record.Updated = s.clock.Now()
	}

	// Paths merge: an upsert carrying only one artifact keeps the other
	// path from the existing row. xmax = 0 distinguishes insert from update.
	query := `
		INSERT INTO reports (
			school_id, teacher_id, period_code, class_name, subject,
			excel_path, word_path, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (teacher_id, class_name, subject, period_code) DO UPDATE SET
			school_id = EXCLUDED.school_id,
			excel_path = CASE WHEN EXCLUDED.excel_path = '' THEN reports.excel_path ELSE EXCLUDED.excel_path END,
			word_path = CASE WHEN EXCLUDED.word_path = '' THEN reports.word_path ELSE EXCLUDED.word_path END,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)
	`
	var created bool
	err := s.pool.QueryRow(ctx, query,
		record.SchoolID, record.TeacherID, record.PeriodCode, record.ClassName, record.Subject,
		record.ExcelPath, record.WordPath, record.Updated,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert report: %w", err)
	}
	return created, nil
}

func (s *Store) ListReports(ctx context.Context, teacherID int64, periodCode string) ([]scrape.ReportRecord, error) {
	query := `
		SELECT id, school_id, teacher_id, period_code, class_name, subject,
			excel_path, word_path, updated_at
		FROM reports
		WHERE teacher_id = $1 AND period_code = $2
		ORDER BY class_name, subject
	`
	rows, err := s.pool.Query(ctx, query, teacherID, periodCode)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []scrape.ReportRecord
	for rows.Next() {
		var rec scrape.ReportRecord
		if err := rows.Scan(
			&rec.ID, &rec.SchoolID, &rec.TeacherID, &rec.PeriodCode, &rec.ClassName, &rec.Subject,
			&rec.ExcelPath, &rec.WordPath, &rec.Updated,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutSchool inserts or updates a school row.
func (s *Store) PutSchool(ctx context.Context, school scrape.School) error {
	query := `
		INSERT INTO schools (id, name, allow_cross_org_reports)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			allow_cross_org_reports = EXCLUDED.allow_cross_org_reports
	`
	if _, err := s.pool.Exec(ctx, query, school.ID, school.Name, school.AllowCrossOrgReports); err != nil {
		return fmt.Errorf("upsert school %d: %w", school.ID, err)
	}
	return nil
}

func (s *Store) GetSchool(ctx context.Context, schoolID int64) (scrape.School, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, allow_cross_org_reports FROM schools WHERE id = $1`, schoolID)
	var school scrape.School
	err := row.Scan(&school.ID, &school.Name, &school.AllowCrossOrgReports)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.School{}, fmt.Errorf("school %d: %w", schoolID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.School{}, fmt.Errorf("select school %d: %w", schoolID, err)
	}
	return school, nil
}
