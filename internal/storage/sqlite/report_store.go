package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

func (s *Store) UpsertReport(ctx context.Context, record scrape.ReportRecord) (bool, error) {
	if record.Updated.IsZero() {
		record.Updated = s.clock.Now()
	}

	// Paths merge: an upsert carrying only one artifact keeps the other
	// path from the existing row.
	update := `
		UPDATE reports SET
			school_id = ?,
			excel_path = CASE WHEN ? = '' THEN excel_path ELSE ? END,
			word_path = CASE WHEN ? = '' THEN word_path ELSE ? END,
			updated_at = ?
		WHERE teacher_id = ? AND class_name = ? AND subject = ? AND period_code = ?
	`
	res, err := s.db.ExecContext(ctx, update,
		record.SchoolID,
		record.ExcelPath, record.ExcelPath,
		record.WordPath, record.WordPath,
		record.Updated.Unix(),
		record.TeacherID, record.ClassName, record.Subject, record.PeriodCode,
	)
	if err != nil {
		return false, fmt.Errorf("update report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	insert := `
		INSERT INTO reports (
			school_id, teacher_id, period_code, class_name, subject,
			excel_path, word_path, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, insert,
		record.SchoolID, record.TeacherID, record.PeriodCode, record.ClassName, record.Subject,
		record.ExcelPath, record.WordPath, record.Updated.Unix(),
	); err != nil {
		return false, fmt.Errorf("insert report: %w", err)
	}
	return true, nil
}

func (s *Store) ListReports(ctx context.Context, teacherID int64, periodCode string) ([]scrape.ReportRecord, error) {
	query := `
		SELECT id, school_id, teacher_id, period_code, class_name, subject,
			excel_path, word_path, updated_at
		FROM reports
		WHERE teacher_id = ? AND period_code = ?
		ORDER BY class_name, subject
	`
	rows, err := s.db.QueryContext(ctx, query, teacherID, periodCode)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []scrape.ReportRecord
	for rows.Next() {
		var (
			rec     scrape.ReportRecord
			updated int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.SchoolID, &rec.TeacherID, &rec.PeriodCode, &rec.ClassName, &rec.Subject,
			&rec.ExcelPath, &rec.WordPath, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rec.Updated = time.Unix(updated, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PutSchool inserts or updates a school row.
func (s *Store) PutSchool(ctx context.Context, school scrape.School) error {
	query := `
		INSERT INTO schools (id, name, allow_cross_org_reports)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			allow_cross_org_reports = excluded.allow_cross_org_reports
	`
	if _, err := s.db.ExecContext(ctx, query, school.ID, school.Name, school.AllowCrossOrgReports); err != nil {
		return fmt.Errorf("upsert school %d: %w", school.ID, err)
	}
	return nil
}

func (s *Store) GetSchool(ctx context.Context, schoolID int64) (scrape.School, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, allow_cross_org_reports FROM schools WHERE id = ?`, schoolID)
	var school scrape.School
	err := row.Scan(&school.ID, &school.Name, &school.AllowCrossOrgReports)
	if errors.Is(err, sql.ErrNoRows) {
		return scrape.School{}, fmt.Errorf("school %d: %w", schoolID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.School{}, fmt.Errorf("select school %d: %w", schoolID, err)
	}
	return school, nil
}
