// Package memory provides map-backed stores, used in tests and as the
// storage driver for throwaway deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// Store implements the job store, report store and school directory over
// in-process maps.
type Store struct {
	mu           sync.RWMutex
	jobs         map[string]scrape.Job
	reports      map[string]scrape.ReportRecord
	schools      map[int64]scrape.School
	nextReportID int64
	clock        scrape.Clock
}

func NewStore(clock scrape.Clock) *Store {
	return &Store{
		jobs:    map[string]scrape.Job{},
		reports: map[string]scrape.ReportRecord{},
		schools: map[int64]scrape.School{},
		clock:   clock,
	}
}

func (s *Store) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = scrape.JobStatusQueued
	}
	if job.Created.IsZero() {
		job.Created = s.clock.Now()
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return job, nil
}

func (s *Store) SetOutputDir(_ context.Context, jobID, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	job.OutputDir = dir
	s.jobs[jobID] = job
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, jobID string, status scrape.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	now := s.clock.Now()
	job.Status = status
	if errText != "" {
		job.ErrorText = errText
	}
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.IsTerminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, jobID string, percent int, message string, total *int, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	job.ProgressPercent = percent
	job.ProgressMessage = message
	job.TotalReports = total
	job.ProcessedReports = processed
	s.jobs[jobID] = job
	return nil
}

func (s *Store) ListRunning(_ context.Context) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Job
	for _, job := range s.jobs {
		if job.Status == scrape.JobStatusRunning {
			out = append(out, job)
		}
	}
	return out, nil
}

func reportKey(r scrape.ReportRecord) string {
	return fmt.Sprintf("%d|%s|%s|%s", r.TeacherID, r.ClassName, r.Subject, r.PeriodCode)
}

func (s *Store) UpsertReport(_ context.Context, record scrape.ReportRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reportKey(record)
	if existing, ok := s.reports[key]; ok {
		if record.ExcelPath != "" {
			existing.ExcelPath = record.ExcelPath
		}
		if record.WordPath != "" {
			existing.WordPath = record.WordPath
		}
		existing.Updated = record.Updated
		s.reports[key] = existing
		return false, nil
	}
	s.nextReportID++
	record.ID = s.nextReportID
	s.reports[key] = record
	return true, nil
}

func (s *Store) ListReports(_ context.Context, teacherID int64, periodCode string) ([]scrape.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.ReportRecord
	for _, r := range s.reports {
		if r.TeacherID == teacherID && r.PeriodCode == periodCode {
			out = append(out, r)
		}
	}
	return out, nil
}

// PutSchool seeds the directory.
func (s *Store) PutSchool(school scrape.School) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[school.ID] = school
}

func (s *Store) GetSchool(_ context.Context, schoolID int64) (scrape.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	school, ok := s.schools[schoolID]
	if !ok {
		return scrape.School{}, fmt.Errorf("school %d: %w", schoolID, scrape.ErrNotFound)
	}
	return school, nil
}
