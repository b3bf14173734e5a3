package scrape

import (
	"context"
	"time"
)

// JobStore persists job metadata. Each job is mutated by exactly one
// supervising goroutine, so implementations only need row-level safety.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// SetOutputDir records the job's output directory. It is set exactly
	// once, before the child process starts, and never changes.
	SetOutputDir(ctx context.Context, jobID, dir string) error
	// UpdateStatus transitions the job and stamps started/finished times.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	// UpdateProgress mirrors the latest progress snapshot into the job.
	UpdateProgress(ctx context.Context, jobID string, percent int, message string, total *int, processed int) error
	// ListRunning returns jobs still marked running (crash recovery input).
	ListRunning(ctx context.Context) ([]Job, error)
}

// ReportStore persists collected report records.
type ReportStore interface {
	// UpsertReport inserts or updates the record for the report's
	// (teacher, class, subject, period) key and reports whether a new
	// row was created.
	UpsertReport(ctx context.Context, record ReportRecord) (created bool, err error)
	ListReports(ctx context.Context, teacherID int64, periodCode string) ([]ReportRecord, error)
}

// SchoolDirectory resolves the organization a job is scoped to.
type SchoolDirectory interface {
	GetSchool(ctx context.Context, schoolID int64) (School, error)
}

// LaunchSpec describes a scraper child process to start.
type LaunchSpec struct {
	Binary string
	Args   []string
	// Env is the child's private environment (credentials, period, language,
	// progress file path); it is merged over the parent environment.
	Env map[string]string
	Dir string
}

// Process is a handle to a live scraper child. The handle never leaves the
// supervisor.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid only after Done is closed; -1 when killed.
	ExitCode() int
	// Output returns captured combined stdout/stderr, truncated.
	Output() string
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill force-stops the process.
	Kill() error
}

// Launcher starts scraper child processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
