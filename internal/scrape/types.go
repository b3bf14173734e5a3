// Package scrape defines core types shared across subsystems.
package scrape

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Exit codes of the scraper child process. The supervisor classifies job
// outcomes exclusively on these values.
const (
	ExitOK           = 0
	ExitSetupError   = 2
	ExitEmptyListing = 3
	ExitAuthRejected = 4
	ExitOrgMismatch  = 5
)

// Job represents one extraction run against the portal.
type Job struct {
	ID               string     `json:"id"`
	SchoolID         int64      `json:"school_id"`
	TeacherID        int64      `json:"teacher_id"`
	PeriodCode       string     `json:"period_code"`
	Lang             string     `json:"lang"`
	Limit            int        `json:"limit,omitempty"`
	Status           JobStatus  `json:"status"`
	ProgressPercent  int        `json:"progress_percent"`
	ProgressMessage  string     `json:"progress_message,omitempty"`
	TotalReports     *int       `json:"total_reports,omitempty"`
	ProcessedReports int        `json:"processed_reports"`
	OutputDir        string     `json:"output_dir,omitempty"`
	ErrorText        string     `json:"error_text,omitempty"`
	Created          time.Time  `json:"created_at"`
	Started          *time.Time `json:"started_at,omitempty"`
	Finished         *time.Time `json:"finished_at,omitempty"`
	PID              int        `json:"pid,omitempty"`
}

// Item is one (class, subject) pairing discovered on the portal's grades
// listing screen. Items are transient; they live only for the run.
type Item struct {
	Index      int    `json:"index"`
	Class      string `json:"class"`
	Subject    string `json:"subject"`
	DetailHref string `json:"detail_href"`
	DetailURL  string `json:"detail_url,omitempty"`
}

// Student holds one learner's scores for one (item, period). Records are
// never mutated after the parser produces them.
type Student struct {
	Num           string         `json:"num"`
	Name          string         `json:"fio"`
	QuarterNum    int            `json:"quarter_num"`
	Average       string         `json:"average"`
	FormativePct  string         `json:"formative_pct"`
	SectionPct    string         `json:"sor_pct"`
	TermPct       string         `json:"soch_pct"`
	TotalPct      string         `json:"total_pct"`
	Grade         string         `json:"grade"`
	SectionPoints map[int]string `json:"points,omitempty"`
	RawCells      []string       `json:"raw_cells,omitempty"`
}

// ReportRecord is the persisted pointer to one generated artifact pair,
// keyed by (teacher, class, subject, period).
type ReportRecord struct {
	ID         int64     `json:"id"`
	SchoolID   int64     `json:"school_id"`
	TeacherID  int64     `json:"teacher_id"`
	PeriodCode string    `json:"period_code"`
	ClassName  string    `json:"class_name"`
	Subject    string    `json:"subject"`
	ExcelPath  string    `json:"excel_path,omitempty"`
	WordPath   string    `json:"word_path,omitempty"`
	Updated    time.Time `json:"updated_at"`
}

// School carries the organization identity used by the org guard.
type School struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	AllowCrossOrgReports bool   `json:"allow_cross_org_reports"`
}
