// Package progress implements the file-backed progress channel shared by the
// scraper child process and its supervisor. The channel is deliberately a
// last-write-wins snapshot polled at a bounded interval: the progress file is
// the only safe cross-process signal available without extra infrastructure,
// so readers see data at most one poll interval stale.
package progress

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Snapshot is the full-replacement status object exchanged between the child
// and the supervisor. Every write overwrites the whole file; consumers must
// treat it as a replacement, not a delta.
type Snapshot struct {
	Percent          int    `json:"percent"`
	Message          string `json:"message"`
	TotalReports     *int   `json:"total_reports"`
	ProcessedReports int    `json:"processed_reports"`
	Finished         bool   `json:"finished"`
}

// Writer publishes snapshots from inside the scraper child. Writes are
// best-effort: a failed write must never crash extraction.
type Writer struct {
	path   string
	logger *zap.Logger
}

// NewWriter returns a Writer bound to the snapshot file path. An empty path
// yields a Writer whose publishes are no-ops (the child was started without
// a progress channel, e.g. from the command line).
func NewWriter(path string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{path: path, logger: logger}
}

// Publish overwrites the snapshot file with s.
func (w *Writer) Publish(s Snapshot) {
	if w == nil || w.path == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		w.logger.Warn("marshal progress snapshot", zap.Error(err))
		return
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		w.logger.Warn("write progress snapshot", zap.Error(err))
	}
}

// Update publishes a non-finished snapshot with the given fields.
func (w *Writer) Update(percent int, message string, total *int, processed int) {
	w.Publish(Snapshot{
		Percent:          percent,
		Message:          message,
		TotalReports:     total,
		ProcessedReports: processed,
	})
}

// Read loads the snapshot at path. A missing file is reported as an error so
// callers can distinguish "not started yet" from a zero snapshot.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read progress file: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress file: %w", err)
	}
	return s, nil
}

// Finalize rewrites the snapshot at path as finished, stamping the terminal
// percent and, when non-empty, the terminal message. Used by the supervisor
// after it has classified the job outcome, so late readers of the file see a
// consistent end state. Missing files are ignored.
func Finalize(path string, percent int, message string) {
	s, err := Read(path)
	if err != nil {
		return
	}
	s.Finished = true
	s.Percent = percent
	if message != "" {
		s.Message = message
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}
