// Package recovery reconciles jobs orphaned by a previous process crash.
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/collector"
	"github.com/aselbek/mektep-reports/internal/scrape"
)

// Sweeper finds jobs still marked running at startup and reconciles them
// from on-disk artifacts.
type Sweeper struct {
	jobs      scrape.JobStore
	collector *collector.Collector
	logger    *zap.Logger
}

func NewSweeper(jobs scrape.JobStore, coll *collector.Collector, logger *zap.Logger) *Sweeper {
	return &Sweeper{jobs: jobs, collector: coll, logger: logger}
}

// Sweep runs once at startup. A job left running whose output directory
// already holds artifacts gets its reports collected and is forced to
// succeeded with a note that it was recovered. The org guard is not re-run:
// it already ran before the crash. Jobs with no artifacts are left alone.
// Safe to run on every start, including with nothing to recover.
func (s *Sweeper) Sweep(ctx context.Context) error {
	orphans, err := s.jobs.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range orphans {
		if job.OutputDir == "" {
			continue
		}
		created, updated, err := s.collector.Collect(ctx, &job)
		if err != nil {
			s.logger.Error("recovery collection failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if created+updated == 0 {
			s.logger.Info("orphaned job has no artifacts, leaving as is",
				zap.String("job_id", job.ID))
			continue
		}
		note := fmt.Sprintf("восстановлено после перезапуска: отчётов %d", created+updated)
		if err := s.jobs.UpdateStatus(ctx, job.ID, scrape.JobStatusSucceeded, note); err != nil {
			s.logger.Error("recovery status update failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.logger.Info("job recovered from artifacts",
			zap.String("job_id", job.ID), zap.Int("created", created), zap.Int("updated", updated))
	}
	return nil
}
