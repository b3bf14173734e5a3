// Package supervisor runs scrape jobs as child processes under a global
// concurrency ceiling, mirrors their progress, and drives every job to
// exactly one terminal state.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/collector"
	"github.com/aselbek/mektep-reports/internal/metrics"
	"github.com/aselbek/mektep-reports/internal/progress"
	"github.com/aselbek/mektep-reports/internal/scrape"
)

// progressFileName is the snapshot file inside each job's output directory.
const progressFileName = "progress.json"

// Config controls supervision behavior.
type Config struct {
	MaxConcurrent int
	Timeout       time.Duration
	Tick          time.Duration
	Grace         time.Duration
	UploadRoot    string

	ScraperBinary string
	ScraperArgs   []string
}

// RunParams carries the per-run secrets and knobs that are not part of the
// persisted job.
type RunParams struct {
	Login       string
	Password    string
	SchoolIndex *int
}

// Supervisor owns all live child processes. Process handles never leave
// this package.
type Supervisor struct {
	cfg       Config
	jobs      scrape.JobStore
	schools   scrape.SchoolDirectory
	collector *collector.Collector
	launcher  scrape.Launcher
	clock     scrape.Clock
	logger    *zap.Logger

	sem   chan struct{}
	procs *processRegistry
}

func New(cfg Config, jobs scrape.JobStore, schools scrape.SchoolDirectory, coll *collector.Collector, launcher scrape.Launcher, clock scrape.Clock, logger *zap.Logger) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	metrics.Init()
	return &Supervisor{
		cfg:       cfg,
		jobs:      jobs,
		schools:   schools,
		collector: coll,
		launcher:  launcher,
		clock:     clock,
		logger:    logger,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		procs:     newProcessRegistry(),
	}
}

// Submit blocks until a concurrency slot frees up, then runs the job's
// extraction in the background. The block is intentional backpressure on
// the caller. The returned error covers only slot acquisition; run failures
// land in the job store.
func (s *Supervisor) Submit(ctx context.Context, job scrape.Job, params RunParams) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for job slot: %w", ctx.Err())
	}
	metrics.IncActiveJobs()
	go func() {
		defer func() {
			<-s.sem
			metrics.DecActiveJobs()
		}()
		s.execute(job, params)
	}()
	return nil
}

// ActiveCount reports how many jobs currently hold a slot.
func (s *Supervisor) ActiveCount() int {
	return len(s.sem)
}

// Cancel requests cooperative cancellation. The job is marked cancelled so
// the monitor loop terminates its child. Returns whether a live process was
// found.
func (s *Supervisor) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	if err := s.jobs.UpdateStatus(ctx, jobID, scrape.JobStatusCancelled, "отменено пользователем"); err != nil {
		return false, err
	}
	_, alive := s.procs.get(jobID)
	s.logger.Info("cancellation requested", zap.String("job_id", jobID), zap.Bool("live_process", alive))
	return alive, nil
}

// SelectSchool resolves a run paused on the multi-organization screen by
// dropping the choice where the child polls for it.
func (s *Supervisor) SelectSchool(ctx context.Context, jobID string, index int) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OutputDir == "" {
		return fmt.Errorf("job %s has no output directory yet", jobID)
	}
	return progress.ResolveChoice(job.OutputDir, index)
}

func (s *Supervisor) execute(job scrape.Job, params RunParams) {
	ctx := context.Background()
	started := s.clock.Now()

	outputDir := filepath.Join(
		s.cfg.UploadRoot,
		fmt.Sprintf("school_%d", job.SchoolID),
		fmt.Sprintf("teacher_%d", job.TeacherID),
		"job_"+job.ID,
	)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		s.fail(ctx, job.ID, started, "не удалось создать директорию вывода: "+err.Error(), "", false)
		return
	}
	if err := s.jobs.SetOutputDir(ctx, job.ID, outputDir); err != nil {
		s.fail(ctx, job.ID, started, "не удалось сохранить директорию вывода: "+err.Error(), outputDir, true)
		return
	}
	job.OutputDir = outputDir

	if err := s.jobs.UpdateStatus(ctx, job.ID, scrape.JobStatusRunning, ""); err != nil {
		s.logger.Error("mark running failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	spec := s.launchSpec(ctx, job, params, outputDir)
	proc, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		s.fail(ctx, job.ID, started, "не удалось запустить скрапер: "+err.Error(), outputDir, true)
		return
	}
	s.procs.register(job.ID, proc)
	defer s.procs.unregister(job.ID)
	s.logger.Info("scraper started",
		zap.String("job_id", job.ID), zap.Int("pid", proc.PID()), zap.String("output_dir", outputDir))

	s.monitor(ctx, job, proc, started)
}

// launchSpec assembles the child's private environment. The expected school
// name rides along when cross-org reports are disabled, giving the child a
// first-line self-check before any extraction work.
func (s *Supervisor) launchSpec(ctx context.Context, job scrape.Job, params RunParams, outputDir string) scrape.LaunchSpec {
	env := map[string]string{
		"MEKTEP_LOGIN":    params.Login,
		"MEKTEP_PASSWORD": params.Password,
		"MEKTEP_PERIOD":   job.PeriodCode,
		"MEKTEP_LANG":     job.Lang,
		"MEKTEP_ALL":      "1",
		"MEKTEP_OUT":      outputDir,
		"PROGRESS_FILE":   filepath.Join(outputDir, progressFileName),
	}
	if job.Limit > 0 {
		env["MEKTEP_LIMIT"] = strconv.Itoa(job.Limit)
	}
	if params.SchoolIndex != nil {
		env["MEKTEP_SCHOOL_INDEX"] = strconv.Itoa(*params.SchoolIndex)
	}
	if school, err := s.schools.GetSchool(ctx, job.SchoolID); err == nil && !school.AllowCrossOrgReports {
		env["MEKTEP_EXPECTED_SCHOOL"] = school.Name
	}
	return scrape.LaunchSpec{Binary: s.cfg.ScraperBinary, Args: s.cfg.ScraperArgs, Env: env}
}

func (s *Supervisor) monitor(ctx context.Context, job scrape.Job, proc scrape.Process, started time.Time) {
	progressPath := filepath.Join(job.OutputDir, progressFileName)
	deadline := started.Add(s.cfg.Timeout)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			s.classifyExit(ctx, job, proc, started)
			return
		case <-ticker.C:
		}

		if snap, err := progress.Read(progressPath); err == nil {
			if err := s.jobs.UpdateProgress(ctx, job.ID, snap.Percent, snap.Message, snap.TotalReports, snap.ProcessedReports); err != nil {
				s.logger.Warn("mirror progress failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}

		if current, err := s.jobs.GetJob(ctx, job.ID); err == nil && current.Status == scrape.JobStatusCancelled {
			s.logger.Info("terminating cancelled job", zap.String("job_id", job.ID))
			s.stopProcess(proc)
			// Cancelled jobs keep their output directory.
			metrics.ObserveJob(string(scrape.JobStatusCancelled), s.clock.Now().Sub(started))
			return
		}

		if s.clock.Now().After(deadline) {
			s.logger.Error("job timed out, killing child",
				zap.String("job_id", job.ID), zap.Duration("timeout", s.cfg.Timeout))
			_ = proc.Kill()
			<-proc.Done()
			msg := fmt.Sprintf("превышено время выполнения (%s)", s.cfg.Timeout)
			s.fail(ctx, job.ID, started, msg, job.OutputDir, true)
			return
		}
	}
}

func (s *Supervisor) classifyExit(ctx context.Context, job scrape.Job, proc scrape.Process, started time.Time) {
	code := proc.ExitCode()
	s.logger.Info("scraper exited", zap.String("job_id", job.ID), zap.Int("exit_code", code))

	// Cancellation may have landed between the last tick and exit.
	if current, err := s.jobs.GetJob(ctx, job.ID); err == nil && current.Status == scrape.JobStatusCancelled {
		metrics.ObserveJob(string(scrape.JobStatusCancelled), s.clock.Now().Sub(started))
		return
	}

	switch code {
	case scrape.ExitOK:
		s.succeed(ctx, job, started)
	case scrape.ExitAuthRejected:
		s.fail(ctx, job.ID, started, "Неверный логин или пароль", job.OutputDir, true)
	case scrape.ExitOrgMismatch:
		s.fail(ctx, job.ID, started, "Организация аккаунта не совпадает со школой, создание отчётов запрещено", job.OutputDir, true)
	case scrape.ExitEmptyListing:
		s.fail(ctx, job.ID, started, "Список оценок пуст или не найден", job.OutputDir, true)
	default:
		s.logger.Error("scraper failed",
			zap.String("job_id", job.ID), zap.Int("exit_code", code), zap.String("output", proc.Output()))
		s.fail(ctx, job.ID, started, fmt.Sprintf("скрапер завершился с кодом %d", code), job.OutputDir, true)
	}
}

func (s *Supervisor) succeed(ctx context.Context, job scrape.Job, started time.Time) {
	if err := s.collector.VerifyOrg(ctx, &job); err != nil {
		s.fail(ctx, job.ID, started, err.Error(), job.OutputDir, true)
		return
	}
	created, updated, err := s.collector.Collect(ctx, &job)
	if err != nil {
		s.fail(ctx, job.ID, started, "не удалось сохранить отчёты: "+err.Error(), job.OutputDir, true)
		return
	}
	metrics.ObserveReportsCollected(created + updated)

	if err := s.jobs.UpdateStatus(ctx, job.ID, scrape.JobStatusSucceeded, ""); err != nil {
		s.logger.Error("mark succeeded failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	progress.Finalize(filepath.Join(job.OutputDir, progressFileName), 100, "Готово")
	metrics.ObserveJob(string(scrape.JobStatusSucceeded), s.clock.Now().Sub(started))
	s.logger.Info("job succeeded",
		zap.String("job_id", job.ID), zap.Int("created", created), zap.Int("updated", updated))
}

// fail records the terminal failure and, on the paths where partial output
// must not leak, deletes the job's output directory.
func (s *Supervisor) fail(ctx context.Context, jobID string, started time.Time, message, outputDir string, deleteOutput bool) {
	if err := s.jobs.UpdateStatus(ctx, jobID, scrape.JobStatusFailed, message); err != nil {
		s.logger.Error("mark failed failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if deleteOutput && outputDir != "" {
		s.removeAllRetry(outputDir)
	}
	metrics.ObserveJob(string(scrape.JobStatusFailed), s.clock.Now().Sub(started))
	s.logger.Error("job failed", zap.String("job_id", jobID), zap.String("reason", message))
}

func (s *Supervisor) stopProcess(proc scrape.Process) {
	if err := proc.Terminate(); err != nil {
		_ = proc.Kill()
	}
	select {
	case <-proc.Done():
	case <-time.After(s.cfg.Grace):
		_ = proc.Kill()
		<-proc.Done()
	}
}

// removeAllRetry tolerates transient file locks held by a just-killed child.
func (s *Supervisor) removeAllRetry(dir string) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		if err := os.RemoveAll(dir); err == nil {
			return
		}
		time.Sleep(400 * time.Millisecond)
	}
	s.logger.Warn("output directory not fully removed", zap.String("dir", dir))
}
