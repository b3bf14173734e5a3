// Package main is the extraction child process. The supervisor launches one
// per job with the run parameters in the environment and classifies the run
// by this binary's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/logging"
	"github.com/aselbek/mektep-reports/internal/progress"
	"github.com/aselbek/mektep-reports/internal/report"
	"github.com/aselbek/mektep-reports/internal/scrape"
	"github.com/aselbek/mektep-reports/internal/scraper"
)

func main() {
	os.Exit(run())
}

func run() int {
	entryURL := flag.String("entry-url", "https://mektep.edu.kz/?school=logout&language=rus", "Portal entry URL")
	headless := flag.Bool("headless", true, "Run the browser headless")
	navTimeout := flag.Duration("nav-timeout", 60*time.Second, "Per-navigation timeout")
	templateDir := flag.String("templates", "templates", "Directory with Word report templates")
	choiceWait := flag.Duration("choice-wait", 60*time.Second, "How long to wait for a school choice")
	fiveMin := flag.Int("grade-five-min", 85, "Minimum percent for grade 5")
	fourMin := flag.Int("grade-four-min", 65, "Minimum percent for grade 4")
	threeMin := flag.Int("grade-three-min", 40, "Minimum percent for grade 3")
	flag.Parse()

	outputDir := os.Getenv("MEKTEP_OUT")
	if outputDir == "" {
		outputDir = "out"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		return scrape.ExitSetupError
	}

	logger, err := logging.NewScrapeRun(outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return scrape.ExitSetupError
	}
	defer func() {
		_ = logger.Sync()
	}()

	prog := progress.NewWriter(os.Getenv("PROGRESS_FILE"), logger)

	lang := os.Getenv("MEKTEP_LANG")
	if lang == "" {
		lang = "ru"
	}

	opts := scraper.Options{
		EntryURL:       *entryURL,
		Headless:       *headless,
		NavTimeout:     *navTimeout,
		Login:          os.Getenv("MEKTEP_LOGIN"),
		Password:       os.Getenv("MEKTEP_PASSWORD"),
		PeriodCode:     os.Getenv("MEKTEP_PERIOD"),
		Lang:           lang,
		OutputDir:      outputDir,
		TemplateDir:    *templateDir,
		ExpectedSchool: os.Getenv("MEKTEP_EXPECTED_SCHOOL"),
		ChoiceWait:     *choiceWait,
		BatchAll:       os.Getenv("MEKTEP_ALL") == "1",
		Grading:        report.Policy{FiveMin: *fiveMin, FourMin: *fourMin, ThreeMin: *threeMin},
	}
	if v := os.Getenv("MEKTEP_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Error("invalid MEKTEP_LIMIT", zap.String("value", v))
			return scrape.ExitSetupError
		}
		opts.Limit = n
	}
	if v := os.Getenv("MEKTEP_SCHOOL_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Error("invalid MEKTEP_SCHOOL_INDEX", zap.String("value", v))
			return scrape.ExitSetupError
		}
		opts.SchoolIndex = &n
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := scraper.NewRunner(opts, prog, logger)
	if err := runner.Run(ctx); err != nil {
		logger.Error("extraction failed", zap.Error(err))
		return scrape.ExitCodeFor(err)
	}
	return scrape.ExitOK
}
