package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aselbek/mektep-reports/internal/config"
)

func TestScraperArgsCarryConfiguredKnobs(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Scraper.EntryURL = "https://mektep.edu.kz/?school=logout&language=rus"
	cfg.Scraper.Headless = false
	cfg.Scraper.NavTimeoutSec = 90
	cfg.Scraper.ChoiceWaitSeconds = 30
	cfg.Grading.FiveMin = 90
	cfg.Grading.FourMin = 70
	cfg.Grading.ThreeMin = 50

	args := scraperArgs(cfg)

	require.Equal(t, []string{
		"-entry-url", "https://mektep.edu.kz/?school=logout&language=rus",
		"-headless=false",
		"-nav-timeout", "90s",
		"-choice-wait", "30s",
		"-grade-five-min", "90",
		"-grade-four-min", "70",
		"-grade-three-min", "50",
	}, args)
}
