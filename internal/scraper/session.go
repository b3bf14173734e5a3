package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// session owns one browser instance for the duration of a run.
type session struct {
	ctx         context.Context
	cancelTask  context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration
}

func newSession(parent context.Context, headless bool, navTimeout time.Duration) (*session, error) {
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "ru-RU"),
	)
	if headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	// Starting the browser eagerly surfaces launch failures here instead of
	// at the first navigation.
	if err := chromedp.Run(taskCtx, emulation.SetLocaleOverride().WithLocale("ru-RU")); err != nil {
		cancelTask()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &session{
		ctx:         taskCtx,
		cancelTask:  cancelTask,
		cancelAlloc: cancelAlloc,
		navTimeout:  navTimeout,
	}, nil
}

func (s *session) close() {
	s.cancelTask()
	s.cancelAlloc()
}

// run executes actions under the session's navigation timeout.
func (s *session) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.navTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// runQuick executes actions under a short timeout, for probes that are
// expected to fail fast when an element is absent.
func (s *session) runQuick(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *session) navigate(url string) error {
	return s.run(
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// clickFirst tries each selector in turn and clicks the first one that
// becomes visible.
func (s *session) clickFirst(selectors ...string) error {
	var lastErr error
	for _, sel := range selectors {
		err := s.runQuick(7*time.Second,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("no clickable element among %d candidates: %w", len(selectors), lastErr)
}

func (s *session) outerHTML(sel string) (string, error) {
	var html string
	err := s.run(chromedp.OuterHTML(sel, &html, chromedp.ByQuery))
	return html, err
}

func (s *session) pageHTML() (string, error) {
	return s.outerHTML("html")
}

func (s *session) location() (string, error) {
	var u string
	err := s.runQuick(5*time.Second, chromedp.Location(&u))
	return u, err
}

func (s *session) evaluate(js string, out interface{}) error {
	return s.run(chromedp.Evaluate(js, out))
}

// visible reports whether any of the selectors is visible within wait.
func (s *session) visible(wait time.Duration, selectors ...string) bool {
	for _, sel := range selectors {
		if err := s.runQuick(wait, chromedp.WaitVisible(sel, chromedp.ByQuery)); err == nil {
			return true
		}
	}
	return false
}

func (s *session) sleep(d time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}
