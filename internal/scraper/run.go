// Package scraper drives a headless browser through the journal site, from
// an unauthenticated entry page to a directory of generated report
// artifacts. One Runner handles exactly one run; nothing is shared between
// invocations.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/progress"
	"github.com/aselbek/mektep-reports/internal/report"
	"github.com/aselbek/mektep-reports/internal/scrape"
)

const loginPanel = "#collapseThree"

var langs = map[string]struct{ label, query string }{
	"ru": {"Русский", "language=rus"},
	"kk": {"Қазақша", "language=kaz"},
	"en": {"English", "language=eng"},
}

// Options configure one scrape run.
type Options struct {
	EntryURL   string
	Headless   bool
	NavTimeout time.Duration

	Login    string
	Password string

	PeriodCode string // "1".."4"
	Lang       string // ru / kk / en
	Limit      int    // 0 = no limit

	OutputDir   string
	TemplateDir string

	// ExpectedSchool, when set, makes the run verify the organization name
	// itself and bail out before extracting anything.
	ExpectedSchool string

	// SchoolIndex preselects the organization on the multi-school screen;
	// nil requests the choice through the progress channel.
	SchoolIndex *int
	ChoiceWait  time.Duration

	// BatchAll must be set: the runner only knows how to generate every
	// report in the listing. Single-report selection never made it past the
	// interactive desktop tool.
	BatchAll bool

	Grading report.Policy
}

// Runner executes the extraction state machine.
type Runner struct {
	opts   Options
	prog   *progress.Writer
	logger *zap.Logger

	sess *session

	orgName     string
	profileName string
	periodLabel string
}

func NewRunner(opts Options, prog *progress.Writer, logger *zap.Logger) *Runner {
	if opts.ChoiceWait <= 0 {
		opts.ChoiceWait = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, prog: prog, logger: logger}
}

// Run walks the full state machine. The returned error wraps one of the
// scrape sentinels so the caller can map it to an exit code.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.Login == "" || r.opts.Password == "" {
		return fmt.Errorf("%w: credentials not provided", scrape.ErrSetup)
	}
	if PeriodLabel(r.opts.PeriodCode) == "" {
		return fmt.Errorf("%w: unknown period %q", scrape.ErrSetup, r.opts.PeriodCode)
	}
	if _, ok := langs[r.opts.Lang]; !ok {
		return fmt.Errorf("%w: unknown language %q", scrape.ErrSetup, r.opts.Lang)
	}
	if !r.opts.BatchAll {
		return fmt.Errorf("%w: only batch mode is supported", scrape.ErrSetup)
	}
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", scrape.ErrSetup, err)
	}
	r.periodLabel = PeriodLabel(r.opts.PeriodCode)

	r.prog.Update(2, "Запуск браузера", nil, 0)
	sess, err := newSession(ctx, r.opts.Headless, r.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", scrape.ErrSetup, err)
	}
	defer sess.close()
	r.sess = sess
	r.logger.Info("browser started", zap.Bool("headless", r.opts.Headless))

	r.prog.Update(5, "Загрузка страницы входа", nil, 0)
	if err := sess.navigate(r.opts.EntryURL); err != nil {
		return fmt.Errorf("%w: open entry page: %v", scrape.ErrSetup, err)
	}

	if err := r.login(ctx); err != nil {
		return err
	}
	if err := r.captureIdentity(); err != nil {
		return err
	}
	if err := r.selectLanguageAndPeriod(); err != nil {
		return err
	}

	items, err := r.extractListing()
	if err != nil {
		return err
	}

	r.processItems(items)

	r.prog.Publish(progress.Snapshot{
		Percent:          95,
		Message:          "Завершение, закрытие браузера",
		TotalReports:     intPtr(len(items)),
		ProcessedReports: len(items),
		Finished:         true,
	})
	r.logger.Info("run finished", zap.Int("items", len(items)))
	return nil
}

func (r *Runner) login(ctx context.Context) error {
	// The login form sits behind a collapse toggle on the landing page.
	err := r.sess.clickFirst(
		`button[aria-controls="collapseThree"]`,
		`button[href="#collapseThree"]`,
		`button[data-toggle="collapse"][href="#collapseThree"]`,
	)
	if err != nil {
		return fmt.Errorf("%w: login button not found: %v", scrape.ErrSetup, err)
	}
	if !r.sess.visible(15*time.Second, loginPanel+".show", loginPanel) {
		return fmt.Errorf("%w: login form did not open", scrape.ErrSetup)
	}

	r.prog.Update(6, "Авторизация", nil, 0)
	fill := func(sel, value string) error {
		return r.sess.run(
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, value, chromedp.ByQuery),
		)
	}
	if err := fill(loginPanel+` input[name="usr_login"]`, r.opts.Login); err != nil {
		return fmt.Errorf("%w: login field: %v", scrape.ErrSetup, err)
	}
	if err := fill(loginPanel+` input[name="usr_password"]`, r.opts.Password); err != nil {
		return fmt.Errorf("%w: password field: %v", scrape.ErrSetup, err)
	}
	if err := r.sess.clickFirst(
		loginPanel+` form button[type="submit"]`,
		loginPanel+` form input[type="submit"]`,
	); err != nil {
		return fmt.Errorf("%w: submit login form: %v", scrape.ErrAuthRejected, err)
	}
	r.sess.sleep(3 * time.Second)

	if err := r.resolveSchoolChoice(ctx); err != nil {
		return err
	}

	if !r.sess.visible(10*time.Second, "nav .profile p", ".topline .profile") {
		html, _ := r.sess.pageHTML()
		lower := strings.ToLower(html)
		if strings.Contains(lower, "неверн") || strings.Contains(lower, "ошибк") || strings.Contains(html, loginPanel[1:]) {
			return fmt.Errorf("%w: неверный логин или пароль", scrape.ErrAuthRejected)
		}
		r.sess.sleep(2 * time.Second)
		if !r.sess.visible(5*time.Second, "nav .profile p", ".topline .profile") {
			return fmt.Errorf("%w: неверный логин или пароль", scrape.ErrAuthRejected)
		}
	}
	r.logger.Info("authenticated")
	return nil
}

// schoolButtonsJS lists the "enter as teacher" buttons on the role/school
// screen along with the organization label near each button.
const schoolButtonsJS = `(() => {
	const out = [];
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	const buttons = document.querySelectorAll('button[name="account_choice"][value="true"]');
	let pos = 0;
	buttons.forEach((btn, i) => {
		const text = norm(btn.innerText).toLowerCase();
		if (!text.includes('учитель') && !text.includes('мұғалім')) return;
		let school = '';
		const form = btn.closest('form');
		if (form) {
			const small = form.querySelector('p small, small');
			if (small) school = norm(small.innerText);
		}
		if (!school) school = 'Школа ' + (++pos);
		out.push({index: i, school: school});
	});
	return out;
})()`

func (r *Runner) resolveSchoolChoice(ctx context.Context) error {
	r.sess.sleep(2 * time.Second)

	var buttons []struct {
		Index  int    `json:"index"`
		School string `json:"school"`
	}
	if err := r.sess.evaluate(schoolButtonsJS, &buttons); err != nil {
		r.logger.Info("no role selection screen", zap.Error(err))
		return nil
	}

	clickNth := func(i int) error {
		js := fmt.Sprintf(`document.querySelectorAll('button[name="account_choice"][value="true"]')[%d].click()`, i)
		var ignored interface{}
		return r.sess.evaluate(js, &ignored)
	}

	switch {
	case len(buttons) == 0:
		return nil
	case len(buttons) == 1:
		r.logger.Info("single role choice, selecting teacher")
		if err := clickNth(buttons[0].Index); err != nil {
			return fmt.Errorf("%w: select role: %v", scrape.ErrSetup, err)
		}
	default:
		schools := make([]string, len(buttons))
		for i, b := range buttons {
			schools[i] = b.School
		}
		choice := 0
		if idx := r.opts.SchoolIndex; idx != nil && *idx >= 0 && *idx < len(buttons) {
			choice = *idx
			r.logger.Info("using preset school index", zap.Int("index", choice))
		} else {
			msg, err := progress.ChoiceMessage(schools)
			if err != nil {
				return fmt.Errorf("%w: %v", scrape.ErrSetup, err)
			}
			r.prog.Update(5, msg, nil, 0)
			r.sess.sleep(2 * time.Second)
			r.prog.Update(5, "Ожидание выбора школы", nil, 0)
			choice = progress.AwaitChoice(ctx, r.opts.OutputDir, len(buttons), r.opts.ChoiceWait)
			r.logger.Info("school choice resolved", zap.Int("index", choice))
		}
		if err := clickNth(buttons[choice].Index); err != nil {
			return fmt.Errorf("%w: select school: %v", scrape.ErrSetup, err)
		}
	}
	r.sess.sleep(2 * time.Second)
	return nil
}

// captureIdentity reads the organization and profile names. The organization
// is read on the Russian page first: the guard downstream compares names in
// that one language only, regardless of the requested report language.
func (r *Runner) captureIdentity() error {
	if err := r.ensureLanguage("ru"); err != nil {
		r.logger.Warn("switch to russian failed", zap.Error(err))
	}

	orgRU := r.textOf(".topline .orgname strong")
	if orgRU != "" {
		r.writeArtifact("org_name_ru.txt", orgRU)
		r.logger.Info("organization captured", zap.String("org", orgRU))
	} else {
		r.logger.Warn("organization name not found on russian page")
	}

	if expected := r.opts.ExpectedSchool; expected != "" {
		if orgRU == "" {
			r.logger.Warn("organization unknown, self-check skipped")
		} else if !orgNamesEqualish(orgRU, expected) {
			msg := fmt.Sprintf("Организация «%s» не совпадает с «%s»", orgRU, expected)
			r.prog.Update(0, msg, nil, 0)
			return fmt.Errorf("%w: %s", scrape.ErrOrgMismatch, msg)
		}
	}

	r.profileName = r.textOf("nav .profile p")
	if r.profileName != "" {
		r.writeArtifact("profile_name.txt", r.profileName)
	}
	r.orgName = orgRU
	return nil
}

func (r *Runner) selectLanguageAndPeriod() error {
	if err := r.ensureLanguage(r.opts.Lang); err != nil {
		return fmt.Errorf("%w: switch language: %v", scrape.ErrSetup, err)
	}
	if org := r.textOf(".topline .orgname strong"); org != "" {
		r.orgName = org
	}
	if r.orgName != "" {
		r.writeArtifact("org_name.txt", r.orgName)
	}
	r.writeArtifact("period.txt", r.periodLabel)
	return nil
}

func (r *Runner) ensureLanguage(code string) error {
	lang := langs[code]
	var current string
	_ = r.sess.runQuick(7*time.Second,
		chromedp.Text("div.topline .btn-group button.btn.btn-default.dropdown-toggle", &current, chromedp.ByQuery),
	)
	if strings.Contains(current, lang.label) {
		return nil
	}
	err := r.sess.clickFirst("div.topline .btn-group button.btn.btn-default.dropdown-toggle")
	if err == nil {
		err = r.sess.clickFirst(fmt.Sprintf(`div.topline .dropdown-menu a.dropdown-item[href*="%s"]`, lang.query))
	}
	if err != nil {
		// Mobile layout exposes direct links instead of a dropdown.
		err = r.sess.clickFirst(fmt.Sprintf(`div.mobile_lang a[href*="%s"]`, lang.query))
	}
	if err != nil {
		return err
	}
	return r.sess.run(chromedp.WaitReady("body", chromedp.ByQuery))
}

func (r *Runner) extractListing() ([]scrape.Item, error) {
	r.prog.Update(10, "Авторизация завершена, переход к оценкам", nil, 0)
	if err := r.sess.clickFirst(`a.nav-link[href="/office/?action=semester"]`); err != nil {
		if err := r.sess.navigate("https://mektep.edu.kz/office/?action=semester"); err != nil {
			return nil, fmt.Errorf("%w: open grades listing: %v", scrape.ErrSetup, err)
		}
	}
	if err := r.sess.runQuick(15*time.Second, chromedp.WaitVisible("table.table.table-hover", chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("%w: grades table not found", scrape.ErrEmptyListing)
	}

	var rows []ListingRow
	if err := r.sess.evaluate(listingJS, &rows); err != nil {
		return nil, fmt.Errorf("%w: extract listing: %v", scrape.ErrSetup, err)
	}
	loc, _ := r.sess.location()
	items := FilterListing(rows, loc)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: таблица оценок пуста", scrape.ErrEmptyListing)
	}

	if data, err := json.MarshalIndent(items, "", "  "); err == nil {
		r.writeArtifact("grades_table.json", string(data))
	}
	r.logger.Info("listing extracted", zap.Int("items", len(items)))

	if r.opts.Limit > 0 && len(items) > r.opts.Limit {
		items = items[:r.opts.Limit]
		r.logger.Info("limit applied", zap.Int("limit", r.opts.Limit))
	}
	return items, nil
}

// processItems runs the per-item loop. A failure on one item is logged and
// the loop moves on; a single bad page must never abort the batch.
func (r *Runner) processItems(items []scrape.Item) {
	total := len(items)
	r.prog.Update(10, fmt.Sprintf("Начало обработки %d отчетов", total), intPtr(total), 0)
	for i, item := range items {
		if err := r.processOne(item); err != nil {
			r.logger.Error("item failed, continuing",
				zap.String("class", item.Class), zap.String("subject", item.Subject), zap.Error(err))
		}
		done := i + 1
		pct := 10 + int(float64(done)/float64(total)*80)
		if pct > 90 {
			pct = 90
		}
		r.prog.Update(pct, fmt.Sprintf("Обработано отчетов: %d из %d", done, total), intPtr(total), done)

		// Back to the listing for the next item.
		if err := r.sess.clickFirst(`a.nav-link[href="/office/?action=semester"]`); err != nil {
			_ = r.sess.navigate("https://mektep.edu.kz/office/?action=semester")
		}
	}
	r.prog.Update(90, fmt.Sprintf("Обработка завершена: %d отчетов", total), intPtr(total), total)
}

func (r *Runner) processOne(item scrape.Item) error {
	slug := report.Slug(item.Class + " " + item.Subject)
	itemDir := filepath.Join(r.opts.OutputDir, "batch", slug)
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return fmt.Errorf("create item dir: %w", err)
	}
	r.logger.Info("processing item", zap.String("class", item.Class), zap.String("subject", item.Subject))

	if err := r.openDetail(item); err != nil {
		return err
	}
	r.sess.sleep(time.Second)

	if r.hasCriteriaWarning() {
		r.logger.Warn("evaluation data not configured, skipping item",
			zap.String("class", item.Class), zap.String("subject", item.Subject))
		return nil
	}

	tabsHTML, err := r.sess.outerHTML("ul#pills-tab")
	if err != nil {
		return fmt.Errorf("read period tabs: %w", err)
	}
	tabs, err := ParseTabs(tabsHTML)
	if err != nil || len(tabs) == 0 {
		return fmt.Errorf("no period tabs found")
	}
	writeJSON(itemDir, "criteria_tabs.json", tabs)

	tabHref := PickTabForPeriod(r.opts.PeriodCode, tabs)
	if tabHref == "" {
		return fmt.Errorf("no tab for period %s", r.opts.PeriodCode)
	}
	if err := r.selectTab(tabHref); err != nil {
		return fmt.Errorf("select tab %s: %w", tabHref, err)
	}
	r.writeArtifactIn(itemDir, "criteria_selected_tab.txt", tabHref)

	paneHTML, err := r.sess.outerHTML("div.tab-pane" + tabHref)
	if err != nil {
		return fmt.Errorf("read tab pane: %w", err)
	}
	quarter := quarterFromHref(tabHref)
	students, err := ParseStudents(paneHTML, quarter)
	if err != nil {
		return fmt.Errorf("parse students: %w", err)
	}
	if len(students) == 0 {
		r.logger.Warn("no student rows in tab", zap.String("tab", tabHref))
		return nil
	}
	maxPoints, err := ParseMaxPoints(paneHTML)
	if err != nil {
		return fmt.Errorf("parse max points: %w", err)
	}

	writeJSON(itemDir, "criteria_students.json", students)
	writeJSON(itemDir, "criteria_max_points.json", maxPoints)

	loc, _ := r.sess.location()
	ctx := report.Context{
		OrgName:     r.orgName,
		ProfileName: r.profileName,
		Class:       item.Class,
		Subject:     item.Subject,
		PeriodCode:  r.opts.PeriodCode,
		PeriodLabel: r.periodLabel,
		SelectedTab: tabHref,
		CriteriaURL: loc,
	}
	writeJSON(itemDir, "criteria_context.json", ctx)

	reportsDir := filepath.Join(r.opts.OutputDir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	xlsxPath := filepath.Join(reportsDir, slug+".xlsx")
	if err := report.WriteWorkbook(xlsxPath, students, ctx, maxPoints, r.opts.Grading); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	r.logger.Info("workbook written", zap.String("path", xlsxPath))

	tpl, err := report.ResolveWordTemplate(r.opts.TemplateDir, r.opts.Lang)
	if err != nil {
		r.logger.Warn("word template missing, skipping word report", zap.Error(err))
		return nil
	}
	docxPath := filepath.Join(reportsDir, slug+".docx")
	if err := report.WriteWord(tpl, docxPath, ctx); err != nil {
		// Word failure keeps the workbook.
		r.logger.Error("word report failed", zap.Error(err))
		return nil
	}
	r.logger.Info("word report written", zap.String("path", docxPath))
	return nil
}

func (r *Runner) openDetail(item scrape.Item) error {
	sel := fmt.Sprintf(`a[href="%s"]`, item.DetailHref)
	if err := r.sess.clickFirst(sel); err != nil {
		if item.DetailURL == "" {
			return fmt.Errorf("open detail: %w", err)
		}
		if err := r.sess.navigate(item.DetailURL); err != nil {
			return fmt.Errorf("open detail: %w", err)
		}
	}
	return r.sess.run(chromedp.WaitReady("body", chromedp.ByQuery))
}

const warningJS = `(() => {
	for (const el of document.querySelectorAll('div.alert.alert-warning')) {
		if (el.offsetParent !== null && el.innerText.includes('Для начала работы необходимо установить данные оценивания!')) return true;
	}
	return false;
})()`

func (r *Runner) hasCriteriaWarning() bool {
	var found bool
	if err := r.sess.evaluate(warningJS, &found); err != nil {
		return false
	}
	return found
}

func (r *Runner) selectTab(href string) error {
	sel := fmt.Sprintf(`ul#pills-tab a[data-toggle="pill"][href="%s"]`, href)
	if err := r.sess.clickFirst(sel); err != nil {
		return err
	}
	return r.sess.runQuick(15*time.Second,
		chromedp.WaitVisible("div.tab-pane"+href, chromedp.ByQuery),
	)
}

func (r *Runner) textOf(sel string) string {
	var txt string
	if err := r.sess.runQuick(7*time.Second, chromedp.Text(sel, &txt, chromedp.ByQuery)); err != nil {
		return ""
	}
	return normalizeSpace(txt)
}

func (r *Runner) writeArtifact(name, content string) {
	r.writeArtifactIn(r.opts.OutputDir, name, content)
}

func (r *Runner) writeArtifactIn(dir, name, content string) {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		r.logger.Warn("write artifact", zap.String("name", name), zap.Error(err))
	}
}

func writeJSON(dir, name string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func quarterFromHref(href string) int {
	parts := strings.Split(strings.TrimPrefix(href, "#"), "_")
	if len(parts) == 2 {
		if q, err := strconv.Atoi(parts[1]); err == nil {
			return q
		}
	}
	return 0
}

// orgNamesEqualish is the child-side first-line self-check, matching the
// supervisor-side guard comparison.
func orgNamesEqualish(a, b string) bool {
	na := strings.ToLower(normalizeSpace(a))
	nb := strings.ToLower(normalizeSpace(b))
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

func intPtr(v int) *int { return &v }
