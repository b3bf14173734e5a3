package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/clock/system"
	"github.com/aselbek/mektep-reports/internal/collector"
	"github.com/aselbek/mektep-reports/internal/config"
	"github.com/aselbek/mektep-reports/internal/progress"
	"github.com/aselbek/mektep-reports/internal/scrape"
	"github.com/aselbek/mektep-reports/internal/storage/memory"
	"github.com/aselbek/mektep-reports/internal/supervisor"
)

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", fmt.Errorf("no ids left")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

// idleProcess never exits on its own; jobs stay running until cancelled.
type idleProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *idleProcess) PID() int              { return 4242 }
func (p *idleProcess) Done() <-chan struct{} { return p.done }
func (p *idleProcess) ExitCode() int         { return -1 }
func (p *idleProcess) Output() string        { return "" }
func (p *idleProcess) Terminate() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
func (p *idleProcess) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type idleLauncher struct{}

func (idleLauncher) Launch(context.Context, scrape.LaunchSpec) (scrape.Process, error) {
	return &idleProcess{done: make(chan struct{})}, nil
}

type testEnv struct {
	server *Server
	store  *memory.Store
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) testEnv {
	t.Helper()
	store := memory.NewStore(system.Clock{})
	store.PutSchool(scrape.School{ID: 1, Name: "Лицей № 5"})
	coll := collector.New(store, store, system.Clock{}, zap.NewNop())
	sup := supervisor.New(
		supervisor.Config{UploadRoot: t.TempDir(), Tick: 20 * time.Millisecond},
		store, store, coll, idleLauncher{}, system.Clock{}, zap.NewNop(),
	)
	if len(ids) == 0 {
		ids = []string{"job-1"}
	}
	server := NewServer(store, store, sup, &fakeIDGen{ids: ids}, cfg, zap.NewNop())
	return testEnv{server: server, store: store}
}

func waitForStatus(t *testing.T, store *memory.Store, jobID string, want scrape.JobStatus) scrape.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return scrape.Job{}
}

const validSubmitBody = `{"school_id":1,"teacher_id":10,"period":"2","lang":"ru","login":"user","password":"pass"}`

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString(validSubmitBody))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	job := waitForStatus(t, env.store, "job-1", scrape.JobStatusRunning)
	require.Equal(t, int64(1), job.SchoolID)

	// Release the idle child.
	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/cancel", nil)
	cancelRec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)
	waitForStatus(t, env.store, "job-1", scrape.JobStatusCancelled)
}

func TestSubmitJobValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing school", `{"teacher_id":10,"period":"2","login":"u","password":"p"}`, "school_id"},
		{"missing credentials", `{"school_id":1,"teacher_id":10,"period":"2"}`, "login and password"},
		{"bad period", `{"school_id":1,"teacher_id":10,"period":"5","login":"u","password":"p"}`, "period"},
		{"bad lang", `{"school_id":1,"teacher_id":10,"period":"2","lang":"fr","login":"u","password":"p"}`, "lang"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing/", nil)
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProgressMirrorsJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, env.store.CreateJob(ctx, scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru"}))
	total := 3
	require.NoError(t, env.store.UpdateProgress(ctx, "j1", 42, "Обработано отчетов: 1 из 3", &total, 1))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1/progress", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 42, resp.Percent)
	require.Equal(t, 1, resp.ProcessedReports)
	require.NotNil(t, resp.TotalReports)
	require.Equal(t, 3, *resp.TotalReports)
	require.False(t, resp.Finished)
	require.Empty(t, resp.SchoolOptions)
}

func TestGetProgressExposesSchoolOptions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, env.store.CreateJob(ctx, scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru"}))
	msg, err := progress.ChoiceMessage([]string{"Лицей № 5", "Школа № 12"})
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateProgress(ctx, "j1", 7, msg, nil, 0))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1/progress", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"Лицей № 5", "Школа № 12"}, resp.SchoolOptions)
}

func TestSelectSchoolWritesChoice(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, env.store.CreateJob(ctx, scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru"}))
	require.NoError(t, env.store.SetOutputDir(ctx, "j1", dir))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/j1/school-choice", bytes.NewBufferString(`{"index":1}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data, err := os.ReadFile(filepath.Join(dir, "school_choice.txt"))
	require.NoError(t, err)
	require.Equal(t, "1", string(data))
}

func TestSelectSchoolBeforeOutputDir(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.NoError(t, env.store.CreateJob(context.Background(), scrape.Job{ID: "j1", SchoolID: 1, TeacherID: 10, PeriodCode: "2", Lang: "ru"}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/j1/school-choice", bytes.NewBufferString(`{"index":0}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListReports(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	ctx := context.Background()
	_, err := env.store.UpsertReport(ctx, scrape.ReportRecord{
		SchoolID: 1, TeacherID: 10, PeriodCode: "2",
		ClassName: "5 «В»", Subject: "Математика", ExcelPath: "/data/5В.xlsx",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports?teacher_id=10&period=2", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Математика")

	req = httptest.NewRequest(http.MethodGet, "/v1/reports?teacher_id=99&period=2", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reports":[]`)

	req = httptest.NewRequest(http.MethodGet, "/v1/reports?period=2", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	env := newTestEnv(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
