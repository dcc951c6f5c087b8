package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/config"
	"github.com/JakeFAU/vacancy-ingest/internal/dispatcher"
	queueMemory "github.com/JakeFAU/vacancy-ingest/internal/queue/memory"
	"github.com/JakeFAU/vacancy-ingest/internal/storage/memory"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
	"github.com/JakeFAU/vacancy-ingest/internal/worker"
)

type testEnv struct {
	runs     *memory.RunStore
	store    *pingStore
	queue    *queueMemory.Queue
	registry *worker.Registry
	scraper  *fakeScraper
	server   *Server
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		runs:     memory.NewRunStore(),
		store:    &pingStore{VacancyStore: memory.NewVacancyStore()},
		queue:    queueMemory.NewQueue(10),
		registry: worker.NewRegistry(),
		scraper:  &fakeScraper{},
	}
	cfg := config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Pipeline: config.PipelineConfig{DefaultRegion: "volgograd", DefaultQuery: "programmist"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	dispatch := dispatcher.New(env.queue, env.registry, nil)
	env.server = NewServer(
		env.runs,
		dispatch,
		env.store,
		env.scraper,
		&fakeIDGen{ids: []string{"run-1", "run-2"}},
		&fakeClock{now: time.Unix(100, 0).UTC()},
		cfg,
		zap.NewNop(),
	)
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/runs", `{"region":"moscow","query":"golang","page_start":0,"page_end":24}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, map[string]string{"run_id": "run-1"}, decode[map[string]string](t, rec))

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, vacancy.QueueItem{
		RunID:     "run-1",
		Request:   vacancy.RunRequest{RunID: "run-1", Region: "moscow", Query: "golang", PageStart: 0, PageEnd: 24},
		Submitted: 100,
	}, item)

	run, err := env.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, vacancy.RunStatusQueued, run.Status)
}

func TestServer_SubmitRun_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing range", `{"region":"moscow"}`, "page_start and page_end required"},
		{"negative start", `{"page_start":-1,"page_end":3}`, "invalid page range"},
		{"reversed", `{"page_start":4,"page_end":3}`, "invalid page range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/v1/runs", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.runs.CreateRun(context.Background(), vacancy.Run{ID: "run-x", Status: vacancy.RunStatusQueued}))
	require.NoError(t, env.runs.UpdateRunStatus(context.Background(), "run-x", vacancy.RunStatusSucceeded, "", vacancy.RunCounters{Vacancies: 7, New: 3}))

	rec := env.do(http.MethodGet, "/v1/runs/run-x", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Run vacancy.Run `json:"run"`
	}](t, rec)
	require.Equal(t, vacancy.RunStatusSucceeded, got.Run.Status)
	require.Equal(t, vacancy.RunCounters{Vacancies: 7, New: 3}, got.Run.Counters)

	rec = env.do(http.MethodGet, "/v1/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetRunResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.runs.CreateRun(ctx, vacancy.Run{ID: "run-r", Status: vacancy.RunStatusSucceeded}))
	require.NoError(t, env.runs.SaveResults(ctx, "run-r", []vacancy.Result{{
		SourceURL:  "https://hh.ru/vacancy/42",
		ExternalID: 42,
		Skills:     []string{"go"},
		Persisted:  vacancy.PersistedVacancy{ID: 1, ExternalID: 42, SkillIDs: []int64{5}},
	}}))

	rec := env.do(http.MethodGet, "/v1/runs/run-r/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[vacancy.RunResult](t, rec)
	require.Equal(t, "run-r", got.Run.ID)
	require.Len(t, got.Results, 1)
	require.Equal(t, []int64{5}, got.Results[0].Persisted.SkillIDs)

	rec = env.do(http.MethodGet, "/v1/runs/missing/result", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelQueuedRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/runs", `{"page_start":0,"page_end":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodPost, "/v1/runs/run-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"canceled"`)

	run, err := env.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, vacancy.RunStatusCanceled, run.Status)

	rec = env.do(http.MethodPost, "/v1/runs/run-1/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/v1/runs/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Scrape(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.scraper.items = []vacancy.RawVacancy{{URL: "https://hh.ru/vacancy/1", ExternalID: 1, Title: "Go developer"}}

	rec := env.do(http.MethodPost, "/v1/scrape", `{"page_start":2,"page_end":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Items []vacancy.RawVacancy `json:"items"`
	}](t, rec)
	require.Equal(t, env.scraper.items, got.Items)
	require.Equal(t, []string{"volgograd/programmist/2-3"}, env.scraper.calls)

	env.scraper.err = errors.New("site down")
	rec = env.do(http.MethodPost, "/v1/scrape", `{"region":"moscow","query":"go","page_start":0,"page_end":0}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "moscow/go/0-0", env.scraper.calls[1])

	rec = env.do(http.MethodPost, "/v1/scrape", `{"page_start":3,"page_end":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Skills(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/skills", `{"items":["go","sql","go"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ids := decode[struct {
		Items []int64 `json:"items"`
	}](t, rec).Items
	require.Len(t, ids, 3)
	require.Equal(t, ids[0], ids[2])

	rec = env.do(http.MethodGet, "/v1/skills/exists?name=go", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"name":"go","exists":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/v1/skills/exists", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/skills/exists", `{"items":["sql","rust"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[true,false]}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/skills/exists", `{"items":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	env.store.setErr(errors.New("db down"))
	require.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.do(http.MethodGet, "/healthz", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	rec := env.do(http.MethodGet, "/v1/runs/anything", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/anything", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/v1/runs/anything?api_key=secret", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code, "probes stay open")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeScraper struct {
	mu    sync.Mutex
	items []vacancy.RawVacancy
	err   error
	calls []string
}

func (s *fakeScraper) ParseRange(_ context.Context, region, query string, start, end int) ([]vacancy.RawVacancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s/%s/%d-%d", region, query, start, end))
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type pingStore struct {
	*memory.VacancyStore
	mu  sync.Mutex
	err error
}

func (s *pingStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *pingStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
