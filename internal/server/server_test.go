package server

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/golden-record/internal/config"
	"github.com/jonathan/golden-record/internal/logger"
	"github.com/jonathan/golden-record/internal/pipeline"
	"github.com/jonathan/golden-record/internal/samples"
	"github.com/jonathan/golden-record/internal/store"
	"github.com/jonathan/golden-record/internal/types"
)

type fakeDrainer struct {
	mu       sync.Mutex
	started  int
	draining bool
	st       *store.Store
}

func (f *fakeDrainer) Start(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining || f.st.Len() == 0 {
		return false
	}
	f.started++
	f.draining = true
	return true
}

func (f *fakeDrainer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draining
}

type fakeRetrier struct {
	RetryAsyncFunc func(ctx context.Context, id string) error
	calls          []string
}

func (f *fakeRetrier) RetryAsync(ctx context.Context, id string) error {
	f.calls = append(f.calls, id)
	if f.RetryAsyncFunc != nil {
		return f.RetryAsyncFunc(ctx, id)
	}
	return nil
}

type testServer struct {
	*Server
	st      *store.Store
	drainer *fakeDrainer
	retrier *fakeRetrier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.New(types.ModeBoth)
	drainer := &fakeDrainer{st: st}
	retrier := &fakeRetrier{}
	s := New(context.Background(), Deps{
		Store:     st,
		Scheduler: drainer,
		Retrier:   retrier,
		Samples:   samples.NewGenerator(1),
		Logger:    logger.NewTestLogger(t),
		Server:    config.ServerConfig{Port: 0, AllowedOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{Enabled: false},
	})
	t.Cleanup(s.Close)
	return &testServer{Server: s, st: st, drainer: drainer, retrier: retrier}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func item(id, name string) types.WorkItem {
	return types.WorkItem{
		ID:           id,
		SourceRecord: types.SourceRecord{CustomerID: "C-" + id, Name: name},
		Transcript:   "hello",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "workbench_")
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.st.Enqueue(item("a", "Ada"), item("b", "Bob"))
	_, ok := s.st.Dequeue()
	require.True(t, ok)

	w := s.do(t, http.MethodGet, "/state", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.ModeBoth, resp.Mode)
	assert.False(t, resp.Draining)
	require.Len(t, resp.Queue, 1)
	assert.Equal(t, "b", resp.Queue[0].ID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "a", resp.History[0].ID)
}

func TestModeEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/mode", `{"mode":"deep_only"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ModeDeepOnly, s.st.Mode())

	w = s.do(t, http.MethodGet, "/mode", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"deep_only"}`, w.Body.String())

	w = s.do(t, http.MethodPut, "/mode", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ModeDeepOnly, s.st.Mode())

	w = s.do(t, http.MethodPut, "/mode", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueManualItem(t *testing.T) {
	s := newTestServer(t)

	body := `{"source_record":{"customer_id":"C-1","name":"Ada","email":"ada@example.com"},"transcript":"please update my email"}`
	w := s.do(t, http.MethodPost, "/queue", body)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Added)
	require.Len(t, resp.Items, 1)
	assert.NotEmpty(t, resp.Items[0].ID)

	queue := s.st.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, resp.Items[0].ID, queue[0].ID)
}

func TestEnqueueManualItem_Invalid(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing transcript", `{"source_record":{"customer_id":"C-1","name":"Ada"}}`},
		{"missing name", `{"source_record":{"customer_id":"C-1"},"transcript":"hi"}`},
		{"bad email", `{"source_record":{"customer_id":"C-1","name":"Ada","email":"nope"},"transcript":"hi"}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/queue", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, s.st.Len())
		})
	}
}

func TestEnqueueSamples(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/queue/samples?count=3", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 3, s.st.Len())

	w = s.do(t, http.MethodPost, "/queue/samples", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 4, s.st.Len())

	for _, count := range []string{"0", "51", "abc"} {
		w = s.do(t, http.MethodPost, "/queue/samples?count="+count, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, count)
	}
	assert.Equal(t, 4, s.st.Len())
}

func TestClearQueueAndHistory(t *testing.T) {
	s := newTestServer(t)
	s.st.Enqueue(item("a", "Ada"), item("b", "Bob"))
	s.st.Dequeue()

	w := s.do(t, http.MethodDelete, "/queue", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, s.st.Len())
	assert.Len(t, s.st.History(), 1)

	w = s.do(t, http.MethodDelete, "/history", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, s.st.History())
}

func TestStartDrain(t *testing.T) {
	s := newTestServer(t)

	// Empty queue: no-op
	w := s.do(t, http.MethodPost, "/drain/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp DrainResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Started)

	s.st.Enqueue(item("a", "Ada"))
	w = s.do(t, http.MethodPost, "/drain/start", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
	assert.True(t, resp.Draining)

	// Already draining: no-op
	w = s.do(t, http.MethodPost, "/drain/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Started)
	assert.Equal(t, 1, s.drainer.started)
}

func TestRetryEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/records/rec-1/retry", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"rec-1"}, s.retrier.calls)

	s.retrier.RetryAsyncFunc = func(_ context.Context, _ string) error { return store.ErrRecordNotFound }
	w = s.do(t, http.MethodPost, "/records/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.retrier.RetryAsyncFunc = func(_ context.Context, _ string) error { return pipeline.ErrInFlight }
	w = s.do(t, http.MethodPost, "/records/busy/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetRecord(t *testing.T) {
	s := newTestServer(t)
	s.st.Enqueue(item("a", "Ada"))
	s.st.Dequeue()

	w := s.do(t, http.MethodGet, "/records/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec types.ResolutionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "a", rec.ID)

	w = s.do(t, http.MethodGet, "/records/zzz", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExport(t *testing.T) {
	s := newTestServer(t)

	// Empty history: nothing produced
	w := s.do(t, http.MethodGet, "/export.json", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	s.st.Enqueue(item("a", "Ada"), item("b", "Bob"))
	s.st.Dequeue()
	s.st.Dequeue()
	s.st.UpdatePath("a", types.PathFast, 1, func(m *types.ModelResolution) {
		m.State = types.StateCompleted
		m.Result = &types.ResultProfile{Name: "Ada L.", Sentiment: types.SentimentPositive, Intent: "upgrade", Confidence: 0.9, Tier: "gold"}
	})

	w = s.do(t, http.MethodGet, "/export.csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "golden-records.csv")
	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "Ada L.", "positive", "upgrade", "0.9", "gold"}, rows[1])
	assert.Equal(t, []string{"b", "Bob", "", "", "", ""}, rows[2])

	w = s.do(t, http.MethodGet, "/export.json?id=b", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []types.ResolutionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)

	w = s.do(t, http.MethodGet, "/export.csv?id=missing", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodOptions, "/queue", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	s := New(context.Background(), Deps{
		Store:     store.New(types.ModeBoth),
		Scheduler: &fakeDrainer{st: store.New(types.ModeBoth)},
		Retrier:   &fakeRetrier{},
		Server:    config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	})
	defer s.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	st := store.New(types.ModeBoth)
	s := New(context.Background(), Deps{
		Store:     st,
		Scheduler: &fakeDrainer{st: st},
		Retrier:   &fakeRetrier{},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 600, Burst: 60},
	})
	defer s.Close()

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/drain/start", nil)
		req.RemoteAddr = "10.1.1.1:5555"
		last = httptest.NewRecorder()
		s.Handler().ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, "30", last.Header().Get("X-RateLimit-Limit"))

	// Health stays reachable
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "ready", name)

	s.st.Enqueue(item("a", "Ada"))
	name, data := readEvent()
	assert.Equal(t, "change", name)
	assert.JSONEq(t, `{"kind":"queue"}`, data)

	s.st.Dequeue()
	s.st.SetSummary("a", "short summary")

	// queue + history events from the dequeue, then the record update
	var change ChangeEvent
	for change.Kind != store.EventRecordUpdated {
		name, data = readEvent()
		require.Equal(t, "change", name)
		require.NoError(t, json.Unmarshal([]byte(data), &change))
	}
	require.NotNil(t, change.Record)
	require.NotNil(t, change.Record.Summary)
	assert.Equal(t, "short summary", *change.Record.Summary)
}
