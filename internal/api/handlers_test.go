package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/metrics"
	"github.com/kdimtricp/modcheck/internal/models"
	"github.com/kdimtricp/modcheck/internal/moderation"
)

// stubAnalyzer answers by object key. Video jobs succeed after
// pollsBeforeDone IN_PROGRESS polls unless hang is set.
type stubAnalyzer struct {
	mu              sync.Mutex
	findings        map[string][]analyzer.Finding
	unavailable     bool
	hang            bool
	pollsBeforeDone int
	polls           map[string]int
}

func (s *stubAnalyzer) DetectSync(ctx context.Context, key string) ([]analyzer.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, fmt.Errorf("connection reset: %w", analyzer.ErrUnavailable)
	}
	return s.findings[key], nil
}

func (s *stubAnalyzer) StartAsync(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return "", fmt.Errorf("connection reset: %w", analyzer.ErrUnavailable)
	}
	return key, nil
}

func (s *stubAnalyzer) PollAsync(ctx context.Context, jobID string) (*analyzer.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polls == nil {
		s.polls = make(map[string]int)
	}
	s.polls[jobID]++
	if s.hang || s.polls[jobID] <= s.pollsBeforeDone {
		return &analyzer.PollResult{Status: analyzer.JobInProgress}, nil
	}
	return &analyzer.PollResult{Status: analyzer.JobSucceeded, Findings: s.findings[jobID]}, nil
}

type testServer struct {
	handler  http.Handler
	analyzer *stubAnalyzer
	repo     *database.RecordRepository
	registry *prometheus.Registry
}

func setupTestServer(t *testing.T, a *stubAnalyzer, config moderation.Config) *testServer {
	t.Helper()

	db, err := database.NewDB(database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRecordRepository(db)
	registry := prometheus.NewRegistry()
	m, err := metrics.NewModerationMetrics(registry)
	require.NoError(t, err)

	orch, err := moderation.New(a, repo, config, moderation.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	app := &App{Moderator: orch, Records: repo}
	handler := NewRouter(app, RouterConfig{
		CORSOrigins: []string{"http://localhost:5173"},
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	return &testServer{handler: handler, analyzer: a, repo: repo, registry: registry}
}

var fastConfig = moderation.Config{PollInterval: 5 * time.Millisecond, PollBudget: 2 * time.Second}

func (ts *testServer) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type recordEnvelope struct {
	Message string                  `json:"message"`
	Data    models.ModerationRecord `json:"data"`
}

type listEnvelope struct {
	Message string                    `json:"message"`
	Data    []models.ModerationRecord `json:"data"`
}

type errorEnvelope struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func moderateBody(user, key string) string {
	b, _ := json.Marshal(map[string]string{"userId": user, "fileKey": key})
	return string(b)
}

func TestPingHandler(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)
	rec := ts.do(t, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestModerateHandler_Image(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{findings: map[string][]analyzer.Finding{
		"bad.jpg": {{Label: "Violence", Confidence: 91}},
	}}, fastConfig)

	rec := ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "cat.jpg"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
		rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "OPTIONS,POST,GET", rec.Header().Get("Access-Control-Allow-Methods"))

	body := decode[recordEnvelope](t, rec)
	assert.Equal(t, "Success", body.Message)
	assert.Equal(t, "cat.jpg", body.Data.ObjectID)
	assert.Equal(t, models.NoJobID, body.Data.JobID)
	assert.Equal(t, "u1", body.Data.OwnerID)
	assert.Equal(t, models.StatusPassed, body.Data.Status)
	assert.Empty(t, body.Data.Findings)
	assert.Empty(t, body.Data.Offsets)
	assert.False(t, body.Data.SubmittedAt.IsZero())

	rec = ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "bad.jpg"))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[recordEnvelope](t, rec)
	assert.Equal(t, models.StatusFailed, body.Data.Status)
	assert.Equal(t, []string{"Violence"}, body.Data.Findings)
}

func TestModerateHandler_Video(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{
		pollsBeforeDone: 2,
		findings: map[string][]analyzer.Finding{
			"clip.mp4": {{Label: "Weapons", OffsetMillis: 2500}, {Label: "Violence", OffsetMillis: 4000}},
		},
	}, fastConfig)

	rec := ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "clip.mp4"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[recordEnvelope](t, rec)
	assert.Equal(t, "Success", body.Message)
	assert.Equal(t, "clip.mp4", body.Data.JobID)
	assert.Equal(t, models.StatusFailed, body.Data.Status)
	assert.Equal(t, []string{"Weapons", "Violence"}, body.Data.Findings)
	assert.Equal(t, []int64{2500, 4000}, body.Data.Offsets)
}

func TestModerateHandler_BudgetExceeded(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{hang: true}, moderation.Config{
		PollInterval: 5 * time.Millisecond,
		PollBudget:   25 * time.Millisecond,
	})

	rec := ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "long.mov"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[recordEnvelope](t, rec)
	assert.Equal(t, "Job still in progress", body.Message)
	assert.Equal(t, models.StatusInProgress, body.Data.Status)
}

func TestModerateHandler_NoWait(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{pollsBeforeDone: 3}, moderation.Config{
		PollInterval: 20 * time.Millisecond,
		PollBudget:   2 * time.Second,
	})

	rec := ts.do(t, http.MethodPost, "/moderate?wait=false", moderateBody("u1", "clip.mp4"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[recordEnvelope](t, rec)
	assert.Equal(t, "Accepted", body.Message)
	assert.Equal(t, models.StatusInProgress, body.Data.Status)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/records/clip.mp4", "")
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[recordEnvelope](t, rec).Data.Status == models.StatusPassed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestModerateHandler_Failures(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *stubAnalyzer
		target   string
		body     string
		kind     string
	}{
		{"malformed json", &stubAnalyzer{}, "/moderate", "{", "InvalidInput"},
		{"missing user", &stubAnalyzer{}, "/moderate", moderateBody("", "cat.jpg"), "InvalidInput"},
		{"missing key", &stubAnalyzer{}, "/moderate", moderateBody("u1", ""), "InvalidInput"},
		{"bad wait flag", &stubAnalyzer{}, "/moderate?wait=maybe", moderateBody("u1", "cat.jpg"), "InvalidInput"},
		{"analyzer down", &stubAnalyzer{unavailable: true}, "/moderate", moderateBody("u1", "cat.jpg"), "AnalyzerUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, tt.analyzer, fastConfig)
			rec := ts.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			body := decode[errorEnvelope](t, rec)
			assert.Equal(t, "Internal Server Error", body.Message)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)

			_, err := ts.repo.Get(context.Background(), "cat.jpg")
			assert.ErrorIs(t, err, models.ErrRecordNotFound)
		})
	}
}

func TestModerateHandler_Duplicate(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)

	rec := ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "cat.jpg"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/moderate", moderateBody("u2", "cat.jpg"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "DuplicateObject", decode[errorEnvelope](t, rec).Kind)
}

func TestGetRecordHandler(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)

	rec := ts.do(t, http.MethodGet, "/records/missing.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decode[errorEnvelope](t, rec).Kind)

	rec = ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "uploads/2025/cat.jpg"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/records/uploads/2025/cat.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "uploads/2025/cat.jpg", decode[recordEnvelope](t, rec).Data.ObjectID)
}

func TestListRecordsHandler(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := models.NewInProgressRecord(fmt.Sprintf("clip-%d.mp4", i), "job", "u1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, ts.repo.Create(ctx, r))
	}
	require.NoError(t, ts.repo.Create(ctx, models.NewInProgressRecord("other.mp4", "job", "u2", base)))

	rec := ts.do(t, http.MethodGet, "/users/u1/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listEnvelope](t, rec)
	require.Len(t, list.Data, 3)
	assert.Equal(t, "clip-2.mp4", list.Data[0].ObjectID)
	assert.Equal(t, "clip-0.mp4", list.Data[2].ObjectID)

	rec = ts.do(t, http.MethodGet, "/users/u1/records?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listEnvelope](t, rec).Data, 1)

	rec = ts.do(t, http.MethodGet, "/users/nobody/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(string(mustField(t, rec.Body.Bytes(), "data"))))

	for _, bad := range []string{"0", "-1", "abc", "1000"} {
		rec = ts.do(t, http.MethodGet, "/users/u1/records?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestCORS(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)

	req := httptest.NewRequest(http.MethodOptions, "/moderate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_BrowserPost(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)

	req := httptest.NewRequest(http.MethodPost, "/moderate", strings.NewReader(moderateBody("u1", "cat.jpg")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
		rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "OPTIONS,POST,GET", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodPost, "/moderate", strings.NewReader(moderateBody("u1", "")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "OPTIONS,POST,GET", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, &stubAnalyzer{}, fastConfig)

	rec := ts.do(t, http.MethodPost, "/moderate", moderateBody("u1", "cat.jpg"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `moderation_verdicts_total{media="image",status="passed"} 1`)
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &m))
	return m[field]
}
