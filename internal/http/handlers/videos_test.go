package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/middleware"
	"server/internal/orchestrator"
	"server/internal/pipeline"
	"server/internal/quota"
	"server/internal/storage"
	"server/internal/store/memory"
)

const testSecret = "test-secret"

type env struct {
	handler http.Handler
	store   *memory.Store
	files   *storage.FileStore
	worker  *orchestrator.Worker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := memory.New()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	logger := zerolog.Nop()

	orch := orchestrator.New(mem, quota.NewLedger(mem), mem, files, logger)
	worker := orchestrator.NewWorker(mem, mem, files,
		&pipeline.StubSynthesizer{}, &pipeline.StubComposer{}, logger,
		orchestrator.WorkerConfig{MaxAttempts: 1, Backoff: orchestrator.NoBackoff{}})

	app := handlers.NewApp(orch, nil, logger)
	return &env{
		handler: httpapi.NewRouter(app, httpapi.Options{JWTSecret: testSecret}),
		store:   mem,
		files:   files,
		worker:  worker,
	}
}

func token(t *testing.T, sub, plan string) string {
	t.Helper()
	tok, err := middleware.SignJWT(testSecret, middleware.TokenClaims{
		Sub:  sub,
		Plan: plan,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func storyBody(story string) map[string]string {
	return map[string]string{
		"title":      "midnight shift",
		"story_text": story,
	}
}

func TestVideosCreateAccepted(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("A short story about a night shift."))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, float64(2), resp["remaining_quota"])
}

func TestVideosCreateValidation(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("   "))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "bad_request", resp["error"]["kind"])

	rec = e.do(t, http.MethodPost, "/v1/videos", tok, storyBody(strings.Repeat("x", 1001)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "free plan story cap")

	rec = e.do(t, http.MethodPost, "/v1/videos", tok, map[string]string{
		"title": "t", "story_text": "a story", "voice_id": "unknown_voice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideosCreateQuotaExceeded(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "quota_exceeded", resp["error"]["kind"])
}

func TestVideosRequireAuth(t *testing.T) {
	e := newEnv(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/videos"},
		{http.MethodGet, "/v1/videos"},
		{http.MethodGet, "/v1/videos/abc"},
		{http.MethodGet, "/v1/usage"},
	} {
		rec := e.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestVideoDetailAndOwnership(t *testing.T) {
	e := newEnv(t)
	alice := token(t, "alice", "free")
	bob := token(t, "bob", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", alice, storyBody("story"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]any](t, rec)["job_id"].(string)

	rec = e.do(t, http.MethodGet, "/v1/videos/"+jobID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[map[string]any](t, rec)
	assert.Equal(t, "Midnight Shift", detail["title"])
	assert.Equal(t, "queued", detail["status"])

	rec = e.do(t, http.MethodGet, "/v1/videos/"+jobID, bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign jobs read as missing")
}

func TestVideosListPagination(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "pro")

	for i := 0; i < 12; i++ {
		rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/v1/videos?page=2&per_page=10", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}](t, rec)
	assert.Equal(t, 12, resp.Total)
	assert.Len(t, resp.Items, 2)
}

func TestVideoDownloadLifecycle(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]any](t, rec)["job_id"].(string)

	// Not rendered yet.
	rec = e.do(t, http.MethodGet, "/v1/videos/"+jobID+"/download", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	job, err := e.store.ClaimNext(context.Background())
	require.NoError(t, err)
	e.worker.Process(context.Background(), job)

	rec = e.do(t, http.MethodGet, "/v1/videos/"+jobID+"/download", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}

func TestVideoCancelAndDelete(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]any](t, rec)["job_id"].(string)

	rec = e.do(t, http.MethodPost, "/v1/videos/"+jobID+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[map[string]string](t, rec)["status"])

	// Cancelling again conflicts.
	rec = e.do(t, http.MethodPost, "/v1/videos/"+jobID+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodDelete, "/v1/videos/"+jobID, tok, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/videos/"+jobID, tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/v1/usage", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), resp["plan_used"])
	assert.Equal(t, float64(3), resp["plan_limit"])
	assert.Equal(t, float64(2), resp["total_videos"])
}

func TestPublicEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/v1/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalog := decode[map[string][]map[string]any](t, rec)
	assert.Len(t, catalog["voices"], len(domain.Voices))
	assert.Len(t, catalog["backgrounds"], len(domain.Backgrounds))

	rec = e.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Contains(t, stats, "total_jobs")
}

func TestStatsReflectCompletions(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "alice", "free")

	rec := e.do(t, http.MethodPost, "/v1/videos", tok, storyBody("story"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := e.store.ClaimNext(context.Background())
	require.NoError(t, err)
	e.worker.Process(context.Background(), job)

	rec = e.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), stats["total_jobs"])
	assert.Equal(t, float64(1), stats["completed"])
}
