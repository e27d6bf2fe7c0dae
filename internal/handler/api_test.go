package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fichua-bot/internal/models"
	"fichua-bot/internal/repository"
	"fichua-bot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingFetcher struct {
	mu    sync.Mutex
	posts []models.Post
	calls int
}

func (f *countingFetcher) Fetch(context.Context, string, int) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.posts, nil
}

type fixedAnalyzer struct {
	verdict *models.Verdict
	err     error
	gotMD   models.Metadata
}

func (a *fixedAnalyzer) Analyze(_ context.Context, _ string, _ []models.Post, md models.Metadata, _ int) (*models.Verdict, error) {
	a.gotMD = md
	return a.verdict, a.err
}

type fakePublisher struct {
	url  string
	err  error
	sent []string
}

func (p *fakePublisher) Publish(_ context.Context, content string) (string, error) {
	p.sent = append(p.sent, content)
	return p.url, p.err
}

type testEnv struct {
	router   *gin.Engine
	ledger   *repository.MemoryLedger
	fetcher  *countingFetcher
	analyzer *fixedAnalyzer
}

func newTestEnv(t *testing.T, publisher Publisher, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		ledger:   repository.NewMemoryLedger(),
		fetcher:  &countingFetcher{posts: makePosts(3)},
		analyzer: &fixedAnalyzer{verdict: models.NewVerdict("🟢 Organic, everyday personal posts", models.VerdictOK, 1)},
	}
	pipeline := service.NewPipeline(env.ledger, env.fetcher, env.analyzer, nil, 15, zap.NewNop())
	h := NewHandler(pipeline, env.ledger, publisher, 260, secret, zap.NewNop())

	env.router = gin.New()
	h.RegisterRoutes(env.router)
	return env
}

func makePosts(n int) []models.Post {
	posts := make([]models.Post, n)
	for i := range posts {
		posts[i] = models.Post{Body: "lunch was great today, back to work now"}
	}
	return posts
}

func (e *testEnv) post(t *testing.T, body interface{}, headers ...string) (*httptest.ResponseRecorder, models.WebhookResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp models.WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestWebhook_PostedThenAlreadyProcessed(t *testing.T) {
	env := newTestEnv(t, nil, "")

	w, resp := env.post(t, gin.H{"tweet_id": "T1", "target_username": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPosted, resp.Status)
	assert.Equal(t, "🟢 Organic, everyday personal posts", resp.Verdict)
	assert.Empty(t, resp.ShareURL)
	assert.Equal(t, models.DefaultMetadata(), env.analyzer.gotMD)

	w, resp = env.post(t, gin.H{"tweet_id": "T1", "target_username": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusAlreadyProcessed, resp.Status)
	assert.Equal(t, 1, env.fetcher.calls)

	done, err := env.ledger.HasProcessed(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWebhook_MetadataPassedThrough(t *testing.T) {
	env := newTestEnv(t, nil, "")

	w, _ := env.post(t, gin.H{"tweet_id": "T2", "target_username": "@bob", "joined": "2015-06-01", "followers": 1200})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.Metadata{Joined: "2015-06-01", Followers: 1200}, env.analyzer.gotMD)

	entry, err := env.ledger.Get(context.Background(), "T2")
	require.NoError(t, err)
	assert.Equal(t, "bob", entry.TargetUsername)
}

func TestWebhook_WithTypefully(t *testing.T) {
	pub := &fakePublisher{url: "https://typefully.com/t/xyz"}
	env := newTestEnv(t, pub, "")

	w, resp := env.post(t, gin.H{"tweet_id": "T3", "target_username": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://typefully.com/t/xyz", resp.ShareURL)
	assert.Equal(t, []string{"🟢 Organic, everyday personal posts"}, pub.sent)
}

func TestWebhook_DeliveryFailed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("typefully 500")}
	env := newTestEnv(t, pub, "")

	w, resp := env.post(t, gin.H{"tweet_id": "T4", "target_username": "bob"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, models.StatusDeliveryFailed, resp.Status)

	done, _ := env.ledger.HasProcessed(context.Background(), "T4")
	assert.False(t, done)
}

func TestWebhook_NoTweets(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.fetcher.posts = nil

	w, resp := env.post(t, gin.H{"tweet_id": "T5", "target_username": "ghost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.StatusNoTweets, resp.Status)

	done, _ := env.ledger.HasProcessed(context.Background(), "T5")
	assert.False(t, done)
}

func TestWebhook_TokenBudgetSkipped(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.analyzer.verdict = models.NewVerdict("⚠️ Token limit exceeded.", models.VerdictTokenBudgetExceeded, 0)

	w, resp := env.post(t, gin.H{"tweet_id": "T6", "target_username": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.StatusSkipped, resp.Status)
	assert.Equal(t, "⚠️ Token limit exceeded.", resp.Reason)
}

func TestWebhook_AnalysisFailed(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.analyzer.err = errors.New("all providers failed")

	w, resp := env.post(t, gin.H{"tweet_id": "T7", "target_username": "bob"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, models.StatusAnalysisFailed, resp.Status)
}

func TestWebhook_InvalidRequest(t *testing.T) {
	env := newTestEnv(t, nil, "")

	for _, body := range []gin.H{
		{"target_username": "bob"},
		{"tweet_id": "T8"},
		{"tweet_id": "  ", "target_username": "bob"},
	} {
		w, resp := env.post(t, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
		assert.Equal(t, models.StatusInvalidRequest, resp.Status)
	}
	assert.Zero(t, env.fetcher.calls)
}

func TestWebhook_RequiresTokenWhenSecretSet(t *testing.T) {
	env := newTestEnv(t, nil, "s3cret")

	w, _ := env.post(t, gin.H{"tweet_id": "T9", "target_username": "bob"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, env.fetcher.calls)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "zapier",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	w, resp := env.post(t, gin.H{"tweet_id": "T9", "target_username": "bob"}, "Authorization", "Bearer "+signed)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPosted, resp.Status)
}

func TestLedgerEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.post(t, gin.H{"tweet_id": "L1", "target_username": "bob"})
	env.post(t, gin.H{"tweet_id": "L2", "target_username": "carol"})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Entries []models.LedgerEntry `json:"entries"`
		Total   int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Entries, 1)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/L2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var entry models.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "carol", entry.TargetUsername)
	assert.Equal(t, models.SourceWebhook, entry.Source)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, "")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"fichua-bot"}`, w.Body.String())

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
