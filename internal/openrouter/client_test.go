package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fichua-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "🟢 Organic", stripThinking("<think>user posts food pics</think>\n🟢 Organic"))
	assert.Equal(t, "🟢 Organic", stripThinking("  🟢 Organic  "))
	assert.Equal(t, "<think>unterminated", stripThinking("<think>unterminated"))
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "FichuaBot", r.Header.Get("X-Title"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<think>hmm</think>🔴 Coordinated"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", MaxRetries: 1}, zap.NewNop())
	require.NoError(t, err)
	c.baseURL = srv.URL

	reply, err := c.Chat(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "🔴 Coordinated", reply)
}

func TestChat_ErrorInOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"upstream overloaded","code":502}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", MaxRetries: 1}, zap.NewNop())
	require.NoError(t, err)
	c.baseURL = srv.URL

	_, err = c.Chat(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}})
	assert.ErrorContains(t, err, "upstream overloaded")
}
