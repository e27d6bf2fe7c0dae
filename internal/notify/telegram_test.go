package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type botServer struct {
	mu    sync.Mutex
	sent  []string
	chats []string
}

func (s *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"ops","username":"fichua_ops_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		s.mu.Lock()
		s.sent = append(s.sent, r.FormValue("text"))
		s.chats = append(s.chats, r.FormValue("chat_id"))
		s.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":99,"type":"private"},"text":"ok"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestTelegramNotify(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	n, err := NewTelegramWithEndpoint("token", srv.URL+"/bot%s/%s", 99, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "Posted verdict for @bob"))

	bs.mu.Lock()
	defer bs.mu.Unlock()
	assert.Equal(t, []string{"Posted verdict for @bob"}, bs.sent)
	assert.Equal(t, []string{"99"}, bs.chats)
}

func TestTelegramNotify_CancelledContext(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	n, err := NewTelegramWithEndpoint("token", srv.URL+"/bot%s/%s", 99, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, "dropped"), context.Canceled)
	assert.Empty(t, bs.sent)
}

func TestNewTelegram_Validation(t *testing.T) {
	_, err := NewTelegram("", 1, zap.NewNop())
	assert.Error(t, err)

	_, err = NewTelegram("token", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), "anything"))
}
