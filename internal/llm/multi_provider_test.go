package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fichua-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	mu     sync.Mutex
	name   string
	errs   []error
	calls  int
	closed bool
}

func (p *stubProvider) Chat(context.Context, []models.ChatMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "reply from " + p.name, nil
}

func (p *stubProvider) Close() error {
	p.closed = true
	return nil
}

func (p *stubProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": p.name, "model": p.name + "-model"}
}

func wrap(providers ...*stubProvider) []*RateLimitedProvider {
	out := make([]*RateLimitedProvider, len(providers))
	for i, p := range providers {
		out[i] = NewRateLimitedProvider(p, 600, zap.NewNop())
	}
	return out
}

var conversation = []models.ChatMessage{
	{Role: models.RoleSystem, Content: "be brief"},
	{Role: models.RoleUser, Content: "hello"},
}

func TestMultiProvider_UsesCurrentProvider(t *testing.T) {
	a, b := &stubProvider{name: "a"}, &stubProvider{name: "b"}
	c := newMultiProviderClient(wrap(a, b), 3, zap.NewNop())

	reply, err := c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "reply from a", reply)
	assert.Zero(t, b.calls)
}

func TestMultiProvider_RateLimitSwitchesImmediately(t *testing.T) {
	a := &stubProvider{name: "a", errs: []error{errors.New("status 429: quota exceeded")}}
	b := &stubProvider{name: "b"}
	c := newMultiProviderClient(wrap(a, b), 3, zap.NewNop())

	reply, err := c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "reply from b", reply)
	assert.Equal(t, 1, c.GetModelInfo()["provider_index"])

	// stays on b afterwards
	reply, err = c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "reply from b", reply)
	assert.Equal(t, 1, a.calls)
}

func TestMultiProvider_SwitchesAfterMaxFailures(t *testing.T) {
	boom := errors.New("connection reset")
	a := &stubProvider{name: "a", errs: []error{boom, boom}}
	b := &stubProvider{name: "b", errs: []error{boom}}
	c := newMultiProviderClient(wrap(a, b), 2, zap.NewNop())

	// a is retried until it reaches the threshold, then rotated out
	_, err := c.Chat(context.Background(), conversation)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 1, c.GetModelInfo()["provider_index"])

	// b fails once, below the threshold, and answers on the retry
	reply, err := c.Chat(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "reply from b", reply)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, 0, c.GetModelInfo()["failure_count"])
}

func TestMultiProvider_AllFail(t *testing.T) {
	a := &stubProvider{name: "a", errs: []error{errors.New("rate limit")}}
	b := &stubProvider{name: "b", errs: []error{errors.New("rate limit")}}
	c := newMultiProviderClient(wrap(a, b), 3, zap.NewNop())

	_, err := c.Chat(context.Background(), conversation)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestMultiProvider_CloseClosesAll(t *testing.T) {
	a, b := &stubProvider{name: "a"}, &stubProvider{name: "b"}
	c := newMultiProviderClient(wrap(a, b), 3, zap.NewNop())

	require.NoError(t, c.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewMultiProviderClient_RequiresProviders(t *testing.T) {
	_, err := NewMultiProviderClient(MultiProviderConfig{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewMultiProviderClient(MultiProviderConfig{
		Providers: []ProviderConfig{{Type: "carrier-pigeon", APIKey: "x"}},
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewProvider_OpenAICompatible(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Type: ProviderOpenAI, APIKey: "k", BaseURL: "http://localhost:1/v1"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openai", p.GetModelInfo()["provider"])
	assert.Equal(t, "gpt-4o", p.GetModelInfo()["model"])
}

func TestRateLimiter_BlocksUntilRefillOrCancel(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(60)
	rl.tokens = 0
	rl.lastRefill = time.Now().Add(-3 * time.Second)

	rl.mu.Lock()
	rl.refill(time.Now())
	tokens := rl.tokens
	rl.mu.Unlock()

	assert.Equal(t, 3, tokens)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("API returned status 429")))
	assert.True(t, isRateLimitError(errors.New("Quota exhausted")))
	assert.True(t, isRateLimitError(errors.New("Rate limit reached")))
	assert.False(t, isRateLimitError(errors.New("bad request")))
	assert.False(t, isRateLimitError(nil))
}
