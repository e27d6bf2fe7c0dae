// Package analyzer turns a target's posts into a length-bounded verdict.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"fichua-bot/internal/metrics"
	"fichua-bot/internal/models"

	"go.uber.org/zap"
)

const (
	// TokensPerPost is the rough token cost estimated for one post
	TokensPerPost = 25
	// TokenBudget is the largest estimate that still gets a model call
	TokenBudget = 2000
	// MaxAttempts bounds model calls per analysis
	MaxAttempts = 3

	// TokenBudgetReason is the verdict text used when the budget gate trips
	TokenBudgetReason = "⚠️ Token limit exceeded."

	ellipsis = "…"
)

// ChatClient is the model capability the analyzer needs
type ChatClient interface {
	Chat(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// Analyzer classifies a target's posting behavior
type Analyzer struct {
	client ChatClient
	logger *zap.Logger
}

// New creates an analyzer backed by the given chat client
func New(client ChatClient, logger *zap.Logger) *Analyzer {
	return &Analyzer{client: client, logger: logger}
}

// EstimateTokens is the budget estimate for a set of posts
func EstimateTokens(posts []models.Post) int {
	return len(posts) * TokensPerPost
}

// Analyze returns a verdict no longer than maxLength characters. Over-length
// replies are sent back with a correction, up to MaxAttempts model calls in
// total; after that the last reply is truncated with an ellipsis.
func (a *Analyzer) Analyze(ctx context.Context, username string, posts []models.Post, md models.Metadata, maxLength int) (*models.Verdict, error) {
	if maxLength < 2 {
		return nil, fmt.Errorf("max length must be at least 2, got %d", maxLength)
	}

	if estimate := EstimateTokens(posts); estimate > TokenBudget {
		a.logger.Info("Token budget exceeded, skipping model call",
			zap.String("username", username),
			zap.Int("posts", len(posts)),
			zap.Int("estimate", estimate))
		return models.NewVerdict(TokenBudgetReason, models.VerdictTokenBudgetExceeded, 0), nil
	}

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: SystemInstruction(maxLength)},
		{Role: models.RoleUser, Content: BuildUserPrompt(username, posts, md)},
	}

	var reply string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		raw, err := a.client.Chat(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("model call %d failed: %w", attempt, err)
		}

		reply = strings.TrimSpace(raw)
		length := utf8.RuneCountInString(reply)
		if length <= maxLength {
			metrics.AnalyzerAttempts.Observe(float64(attempt))
			a.logger.Debug("Verdict within length",
				zap.String("username", username),
				zap.Int("attempt", attempt),
				zap.Int("length", length))
			return models.NewVerdict(reply, models.VerdictOK, attempt), nil
		}

		a.logger.Info("Verdict too long",
			zap.String("username", username),
			zap.Int("attempt", attempt),
			zap.Int("length", length),
			zap.Int("max_length", maxLength))

		messages = append(messages,
			models.ChatMessage{Role: models.RoleAssistant, Content: reply},
			models.ChatMessage{Role: models.RoleUser, Content: correction(length, maxLength)},
		)
	}

	metrics.AnalyzerAttempts.Observe(MaxAttempts)
	metrics.VerdictTruncations.Inc()
	return models.NewVerdict(TruncateWithEllipsis(reply, maxLength), models.VerdictOK, MaxAttempts), nil
}

// TruncateWithEllipsis returns s unchanged if it fits in maxLength characters,
// otherwise its first maxLength-1 characters followed by "…".
func TruncateWithEllipsis(s string, maxLength int) string {
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	if maxLength <= 0 {
		return ""
	}
	runes := []rune(s)
	return string(runes[:maxLength-1]) + ellipsis
}
