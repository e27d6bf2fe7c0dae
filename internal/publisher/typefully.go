// Package publisher submits verdicts to Typefully as shareable drafts.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the Typefully client
type Config struct {
	APIKey  string
	BaseURL string // Default: "https://api.typefully.com"
}

// Typefully creates drafts through the Typefully API
type Typefully struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type draftRequest struct {
	Content   string `json:"content"`
	Threadify bool   `json:"threadify"`
	Share     bool   `json:"share"`
}

type draftResponse struct {
	ID       interface{} `json:"id"`
	ShareURL string      `json:"share_url"`
}

// NewTypefully creates a new Typefully client
func NewTypefully(cfg Config, logger *zap.Logger) (*Typefully, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("typefully API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.typefully.com"
	}

	return &Typefully{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Publish creates a shared draft with the given content and returns its share URL
func (t *Typefully) Publish(ctx context.Context, content string) (string, error) {
	jsonData, err := json.Marshal(draftRequest{Content: content, Threadify: true, Share: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/drafts/", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("typefully request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("typefully returned status %d: %s", resp.StatusCode, string(body))
	}

	var draft draftResponse
	if err := json.Unmarshal(body, &draft); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	t.logger.Info("Typefully draft created",
		zap.Any("draft_id", draft.ID),
		zap.String("share_url", draft.ShareURL))

	return draft.ShareURL, nil
}
