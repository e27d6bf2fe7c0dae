// Package twitter is a small X API v2 client covering what the bot needs:
// identity, mention search, replies and user lookups.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fichua-bot/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned for 401/403 responses
	ErrUnauthorized = errors.New("twitter: unauthorized")
	// ErrRateLimited is returned for 429 responses
	ErrRateLimited = errors.New("twitter: rate limited")
	// ErrUserNotFound is returned when a username lookup has no result
	ErrUserNotFound = errors.New("twitter: user not found")
)

const (
	minSearchResults = 10
	maxSearchResults = 100
)

// Config holds configuration for the X API client
type Config struct {
	BaseURL     string // Default: "https://api.twitter.com"
	BearerToken string // app-only token for search and lookups
	UserToken   string // user-context token for /users/me and posting
}

// Client is an X API v2 client
type Client struct {
	baseURL     string
	bearerToken string
	userToken   string
	httpClient  *http.Client
	logger      *zap.Logger
}

// User is the subset of user fields the bot reads
type User struct {
	ID        string
	Username  string
	Name      string
	CreatedAt time.Time
	Followers int
}

// Metadata converts the account details to analysis metadata
func (u *User) Metadata() models.Metadata {
	md := models.DefaultMetadata()
	if !u.CreatedAt.IsZero() {
		md.Joined = u.CreatedAt.Format("2006-01-02")
	}
	md.Followers = u.Followers
	return md
}

// Mention is a post that mentions the bot
type Mention struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	Text           string
}

type apiUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics *struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics,omitempty"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type userResponse struct {
	Data   *apiUser   `json:"data"`
	Errors []apiError `json:"errors"`
}

type searchResponse struct {
	Data []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type replyRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

type replyResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// NewClient creates a new X API client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BearerToken == "" && cfg.UserToken == "" {
		return nil, fmt.Errorf("twitter bearer or user token is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitter.com"
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		userToken:   cfg.UserToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}, nil
}

// appToken is used for read endpoints; the user token works there too
func (c *Client) appToken() string {
	if c.bearerToken != "" {
		return c.bearerToken
	}
	return c.userToken
}

// Me returns the account the user token belongs to
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/2/users/me", nil, c.userToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get authenticated user: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("empty /users/me response")
	}
	return resp.Data.toUser(), nil
}

// SearchMentions returns posts matching query newer than sinceID, oldest
// first, together with the newest ID seen (empty when there were no results).
func (c *Client) SearchMentions(ctx context.Context, query, sinceID string, maxResults int) ([]Mention, string, error) {
	if maxResults < minSearchResults {
		maxResults = minSearchResults
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("expansions", "author_id")
	params.Set("tweet.fields", "author_id,created_at")
	params.Set("user.fields", "username")
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, "/2/tweets/search/recent", params, c.appToken(), nil, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to search mentions: %w", err)
	}

	usernames := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		usernames[u.ID] = u.Username
	}

	// The API answers newest first
	mentions := make([]Mention, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		t := resp.Data[i]
		mentions = append(mentions, Mention{
			ID:             t.ID,
			AuthorID:       t.AuthorID,
			AuthorUsername: usernames[t.AuthorID],
			Text:           t.Text,
		})
	}

	c.logger.Debug("Mention search finished",
		zap.Int("results", len(mentions)),
		zap.String("since_id", sinceID),
		zap.String("newest_id", resp.Meta.NewestID))

	return mentions, resp.Meta.NewestID, nil
}

// Reply posts text as a reply to the given post and returns the new post ID
func (c *Client) Reply(ctx context.Context, inReplyToID, text string) (string, error) {
	var body replyRequest
	body.Text = text
	body.Reply.InReplyToTweetID = inReplyToID

	var resp replyResponse
	if err := c.do(ctx, http.MethodPost, "/2/tweets", nil, c.userToken, body, &resp); err != nil {
		return "", fmt.Errorf("failed to post reply to %s: %w", inReplyToID, err)
	}
	return resp.Data.ID, nil
}

// LookupUser fetches account details for a username
func (c *Client) LookupUser(ctx context.Context, username string) (*User, error) {
	params := url.Values{}
	params.Set("user.fields", "created_at,public_metrics")

	var resp userResponse
	path := "/2/users/by/username/" + url.PathEscape(username)
	if err := c.do(ctx, http.MethodGet, path, params, c.appToken(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to look up @%s: %w", username, err)
	}
	if resp.Data == nil {
		return nil, ErrUserNotFound
	}
	return resp.Data.toUser(), nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, token string, in, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, string(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: reset at %s", ErrRateLimited, resp.Header.Get("x-rate-limit-reset"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (u *apiUser) toUser() *User {
	user := &User{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
	}
	if u.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
			user.CreatedAt = t
		}
	}
	if u.PublicMetrics != nil {
		user.Followers = u.PublicMetrics.FollowersCount
	}
	return user
}
