// Package fetcher retrieves a target's recent posts from a Nitter instance.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"fichua-bot/internal/models"

	"go.uber.org/zap"
)

const (
	// DefaultLimit is the number of posts analyzed per target
	DefaultLimit = 15
	// MinPostLength is the trimmed length a post must exceed to count
	MinPostLength = 20
)

var (
	// ErrUpstreamFetch wraps network, status and parse failures
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrInvalidUsername is returned for names that cannot be platform handles
	ErrInvalidUsername = errors.New("invalid username")

	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
)

// Fetcher returns up to limit recent qualifying posts for a username
type Fetcher interface {
	Fetch(ctx context.Context, username string, limit int) ([]models.Post, error)
}

// PageLoader returns the HTML of a page. ErrPageNotFound signals a missing account.
type PageLoader interface {
	Load(ctx context.Context, pageURL string) (string, error)
}

// ErrPageNotFound is returned by loaders for a 404
var ErrPageNotFound = errors.New("page not found")

// NitterFetcher scrapes profile timelines
type NitterFetcher struct {
	baseURL string
	loader  PageLoader
	logger  *zap.Logger
}

// NewNitterFetcher creates a fetcher for the given Nitter instance
func NewNitterFetcher(baseURL string, loader PageLoader, logger *zap.Logger) *NitterFetcher {
	return &NitterFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		loader:  loader,
		logger:  logger,
	}
}

// Fetch loads the profile page and returns the qualifying posts in page order.
// A missing account yields an empty result without error.
func (f *NitterFetcher) Fetch(ctx context.Context, username string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if !handlePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	pageURL := f.baseURL + "/" + url.PathEscape(username)
	page, err := f.loader.Load(ctx, pageURL)
	if errors.Is(err, ErrPageNotFound) {
		f.logger.Info("Profile not found", zap.String("username", username))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}

	bodies, err := ExtractPostBodies(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}

	posts := FilterPosts(bodies, limit)
	f.logger.Debug("Fetched posts",
		zap.String("username", username),
		zap.Int("scraped", len(bodies)),
		zap.Int("qualifying", len(posts)))

	return posts, nil
}

// FilterPosts trims bodies, drops those of MinPostLength characters or fewer,
// keeps the original order and caps the result at limit.
func FilterPosts(bodies []string, limit int) []models.Post {
	posts := make([]models.Post, 0, min(len(bodies), max(limit, 0)))
	for _, body := range bodies {
		if len(posts) >= limit {
			break
		}
		body = strings.TrimSpace(body)
		if utf8.RuneCountInString(body) <= MinPostLength {
			continue
		}
		posts = append(posts, models.Post{Body: body})
	}
	return posts
}
