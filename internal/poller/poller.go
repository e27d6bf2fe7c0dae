// Package poller watches the bot's mentions and answers each one with a
// verdict about the account it names.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"fichua-bot/internal/analyzer"
	"fichua-bot/internal/metrics"
	"fichua-bot/internal/models"
	"fichua-bot/internal/repository"
	"fichua-bot/internal/resolver"
	"fichua-bot/internal/service"
	"fichua-bot/internal/twitter"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the poller's position in its cycle
type State string

const (
	StateAuthenticating State = "authenticating"
	StateSearching      State = "searching"
	StateProcessing     State = "processing"
	StateSleeping       State = "sleeping"
	StateStopped        State = "stopped"
)

// MaxMentionAttempts bounds how many cycles retry a mention whose analysis or
// delivery failed before the poller moves past it
const MaxMentionAttempts = 3

// Platform is the subset of the X API the poller uses
type Platform interface {
	Me(ctx context.Context) (*twitter.User, error)
	SearchMentions(ctx context.Context, query, sinceID string, maxResults int) ([]twitter.Mention, string, error)
	Reply(ctx context.Context, inReplyToID, text string) (string, error)
	LookupUser(ctx context.Context, username string) (*twitter.User, error)
}

// Processor runs triggers through the shared pipeline
type Processor interface {
	AlreadyProcessed(ctx context.Context, triggerID string) (bool, error)
	Process(ctx context.Context, trigger models.Trigger, maxLength int, deliver service.DeliverFunc) (*service.Result, error)
}

// Config controls polling behavior
type Config struct {
	BotUsername       string // overrides the handle reported by the platform
	SearchQuery       string // default "@{bot} -is:retweet"
	MinInterval       time.Duration
	MaxInterval       time.Duration
	MaxResults        int
	AnalysisMaxLength int
	ReplyMaxLength    int
}

// Poller is a long-running mention loop. It is not safe to Run twice concurrently.
type Poller struct {
	platform  Platform
	processor Processor
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	state    State
	botID    string
	botName  string
	sinceID  string
	failures map[string]int
}

// New creates a poller
func New(platform Platform, processor Processor, cfg Config, logger *zap.Logger) *Poller {
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.ReplyMaxLength == 0 {
		cfg.ReplyMaxLength = 279
	}
	if cfg.AnalysisMaxLength == 0 {
		cfg.AnalysisMaxLength = 260
	}
	return &Poller{
		platform:  platform,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		state:     StateAuthenticating,
		failures:  make(map[string]int),
	}
}

// State returns the current state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SinceID returns the newest mention ID the poller has moved past
func (p *Poller) SinceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinceID
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run polls until ctx is cancelled. Errors and panics inside a cycle are
// logged and the loop continues after the usual sleep.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Poller started",
		zap.Duration("min_interval", p.cfg.MinInterval),
		zap.Duration("max_interval", p.cfg.MaxInterval))

	defer func() {
		p.setState(StateStopped)
		p.logger.Info("Poller stopped")
	}()

	for {
		if err := p.safeCycle(ctx); err != nil {
			p.logger.Warn("Poll cycle failed", zap.Error(err))
		}

		if ctx.Err() != nil {
			return nil
		}

		p.setState(StateSleeping)
		delay := p.nextInterval()
		p.logger.Debug("Sleeping until next cycle", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *Poller) nextInterval() time.Duration {
	span := p.cfg.MaxInterval - p.cfg.MinInterval
	if span <= 0 {
		return p.cfg.MinInterval
	}
	return p.cfg.MinInterval + rand.N(span+1)
}

func (p *Poller) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PollCyclesTotal.WithLabelValues("panic").Inc()
			p.logger.Error("Recovered from panic in poll cycle", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()

	err = p.cycle(ctx)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
	} else {
		metrics.PollCyclesTotal.WithLabelValues("ok").Inc()
	}
	return err
}

// cycle runs one authenticate, search and process pass
func (p *Poller) cycle(ctx context.Context) error {
	log := p.logger.With(zap.String("cycle_id", uuid.NewString()))

	p.setState(StateAuthenticating)
	if err := p.authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	p.setState(StateSearching)
	query := p.cfg.SearchQuery
	if query == "" {
		query = fmt.Sprintf("@%s -is:retweet", p.botName)
	}

	sinceID := p.SinceID()
	mentions, newest, err := p.platform.SearchMentions(ctx, query, sinceID, p.cfg.MaxResults)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	log.Info("Mentions fetched", zap.Int("count", len(mentions)), zap.String("since_id", sinceID))

	p.setState(StateProcessing)
	advanceTo := sinceID
	blocked := false
	for _, m := range mentions {
		if ctx.Err() != nil {
			break
		}

		if p.handleMention(ctx, log, m) {
			blocked = true
			continue
		}
		if !blocked {
			advanceTo = m.ID
		}
	}

	// A retryable failure pins since_id just before that mention so the next
	// search returns it again. Already recorded mentions are skipped by the ledger.
	if !blocked && ctx.Err() == nil && newest != "" {
		advanceTo = newest
	}
	p.mu.Lock()
	p.sinceID = advanceTo
	p.mu.Unlock()

	return nil
}

func (p *Poller) authenticate(ctx context.Context) error {
	me, err := p.platform.Me(ctx)
	if err != nil {
		return err
	}

	name := me.Username
	if p.cfg.BotUsername != "" {
		name = strings.TrimPrefix(p.cfg.BotUsername, "@")
	}

	p.mu.Lock()
	if p.botName != name {
		p.logger.Info("Authenticated", zap.String("bot", name), zap.String("bot_id", me.ID))
	}
	p.botID = me.ID
	p.botName = name
	p.mu.Unlock()
	return nil
}

// handleMention processes one mention and reports whether it should be retried
func (p *Poller) handleMention(ctx context.Context, log *zap.Logger, m twitter.Mention) (retry bool) {
	log = log.With(zap.String("mention_id", m.ID), zap.String("author", m.AuthorUsername))

	done, err := p.processor.AlreadyProcessed(ctx, m.ID)
	if err != nil {
		log.Error("Failed to check ledger", zap.Error(err))
		return p.shouldRetry(log, m.ID)
	}
	if done {
		log.Debug("Mention already processed")
		return false
	}

	if m.AuthorID == p.botID || strings.EqualFold(m.AuthorUsername, p.botName) {
		log.Debug("Skipping own post")
		return false
	}

	target, ok := resolver.Resolve(m.Text, p.botName)
	if !ok {
		log.Info("No target in mention", zap.String("text", m.Text))
		return false
	}

	md := models.DefaultMetadata()
	if user, err := p.platform.LookupUser(ctx, target); err != nil {
		log.Warn("User lookup failed, using default metadata", zap.String("target", target), zap.Error(err))
	} else {
		md = user.Metadata()
	}

	trigger := models.Trigger{
		TriggerID:      m.ID,
		Mentioner:      m.AuthorUsername,
		RawText:        m.Text,
		TargetUsername: target,
		Metadata:       md,
		Source:         models.SourcePoller,
	}

	res, err := p.processor.Process(ctx, trigger, p.cfg.AnalysisMaxLength, p.reply)
	switch {
	case err == nil:
		log.Info("Mention handled", zap.String("target", target), zap.String("status", res.Status))
		p.clearFailures(m.ID)
		return false
	case errors.Is(err, repository.ErrDuplicateTrigger):
		return false
	default:
		log.Warn("Mention not completed", zap.String("target", target), zap.Error(err))
		return p.shouldRetry(log, m.ID)
	}
}

func (p *Poller) reply(ctx context.Context, trigger models.Trigger, verdict *models.Verdict) (string, error) {
	text := ComposeReply(trigger.Mentioner, verdict.Text, p.cfg.ReplyMaxLength)
	return p.platform.Reply(ctx, trigger.TriggerID, text)
}

func (p *Poller) shouldRetry(log *zap.Logger, mentionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[mentionID]++
	if p.failures[mentionID] >= MaxMentionAttempts {
		log.Error("Giving up on mention", zap.Int("attempts", p.failures[mentionID]))
		delete(p.failures, mentionID)
		return false
	}
	return true
}

func (p *Poller) clearFailures(mentionID string) {
	p.mu.Lock()
	delete(p.failures, mentionID)
	p.mu.Unlock()
}

// ComposeReply addresses the verdict to the mentioner and enforces the
// platform ceiling of maxLength characters.
func ComposeReply(mentioner, verdict string, maxLength int) string {
	text := verdict
	if mentioner != "" {
		text = "@" + mentioner + " " + verdict
	}
	return analyzer.TruncateWithEllipsis(text, maxLength)
}
