package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fichua-bot/internal/metrics"
	"fichua-bot/internal/models"
	"fichua-bot/internal/notify"
	"fichua-bot/internal/repository"

	"go.uber.org/zap"
)

var (
	// ErrAnalysis wraps model failures
	ErrAnalysis = errors.New("analysis failed")
	// ErrDelivery wraps failures to publish a verdict. The trigger stays unrecorded.
	ErrDelivery = errors.New("delivery failed")
)

// PostFetcher returns recent qualifying posts for a username
type PostFetcher interface {
	Fetch(ctx context.Context, username string, limit int) ([]models.Post, error)
}

// VerdictAnalyzer produces a verdict bounded by maxLength characters
type VerdictAnalyzer interface {
	Analyze(ctx context.Context, username string, posts []models.Post, md models.Metadata, maxLength int) (*models.Verdict, error)
}

// DeliverFunc publishes a verdict and returns a reference to the published
// item (reply ID, share URL). Nil means the caller delivers the verdict itself.
type DeliverFunc func(ctx context.Context, trigger models.Trigger, verdict *models.Verdict) (string, error)

// Result describes how a trigger was handled
type Result struct {
	Status      string
	Reason      string
	Verdict     *models.Verdict
	Posts       []models.Post
	DeliveryRef string
}

// Pipeline is the check, fetch, analyze, deliver, record sequence shared by
// the poller and the webhook
type Pipeline struct {
	ledger     repository.Ledger
	fetcher    PostFetcher
	analyzer   VerdictAnalyzer
	notifier   notify.Notifier
	fetchLimit int
	logger     *zap.Logger
}

// NewPipeline creates a pipeline. A nil notifier disables notifications.
func NewPipeline(
	ledger repository.Ledger,
	fetcher PostFetcher,
	analyzer VerdictAnalyzer,
	notifier notify.Notifier,
	fetchLimit int,
	logger *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pipeline{
		ledger:     ledger,
		fetcher:    fetcher,
		analyzer:   analyzer,
		notifier:   notifier,
		fetchLimit: fetchLimit,
		logger:     logger,
	}
}

// AlreadyProcessed reports whether the trigger has a ledger entry
func (p *Pipeline) AlreadyProcessed(ctx context.Context, triggerID string) (bool, error) {
	return p.ledger.HasProcessed(ctx, triggerID)
}

// Process runs one trigger through the pipeline. A nil error means the
// trigger reached a terminal status (posted, already_processed, no_tweets or
// skipped). Errors wrap ErrAnalysis, ErrDelivery, repository.ErrDuplicateTrigger
// or a ledger failure; the returned Result still carries the status.
func (p *Pipeline) Process(ctx context.Context, trigger models.Trigger, maxLength int, deliver DeliverFunc) (*Result, error) {
	start := time.Now()
	res, err := p.process(ctx, trigger, maxLength, deliver)

	metrics.PipelineDuration.WithLabelValues(string(trigger.Source)).Observe(time.Since(start).Seconds())
	metrics.TriggersTotal.WithLabelValues(string(trigger.Source), res.Status).Inc()

	return res, err
}

func (p *Pipeline) process(ctx context.Context, trigger models.Trigger, maxLength int, deliver DeliverFunc) (*Result, error) {
	log := p.logger.With(
		zap.String("trigger_id", trigger.TriggerID),
		zap.String("target", trigger.TargetUsername),
		zap.String("source", string(trigger.Source)))

	done, err := p.ledger.HasProcessed(ctx, trigger.TriggerID)
	if err != nil {
		return &Result{Status: models.StatusError}, fmt.Errorf("failed to check ledger: %w", err)
	}
	if done {
		log.Debug("Trigger already processed")
		return &Result{Status: models.StatusAlreadyProcessed}, nil
	}

	posts, err := p.fetcher.Fetch(ctx, trigger.TargetUsername, p.fetchLimit)
	if err != nil {
		log.Warn("Failed to fetch posts, treating as no content", zap.Error(err))
		posts = nil
	}
	if len(posts) == 0 {
		log.Info("No qualifying posts")
		return &Result{Status: models.StatusNoTweets}, nil
	}

	verdict, err := p.analyzer.Analyze(ctx, trigger.TargetUsername, posts, trigger.Metadata, maxLength)
	if err != nil {
		log.Error("Analysis failed", zap.Error(err))
		return &Result{Status: models.StatusAnalysisFailed, Posts: posts}, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}

	if verdict.Status == models.VerdictTokenBudgetExceeded {
		log.Info("Skipping trigger over token budget", zap.Int("posts", len(posts)))
		return &Result{Status: models.StatusSkipped, Reason: verdict.Text, Verdict: verdict, Posts: posts}, nil
	}

	res := &Result{Status: models.StatusPosted, Verdict: verdict, Posts: posts}

	if deliver != nil {
		ref, err := deliver(ctx, trigger, verdict)
		if err != nil {
			metrics.DeliveryFailuresTotal.WithLabelValues(string(trigger.Source)).Inc()
			log.Error("Failed to deliver verdict", zap.Error(err))
			p.notify(ctx, fmt.Sprintf("⚠️ Delivery failed for @%s (trigger %s): %v",
				trigger.TargetUsername, trigger.TriggerID, err))
			res.Status = models.StatusDeliveryFailed
			return res, fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		res.DeliveryRef = ref
	}

	snapshot := verdict.Text
	entry := &models.LedgerEntry{
		TriggerID:       trigger.TriggerID,
		TargetUsername:  trigger.TargetUsername,
		ProcessedAt:     time.Now().UTC(),
		PostsSnapshot:   models.StringList(models.PostBodies(posts)),
		VerdictSnapshot: &snapshot,
		Source:          trigger.Source,
	}
	if err := p.ledger.Record(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateTrigger) {
			log.Warn("Trigger recorded concurrently by another request")
			res.Status = models.StatusAlreadyProcessed
			return res, err
		}
		log.Error("Failed to record trigger", zap.Error(err))
		res.Status = models.StatusError
		return res, fmt.Errorf("failed to record trigger: %w", err)
	}

	log.Info("Verdict posted",
		zap.Int("length", verdict.Length),
		zap.Int("attempts", verdict.Attempts),
		zap.String("delivery_ref", res.DeliveryRef))

	p.notify(ctx, fmt.Sprintf("✅ @%s: %s", trigger.TargetUsername, verdict.Text))

	return res, nil
}

func (p *Pipeline) notify(ctx context.Context, text string) {
	if err := p.notifier.Notify(ctx, text); err != nil {
		p.logger.Warn("Notification failed", zap.Error(err))
	}
}
