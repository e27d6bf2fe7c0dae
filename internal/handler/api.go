package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fichua-bot/internal/middleware"
	"fichua-bot/internal/models"
	"fichua-bot/internal/repository"
	"fichua-bot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// Processor runs a trigger through the shared pipeline
type Processor interface {
	Process(ctx context.Context, trigger models.Trigger, maxLength int, deliver service.DeliverFunc) (*service.Result, error)
}

// Publisher turns a verdict into a shareable draft
type Publisher interface {
	Publish(ctx context.Context, content string) (string, error)
}

// Handler handles HTTP requests
type Handler struct {
	processor     Processor
	ledger        repository.Ledger
	publisher     Publisher
	maxLength     int
	webhookSecret []byte
	logger        *zap.Logger
}

// NewHandler creates a new API handler. A nil publisher answers with the
// verdict only.
func NewHandler(
	processor Processor,
	ledger repository.Ledger,
	publisher Publisher,
	maxLength int,
	webhookSecret string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		processor:     processor,
		ledger:        ledger,
		publisher:     publisher,
		maxLength:     maxLength,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhook", middleware.WebhookAuth(h.webhookSecret, h.logger), h.Webhook)

	api := r.Group("/api/v1")
	{
		api.GET("/ledger", h.ListLedger)
		api.GET("/ledger/:id", h.GetLedgerEntry)
	}

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Webhook analyzes the target named in the request, once per tweet ID
func (h *Handler) Webhook(c *gin.Context) {
	var req models.WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.WebhookResponse{
			Status: models.StatusInvalidRequest,
			Error:  err.Error(),
		})
		return
	}

	trigger := models.Trigger{
		TriggerID:      strings.TrimSpace(req.TweetID),
		TargetUsername: strings.TrimPrefix(strings.TrimSpace(req.TargetUsername), "@"),
		Metadata:       req.Metadata(),
		Source:         models.SourceWebhook,
	}
	if trigger.TriggerID == "" || trigger.TargetUsername == "" {
		c.JSON(http.StatusBadRequest, models.WebhookResponse{
			Status: models.StatusInvalidRequest,
			Error:  "tweet_id and target_username must not be blank",
		})
		return
	}

	var deliver service.DeliverFunc
	if h.publisher != nil {
		deliver = func(ctx context.Context, _ models.Trigger, v *models.Verdict) (string, error) {
			return h.publisher.Publish(ctx, v.Text)
		}
	}

	res, err := h.processor.Process(c.Request.Context(), trigger, h.maxLength, deliver)
	if err != nil {
		h.writeError(c, trigger, err)
		return
	}

	switch res.Status {
	case models.StatusAlreadyProcessed:
		c.JSON(http.StatusOK, models.WebhookResponse{Status: res.Status})
	case models.StatusNoTweets:
		c.JSON(http.StatusBadRequest, models.WebhookResponse{Status: res.Status})
	case models.StatusSkipped:
		c.JSON(http.StatusBadRequest, models.WebhookResponse{Status: res.Status, Reason: res.Reason})
	default:
		c.JSON(http.StatusOK, models.WebhookResponse{
			Status:   models.StatusPosted,
			Verdict:  res.Verdict.Text,
			ShareURL: res.DeliveryRef,
		})
	}
}

func (h *Handler) writeError(c *gin.Context, trigger models.Trigger, err error) {
	switch {
	case errors.Is(err, repository.ErrDuplicateTrigger):
		c.JSON(http.StatusConflict, models.WebhookResponse{Status: models.StatusAlreadyProcessed})
	case errors.Is(err, service.ErrAnalysis):
		c.JSON(http.StatusBadGateway, models.WebhookResponse{
			Status: models.StatusAnalysisFailed,
			Error:  err.Error(),
		})
	case errors.Is(err, service.ErrDelivery):
		c.JSON(http.StatusBadGateway, models.WebhookResponse{
			Status: models.StatusDeliveryFailed,
			Error:  err.Error(),
		})
	default:
		h.logger.Error("Webhook processing failed",
			zap.String("trigger_id", trigger.TriggerID),
			zap.String("request_id", c.GetString(middleware.ContextKeyRequestID)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.WebhookResponse{
			Status: models.StatusError,
			Error:  "internal error",
		})
	}
}

// ListLedger returns the newest ledger entries
func (h *Handler) ListLedger(c *gin.Context) {
	limit := defaultLedgerLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLedgerLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit (must be 1-500)"})
			return
		}
		limit = n
	}

	entries, err := h.ledger.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list ledger"})
		return
	}

	total, err := h.ledger.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
	})
}

// GetLedgerEntry returns one ledger entry
func (h *Handler) GetLedgerEntry(c *gin.Context) {
	entry, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get ledger entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fichua-bot",
	})
}
