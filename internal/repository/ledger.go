package repository

import (
	"context"
	"errors"

	"fichua-bot/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrDuplicateTrigger is returned by Record when the trigger ID is already in
	// the ledger. The stored entry is left untouched.
	ErrDuplicateTrigger = errors.New("trigger already recorded")

	// ErrNotFound is returned by Get for an unknown trigger ID
	ErrNotFound = errors.New("ledger entry not found")
)

// Ledger is the durable record of handled triggers. Implementations are safe
// for concurrent use; Record is an atomic check-and-insert.
type Ledger interface {
	HasProcessed(ctx context.Context, triggerID string) (bool, error)
	Record(ctx context.Context, entry *models.LedgerEntry) error
	Get(ctx context.Context, triggerID string) (*models.LedgerEntry, error)
	List(ctx context.Context, limit int) ([]*models.LedgerEntry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewLedger builds the ledger backend named by dbType: "sqlite", "postgres" or "memory"
func NewLedger(dbType, dsn string, logger *zap.Logger) (Ledger, error) {
	if dbType == "memory" {
		logger.Warn("Using in-memory ledger, processed triggers will not survive a restart")
		return NewMemoryLedger(), nil
	}
	return NewSQLLedger(dbType, dsn, logger)
}
