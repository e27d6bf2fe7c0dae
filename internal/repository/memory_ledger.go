package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fichua-bot/internal/models"
)

// MemoryLedger is a mutex-guarded in-process ledger. Entries do not survive a
// restart.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]models.LedgerEntry
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]models.LedgerEntry)}
}

func (l *MemoryLedger) HasProcessed(_ context.Context, triggerID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[triggerID]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, entry *models.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[entry.TriggerID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, entry.TriggerID)
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	l.entries[entry.TriggerID] = cloneEntry(entry)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, triggerID string) (*models.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[triggerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(&entry), nil
}

func (l *MemoryLedger) List(_ context.Context, limit int) ([]*models.LedgerEntry, error) {
	l.mu.RLock()
	entries := make([]*models.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, cloneEntry(&e))
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProcessedAt.After(entries[j].ProcessedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *MemoryLedger) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

func cloneEntry(e *models.LedgerEntry) *models.LedgerEntry {
	c := *e
	if e.PostsSnapshot != nil {
		c.PostsSnapshot = append(models.StringList(nil), e.PostsSnapshot...)
	}
	if e.VerdictSnapshot != nil {
		v := *e.VerdictSnapshot
		c.VerdictSnapshot = &v
	}
	return &c
}
