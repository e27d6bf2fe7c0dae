package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"fichua-bot/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations
var migrationsFS embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLLedger stores ledger entries in SQLite or PostgreSQL through a single
// shared handle.
type SQLLedger struct {
	db      *sqlx.DB
	dialect string
	logger  *zap.Logger
}

// NewSQLLedger opens the database, applies migrations and returns the ledger
func NewSQLLedger(dialect, dsn string, logger *zap.Logger) (*SQLLedger, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}

	db, err := sqlx.Connect(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One connection serializes writers and keeps in-process state on a
		// single handle to the file.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	}

	if err := runMigrations(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Ledger initialized", zap.String("dialect", dialect))

	return newSQLLedger(db, dialect, logger), nil
}

func newSQLLedger(db *sqlx.DB, dialect string, logger *zap.Logger) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, logger: logger}
}

func runMigrations(db *sqlx.DB, dialect string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("couldn't load embedded migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	return nil
}

// HasProcessed reports whether the trigger is already in the ledger
func (l *SQLLedger) HasProcessed(ctx context.Context, triggerID string) (bool, error) {
	var exists int
	query := l.db.Rebind(`SELECT COUNT(1) FROM processed_triggers WHERE trigger_id = ?`)
	if err := l.db.GetContext(ctx, &exists, query, triggerID); err != nil {
		return false, fmt.Errorf("failed to check trigger: %w", err)
	}
	return exists > 0, nil
}

// Record inserts the entry. An existing row with the same trigger ID is never
// overwritten; the conflict is reported as ErrDuplicateTrigger.
func (l *SQLLedger) Record(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO processed_triggers (
			trigger_id, target_username, processed_at, posts_snapshot, verdict_snapshot, source
		) VALUES (:trigger_id, :target_username, :processed_at, :posts_snapshot, :verdict_snapshot, :source)
		ON CONFLICT (trigger_id) DO NOTHING
	`

	result, err := l.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("failed to record trigger: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		l.logger.Warn("Duplicate ledger insert rejected", zap.String("trigger_id", entry.TriggerID))
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, entry.TriggerID)
	}

	return nil
}

const selectEntry = `
	SELECT trigger_id, target_username, processed_at, posts_snapshot, verdict_snapshot, source
	FROM processed_triggers
`

// Get returns the entry for a trigger ID
func (l *SQLLedger) Get(ctx context.Context, triggerID string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	query := l.db.Rebind(selectEntry + ` WHERE trigger_id = ?`)
	err := l.db.GetContext(ctx, entry, query, triggerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// List returns up to limit entries, newest first
func (l *SQLLedger) List(ctx context.Context, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []*models.LedgerEntry
	query := l.db.Rebind(selectEntry + ` ORDER BY processed_at DESC LIMIT ?`)
	if err := l.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of recorded triggers
func (l *SQLLedger) Count(ctx context.Context) (int, error) {
	var total int
	if err := l.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM processed_triggers`); err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return total, nil
}

// Close closes the database connection
func (l *SQLLedger) Close() error {
	return l.db.Close()
}
