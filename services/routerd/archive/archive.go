package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lpvault/core/events"
)

// ErrDSNRequired is returned when no database is configured.
var ErrDSNRequired = errors.New("archive: dsn must be configured")

// Receipt is one committed router event.
type Receipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index"`
	Market     string    `gorm:"index"`
	Borrower   string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Decode returns the stored attribute map.
func (r Receipt) Decode() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, fmt.Errorf("archive: decode attributes: %w", err)
	}
	return out, nil
}

// AutoMigrate performs the schema migrations for the archive.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Receipt{})
}

// Archive persists committed router events and serves them back by borrower.
// It satisfies events.Emitter so it can be attached to the ledger directly.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	clock  func() time.Time
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql:// use
// the postgres driver; anything else is handed to sqlite.
func Open(dsn string) (*Archive, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database handle.
func New(db *gorm.DB) *Archive {
	return &Archive{
		db:     db,
		logger: slog.Default().With("component", "archive"),
		clock:  time.Now,
	}
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores evt when it is a router event. Other events are ignored.
func (a *Archive) Record(ctx context.Context, evt events.Event) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("archive not configured")
	}
	if evt == nil || !strings.HasPrefix(evt.EventType(), "router.") {
		return nil
	}
	rendered := events.Render(evt)
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("archive: encode attributes: %w", err)
	}
	receipt := Receipt{
		ID:         uuid.New(),
		Type:       rendered.Type,
		Market:     rendered.Attributes["market"],
		Borrower:   rendered.Attributes["borrower"],
		Attributes: string(attrs),
		CreatedAt:  a.clock().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&receipt).Error; err != nil {
		return fmt.Errorf("archive: insert receipt: %w", err)
	}
	return nil
}

// Emit implements events.Emitter. Failures are logged; the ledger has already
// committed by the time events are emitted.
func (a *Archive) Emit(evt events.Event) {
	if err := a.Record(context.Background(), evt); err != nil {
		a.logger.Error("archive receipt dropped", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// ByBorrower returns the newest receipts of borrower first. A positive limit
// bounds the result.
func (a *Archive) ByBorrower(ctx context.Context, borrower string, limit int) ([]Receipt, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("archive not configured")
	}
	query := a.db.WithContext(ctx).
		Where("borrower = ?", strings.TrimSpace(borrower)).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []Receipt
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: query receipts: %w", err)
	}
	return out, nil
}
