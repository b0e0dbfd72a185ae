// Package cache puts a read-through cache in front of a record store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kdimtricp/modcheck/internal/models"
)

// Backend is a byte-oriented key/value cache.
type Backend interface {
	// Get reports found=false with a nil error on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Store is the record store being cached.
type Store interface {
	Create(ctx context.Context, record *models.ModerationRecord) error
	UpdateFields(ctx context.Context, objectID string, update models.RecordUpdate) error
	Get(ctx context.Context, objectID string) (*models.ModerationRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ModerationRecord, error)
}

type Config struct {
	// TerminalTTL applies to passed, failed and ERRORED records, which no
	// longer change.
	TerminalTTL time.Duration
	// InProgressTTL bounds how stale an IN_PROGRESS record served by another
	// instance can be.
	InProgressTTL time.Duration
	KeyPrefix     string
}

func DefaultConfig() Config {
	return Config{
		TerminalTTL:   time.Hour,
		InProgressTTL: 2 * time.Second,
		KeyPrefix:     "modcheck:record:",
	}
}

// RecordCache serves Get from the backend and invalidates on every write.
// Backend failures are logged and fall through to the store.
type RecordCache struct {
	store   Store
	backend Backend
	config  Config
	logger  *slog.Logger
}

func NewRecordCache(store Store, backend Backend, config Config, logger *slog.Logger) *RecordCache {
	defaults := DefaultConfig()
	if config.TerminalTTL <= 0 {
		config.TerminalTTL = defaults.TerminalTTL
	}
	if config.InProgressTTL <= 0 {
		config.InProgressTTL = defaults.InProgressTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordCache{
		store:   store,
		backend: backend,
		config:  config,
		logger:  logger.With("component", "record_cache"),
	}
}

// cachedRecord keeps UpdatedAt, which the record's JSON form omits.
type cachedRecord struct {
	models.ModerationRecord
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *RecordCache) key(objectID string) string {
	return c.config.KeyPrefix + objectID
}

func (c *RecordCache) ttl(status models.Status) time.Duration {
	if status.Terminal() {
		return c.config.TerminalTTL
	}
	return c.config.InProgressTTL
}

func (c *RecordCache) Create(ctx context.Context, record *models.ModerationRecord) error {
	if err := c.store.Create(ctx, record); err != nil {
		return err
	}
	c.invalidate(ctx, record.ObjectID)
	return nil
}

func (c *RecordCache) UpdateFields(ctx context.Context, objectID string, update models.RecordUpdate) error {
	err := c.store.UpdateFields(ctx, objectID, update)
	// Invalidate even on error: the write may have landed.
	c.invalidate(ctx, objectID)
	return err
}

func (c *RecordCache) Get(ctx context.Context, objectID string) (*models.ModerationRecord, error) {
	key := c.key(objectID)

	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	} else if found {
		var cached cachedRecord
		if err := json.Unmarshal(data, &cached); err == nil {
			record := cached.ModerationRecord
			record.UpdatedAt = cached.UpdatedAt
			record.Normalize()
			return &record, nil
		}
		c.logger.Warn("dropping undecodable cache entry", "key", key)
		c.invalidate(ctx, objectID)
	}

	record, err := c.store.Get(ctx, objectID)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(cachedRecord{ModerationRecord: *record, UpdatedAt: record.UpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", objectID, err)
	}
	if err := c.backend.Set(ctx, key, data, c.ttl(record.Status)); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return record, nil
}

// ListByOwner is not cached.
func (c *RecordCache) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ModerationRecord, error) {
	return c.store.ListByOwner(ctx, ownerID, limit)
}

func (c *RecordCache) Close() error {
	return c.backend.Close()
}

func (c *RecordCache) invalidate(ctx context.Context, objectID string) {
	if err := c.backend.Delete(ctx, c.key(objectID)); err != nil {
		c.logger.Warn("cache invalidation failed", "object", objectID, "error", err)
	}
}
