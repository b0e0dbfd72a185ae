package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kdimtricp/modcheck/internal/models"
)

// DefaultListLimit matches the record UI's "recent uploads" view.
const DefaultListLimit = 10

type RecordRepository struct {
	db  *DB
	now func() time.Time
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db, now: time.Now}
}

func (r *RecordRepository) Create(ctx context.Context, record *models.ModerationRecord) error {
	record.Normalize()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = r.now().UTC()
	}

	result := r.db.GORM().WithContext(ctx).Create(record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to insert record %s: %w", record.ObjectID, models.ErrRecordExists)
		}
		return fmt.Errorf("failed to insert record %s: %w", record.ObjectID, storeError(result.Error))
	}
	return nil
}

// UpdateFields writes the terminal fields of a record that is still
// IN_PROGRESS. Identity columns are never touched.
func (r *RecordRepository) UpdateFields(ctx context.Context, objectID string, update models.RecordUpdate) error {
	values := &models.ModerationRecord{}
	update.Apply(values, r.now())

	result := r.db.GORM().WithContext(ctx).
		Model(&models.ModerationRecord{}).
		Where("object_id = ? AND status = ?", objectID, models.StatusInProgress).
		Select("Status", "Findings", "Offsets", "Error", "UpdatedAt").
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update record %s: %w", objectID, storeError(result.Error))
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, objectID); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return fmt.Errorf("failed to update record %s: %w", objectID, models.ErrStatusFinal)
}

func (r *RecordRepository) Get(ctx context.Context, objectID string) (*models.ModerationRecord, error) {
	var record models.ModerationRecord
	result := r.db.GORM().WithContext(ctx).First(&record, "object_id = ?", objectID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("record %s: %w", objectID, models.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get record %s: %w", objectID, storeError(result.Error))
	}
	record.Normalize()
	return &record, nil
}

// ListByOwner returns the owner's most recent records first.
func (r *RecordRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ModerationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var records []models.ModerationRecord
	result := r.db.GORM().WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list records: %w", storeError(result.Error))
	}
	for i := range records {
		records[i].Normalize()
	}
	return records, nil
}

func storeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(models.ErrStoreUnavailable, err)
}
