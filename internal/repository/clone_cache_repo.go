package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CloneCacheRepository persists clone cache entries. The business rules
// (per-caller locking, TTL policy) live in the cache layer; this type only
// provides durable storage.
type CloneCacheRepository struct {
	db *gorm.DB
}

// NewCloneCacheRepository creates a new clone cache entry repository.
func NewCloneCacheRepository(db *gorm.DB) *CloneCacheRepository {
	return &CloneCacheRepository{db: db}
}

// GetActive retrieves the non-expired entry for a caller, or nil.
// Expiry is checked at read time so a concurrent sweep is never required
// for correctness.
func (r *CloneCacheRepository) GetActive(ctx context.Context, callerID string, now time.Time) (*domain.CloneCacheEntry, error) {
	var entry domain.CloneCacheEntry
	if err := r.db.WithContext(ctx).
		Where("caller_id = ? AND expires_at > ?", callerID, now).
		Order("created_at DESC").
		First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get clone cache entry: %w", err)
	}
	return &entry, nil
}

// Insert persists a new cache entry.
func (r *CloneCacheRepository) Insert(ctx context.Context, entry *domain.CloneCacheEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert clone cache entry: %w", err)
	}
	return nil
}

// Touch increments the reuse count and refreshes last_used_at.
func (r *CloneCacheRepository) Touch(ctx context.Context, id string, now time.Time) error {
	updates := map[string]interface{}{
		"reuse_count":  gorm.Expr("reuse_count + 1"),
		"last_used_at": now,
	}
	if err := r.db.WithContext(ctx).Model(&domain.CloneCacheEntry{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to touch clone cache entry: %w", err)
	}
	return nil
}

// MarkExpired immediately expires all entries for a caller (explicit cache bust).
func (r *CloneCacheRepository) MarkExpired(ctx context.Context, callerID string, now time.Time) error {
	if err := r.db.WithContext(ctx).Model(&domain.CloneCacheEntry{}).
		Where("caller_id = ? AND expires_at > ?", callerID, now).
		Update("expires_at", now).Error; err != nil {
		return fmt.Errorf("failed to expire clone cache entries: %w", err)
	}
	return nil
}

// DeleteExpired removes entries past their TTL and returns how many went.
func (r *CloneCacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.CloneCacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired clone cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
