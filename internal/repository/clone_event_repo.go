package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CloneEventRepository handles the append-only clone event log.
type CloneEventRepository struct {
	db *gorm.DB
}

// NewCloneEventRepository creates a new clone event repository.
func NewCloneEventRepository(db *gorm.DB) *CloneEventRepository {
	return &CloneEventRepository{db: db}
}

// AppendEvent writes a clone event. Events are write-once; there is no
// update or delete path here by design of the event log.
func (r *CloneEventRepository) AppendEvent(ctx context.Context, event *domain.CloneEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append clone event: %w", err)
	}
	return nil
}

// ListEventsForCaller retrieves all clone events for a caller, oldest first.
func (r *CloneEventRepository) ListEventsForCaller(ctx context.Context, callerID string) ([]*domain.CloneEvent, error) {
	var events []*domain.CloneEvent
	if err := r.db.WithContext(ctx).
		Where("caller_id = ?", callerID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list clone events: %w", err)
	}
	return events, nil
}

// ListEventsForCall retrieves all clone events for a call, oldest first.
func (r *CloneEventRepository) ListEventsForCall(ctx context.Context, callID string) ([]*domain.CloneEvent, error) {
	var events []*domain.CloneEvent
	if err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list clone events: %w", err)
	}
	return events, nil
}
