package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CallSessionRepository handles database operations for call sessions.
type CallSessionRepository struct {
	db *gorm.DB
}

// NewCallSessionRepository creates a new call session repository.
func NewCallSessionRepository(db *gorm.DB) *CallSessionRepository {
	return &CallSessionRepository{db: db}
}

// CreateSession inserts a session for the call if none exists yet.
// The unique index on call_id makes this safe against retried webhooks:
// the returned bool is false when a session for the call was already
// present, in which case the existing row is returned untouched.
func (r *CallSessionRepository) CreateSession(ctx context.Context, session *domain.CallSession) (*domain.CallSession, bool, error) {
	if session.CallID == "" {
		return nil, false, fmt.Errorf("call ID cannot be empty")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusGreeting
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoNothing: true,
		}).
		Create(session)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create call session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		existing, err := r.GetByCallID(ctx, session.CallID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("call session for %s vanished after conflict", session.CallID)
		}
		return existing, false, nil
	}

	return session, true, nil
}

// GetByCallID retrieves a call session by the telephony provider call ID.
func (r *CallSessionRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallSession, error) {
	var session domain.CallSession
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return &session, nil
}

// SetGreetingCall records the greeting call handle on the session.
func (r *CallSessionRepository) SetGreetingCall(ctx context.Context, callID, greetingCallID string) error {
	updates := map[string]interface{}{
		"greeting_call_id": greetingCallID,
		"updated_at":       time.Now(),
	}
	if err := r.db.WithContext(ctx).Model(&domain.CallSession{}).Where("call_id = ?", callID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to set greeting call: %w", err)
	}
	return nil
}

// SetAgentCall records the agent call handle on the session.
func (r *CallSessionRepository) SetAgentCall(ctx context.Context, callID, agentCallID string) error {
	updates := map[string]interface{}{
		"agent_call_id": agentCallID,
		"updated_at":    time.Now(),
	}
	if err := r.db.WithContext(ctx).Model(&domain.CallSession{}).Where("call_id = ?", callID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to set agent call: %w", err)
	}
	return nil
}

// UpdateSessionStatus updates the session status, optionally stamping ended_at.
func (r *CallSessionRepository) UpdateSessionStatus(ctx context.Context, callID string, status domain.SessionStatus, endedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if endedAt != nil {
		updates["ended_at"] = *endedAt
	}
	if err := r.db.WithContext(ctx).Model(&domain.CallSession{}).Where("call_id = ?", callID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update call session status: %w", err)
	}
	return nil
}

// RecordResult stores the post-call duration reported by the agent provider.
func (r *CallSessionRepository) RecordResult(ctx context.Context, callID string, durationSeconds int, endedAt time.Time) error {
	updates := map[string]interface{}{
		"duration_seconds": durationSeconds,
		"ended_at":         endedAt,
		"updated_at":       time.Now(),
	}
	if err := r.db.WithContext(ctx).Model(&domain.CallSession{}).Where("call_id = ?", callID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to record call result: %w", err)
	}
	return nil
}

// ListActiveByCaller lists non-terminal sessions for a caller, newest first.
func (r *CallSessionRepository) ListActiveByCaller(ctx context.Context, callerID string) ([]*domain.CallSession, error) {
	var sessions []*domain.CallSession
	if err := r.db.WithContext(ctx).
		Where("caller_id = ? AND status IN ?", callerID, []domain.SessionStatus{domain.SessionStatusGreeting, domain.SessionStatusCloning}).
		Order("started_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list active call sessions: %w", err)
	}
	return sessions, nil
}
