package repository

import (
	"context"
	"fmt"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"gorm.io/gorm"
)

// VoiceProfileRepository reads caller voice profiles. Profiles are
// provisioned by an out-of-band process, so this repository is read-only.
type VoiceProfileRepository struct {
	db *gorm.DB
}

// NewVoiceProfileRepository creates a new voice profile repository.
func NewVoiceProfileRepository(db *gorm.DB) *VoiceProfileRepository {
	return &VoiceProfileRepository{db: db}
}

// GetByCallerID retrieves the active profile for a caller identity, or nil.
func (r *VoiceProfileRepository) GetByCallerID(ctx context.Context, callerID string) (*domain.CallerVoiceProfile, error) {
	var profile domain.CallerVoiceProfile
	if err := r.db.WithContext(ctx).Where("caller_id = ?", callerID).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get caller voice profile: %w", err)
	}
	return &profile, nil
}

// Exists checks whether a voice profile exists for a caller identity.
func (r *VoiceProfileRepository) Exists(ctx context.Context, callerID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CallerVoiceProfile{}).Where("caller_id = ?", callerID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check caller voice profile existence: %w", err)
	}
	return count > 0, nil
}
