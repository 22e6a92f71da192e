package domain

import (
	"time"
)

// CloneEventType represents the kind of clone lifecycle event.
type CloneEventType string

const (
	CloneEventReady       CloneEventType = "ready"
	CloneEventFailed      CloneEventType = "failed"
	CloneEventTransferred CloneEventType = "transferred"
)

// CloneCacheEntry maps a caller identity to a cloned-voice handle.
// Entries are immutable once created except for reuse bookkeeping;
// at most one non-expired entry exists per caller identity.
type CloneCacheEntry struct {
	ID          string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallerID    string    `json:"caller_id" db:"caller_id" gorm:"column:caller_id;index"`
	VoiceHandle string    `json:"voice_handle" db:"voice_handle" gorm:"column:voice_handle"`
	ReuseCount  int       `json:"reuse_count" db:"reuse_count" gorm:"column:reuse_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at" gorm:"column:expires_at;index"`
	LastUsedAt  time.Time `json:"last_used_at" db:"last_used_at" gorm:"column:last_used_at"`
}

func (CloneCacheEntry) TableName() string {
	return "clone_cache_entries"
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CloneCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CloneEvent is an append-only record of clone lifecycle outcomes,
// used for analytics and debugging. Never mutated or deleted here.
type CloneEvent struct {
	ID          string         `json:"id" db:"id" gorm:"column:id;primaryKey"`
	Type        CloneEventType `json:"type" db:"type" gorm:"column:type"`
	CallID      string         `json:"call_id" db:"call_id" gorm:"column:call_id;index"`
	CallerID    string         `json:"caller_id" db:"caller_id" gorm:"column:caller_id;index"`
	VoiceHandle string         `json:"voice_handle" db:"voice_handle" gorm:"column:voice_handle"`
	DurationMS  int64          `json:"duration_ms" db:"duration_ms" gorm:"column:duration_ms"`
	ErrorDetail string         `json:"error_detail" db:"error_detail" gorm:"column:error_detail"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at" gorm:"column:created_at"`
}

func (CloneEvent) TableName() string {
	return "clone_events"
}

// CallerVoiceProfile links a caller identity to a stored voice sample.
// Profiles are provisioned out of band and read-only to this service.
type CallerVoiceProfile struct {
	ID          string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallerID    string    `json:"caller_id" db:"caller_id" gorm:"column:caller_id;uniqueIndex"`
	SampleRef   string    `json:"sample_ref" db:"sample_ref" gorm:"column:sample_ref"`
	DisplayName string    `json:"display_name" db:"display_name" gorm:"column:display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallerVoiceProfile) TableName() string {
	return "caller_voice_profiles"
}
