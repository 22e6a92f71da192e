package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a call session.
type SessionStatus string

const (
	SessionStatusGreeting    SessionStatus = "greeting"
	SessionStatusCloning     SessionStatus = "cloning"
	SessionStatusTransferred SessionStatus = "transferred"
	SessionStatusFailed      SessionStatus = "failed"
	SessionStatusTimedOut    SessionStatus = "timed_out"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusTransferred || s == SessionStatusFailed || s == SessionStatusTimedOut
}

// CallSession tracks one inbound call from greeting through handoff.
// The call_id comes from the telephony provider and is unique, which makes
// the row double as the idempotency record for retried webhooks.
type CallSession struct {
	ID              string        `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID          string        `json:"call_id" db:"call_id" gorm:"column:call_id;uniqueIndex"`
	CallerID        string        `json:"caller_id" db:"caller_id" gorm:"column:caller_id;index"`
	CalledNumber    string        `json:"called_number" db:"called_number" gorm:"column:called_number"`
	GreetingCallID  string        `json:"greeting_call_id" db:"greeting_call_id" gorm:"column:greeting_call_id"`
	AgentCallID     string        `json:"agent_call_id" db:"agent_call_id" gorm:"column:agent_call_id"`
	Status          SessionStatus `json:"status" db:"status" gorm:"column:status"`
	StartedAt       time.Time     `json:"started_at" db:"started_at" gorm:"column:started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty" db:"ended_at" gorm:"column:ended_at"`
	DurationSeconds int           `json:"duration_seconds" db:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}
