package task

import (
	"context"
)

// TaskType defines the type of asynchronous task carried on the bus.
type TaskType string

const (
	TaskTypeCallEnded TaskType = "call_ended" // Cancel a clone-in-progress for a finished call
)

// CallTask is a broadcast task keyed by the telephony call ID. The bus lets
// a call-ended signal reach whichever instance owns the background clone
// task for that call.
type CallTask struct {
	Type   TaskType `json:"type"`
	CallID string   `json:"call_id"`
	Reason string   `json:"reason,omitempty"`
}

// Bus defines the interface for the cross-instance task bus.
type Bus interface {
	Publish(ctx context.Context, task CallTask) error
	Subscribe(ctx context.Context, handler func(CallTask)) error
}
