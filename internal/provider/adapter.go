package provider

import (
	"context"
	"fmt"
)

// GreetingConfig carries what the greeting call should play while the
// caller waits for the clone.
type GreetingConfig struct {
	AudioRef string `json:"audio_ref,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Adapter is the boundary to the external voice-clone/telephony-agent API.
// Every call is bounded by the client timeout and retried on transient
// failures only; 4xx-equivalent rejections surface immediately.
type Adapter interface {
	// CreateClone builds a cloned voice from a stored sample and returns
	// the opaque voice handle. This is the slow call (seconds to tens of
	// seconds on the provider side).
	CreateClone(ctx context.Context, sampleRef, displayName string) (string, error)

	// TriggerGreetingCall answers the inbound call with the prerecorded
	// greeting and returns the greeting call handle. Short and bounded.
	TriggerGreetingCall(ctx context.Context, callerID string, cfg GreetingConfig) (string, error)

	// TriggerAgentCall hands the live session to the conversational agent
	// speaking with the given voice handle and returns the agent call handle.
	TriggerAgentCall(ctx context.Context, callerID, voiceHandle string) (string, error)
}

// APIError is a non-2xx response from the provider API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: status=%d, message=%s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying cannot help (client-side rejection).
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
