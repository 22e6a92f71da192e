package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/config"
	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/EchoRingAI/voice-handoff-service/internal/provider"
	"github.com/EchoRingAI/voice-handoff-service/internal/task"
	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"go.uber.org/zap"
)

// SessionStore is the call session slice of the state store.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.CallSession) (*domain.CallSession, bool, error)
	GetByCallID(ctx context.Context, callID string) (*domain.CallSession, error)
	SetGreetingCall(ctx context.Context, callID, greetingCallID string) error
	SetAgentCall(ctx context.Context, callID, agentCallID string) error
	UpdateSessionStatus(ctx context.Context, callID string, status domain.SessionStatus, endedAt *time.Time) error
	RecordResult(ctx context.Context, callID string, durationSeconds int, endedAt time.Time) error
	ListActiveByCaller(ctx context.Context, callerID string) ([]*domain.CallSession, error)
}

// EventStore is the append-only clone event slice of the state store.
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.CloneEvent) error
}

// VoiceCache is the slice of the clone cache the orchestrator needs.
type VoiceCache interface {
	GetOrCreate(ctx context.Context, callerID string) (handle string, fromCache bool, err error)
	Entry(ctx context.Context, callerID string) (*domain.CloneCacheEntry, error)
}

// CloneStatus values for the operational status query.
const (
	CloneStatusReady      = "ready"
	CloneStatusCloning    = "cloning"
	CloneStatusNotStarted = "not_started"
)

// CloneStatusResult is the answer to a clone-status query. It never blocks
// on clone progress; it only reflects current cache and session state.
type CloneStatusResult struct {
	Status      string `json:"status"`
	VoiceHandle string `json:"cloned_voice_handle,omitempty"`
}

// Orchestrator coordinates the greeting, the background voice clone and the
// handoff of the live call to the agent. It exclusively owns CallSession
// status transitions.
type Orchestrator struct {
	cfg      *config.HandoffConfig
	sessions SessionStore
	events   EventStore
	cache    VoiceCache
	provider provider.Adapter
	bus      task.Bus
	registry *Registry

	// clock is injectable for tests.
	clock func() time.Time
}

// New creates an orchestrator. bus may be nil, in which case call-ended
// cancellation only reaches tasks on this instance.
func New(cfg *config.HandoffConfig, sessions SessionStore, events EventStore, cache VoiceCache, adapter provider.Adapter, bus task.Bus) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		events:   events,
		cache:    cache,
		provider: adapter,
		bus:      bus,
		registry: NewRegistry(),
		clock:    time.Now,
	}
}

// SetClock overrides the orchestrator clock. Intended for tests.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// ActiveTasks returns the number of in-flight background clone tasks.
func (o *Orchestrator) ActiveTasks() int {
	return o.registry.Count()
}

// TaskDone exposes the registry done channel for a call, or nil.
func (o *Orchestrator) TaskDone(callID string) <-chan struct{} {
	return o.registry.Done(callID)
}

// HandleIncomingCall answers an inbound call event. It creates the session
// (the idempotency record), triggers the greeting synchronously, launches
// the background clone task and returns without awaiting it. Retried
// webhooks for a known call return the existing greeting handle with
// duplicate=true and start nothing.
func (o *Orchestrator) HandleIncomingCall(ctx context.Context, callID, callerID, calledNumber string) (greetingCallID string, duplicate bool, err error) {
	session, created, err := o.sessions.CreateSession(ctx, &domain.CallSession{
		CallID:       callID,
		CallerID:     callerID,
		CalledNumber: calledNumber,
		Status:       domain.SessionStatusGreeting,
		StartedAt:    o.clock(),
	})
	if err != nil {
		return "", false, err
	}
	if !created {
		logger.Base().Info("duplicate incoming-call webhook",
			zap.String("call_id", callID),
			zap.String("caller_id", callerID),
		)
		return session.GreetingCallID, true, nil
	}

	greetingID, err := o.provider.TriggerGreetingCall(ctx, callerID, provider.GreetingConfig{
		AudioRef: o.cfg.GreetingAudioRef,
		Message:  o.cfg.GreetingMessage,
	})
	if err != nil {
		// Nothing is connected, so there is nothing to transition; the
		// whole flow aborts and no background task is started.
		now := o.clock()
		if stErr := o.transition(ctx, callID, domain.SessionStatusFailed, &now); stErr != nil {
			logger.Base().Error("failed to mark session failed after greeting error", zap.String("call_id", callID), zap.Error(stErr))
		}
		return "", false, fmt.Errorf("failed to trigger greeting call: %w", err)
	}

	if err := o.sessions.SetGreetingCall(ctx, callID, greetingID); err != nil {
		logger.Base().Error("failed to store greeting call handle", zap.String("call_id", callID), zap.Error(err))
	}

	// Detached from the request context on purpose: the webhook response
	// must not wait for, or cancel, the clone.
	o.registry.Spawn(context.Background(), callID, func(taskCtx context.Context) {
		o.cloneAndTransition(taskCtx, callerID, callID)
	})

	logger.Base().Info("greeting initiated",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
		zap.String("greeting_call_id", greetingID),
	)
	return greetingID, false, nil
}

// cloneAndTransition runs in the background: resolve or create the cloned
// voice within the clone budget, then hand the live call to the agent, or
// fall back to the default voice. All provider errors terminate here as a
// terminal session state; none escape the task.
func (o *Orchestrator) cloneAndTransition(ctx context.Context, callerID, callID string) {
	if err := o.transition(ctx, callID, domain.SessionStatusCloning, nil); err != nil {
		logger.Base().Error("failed to mark session cloning", zap.String("call_id", callID), zap.Error(err))
	}

	cloneCtx, cancel := context.WithTimeout(ctx, o.cfg.CloneMaxWait)
	defer cancel()

	start := o.clock()
	handle, fromCache, err := o.cache.GetOrCreate(cloneCtx, callerID)
	elapsedMS := o.clock().Sub(start).Milliseconds()

	// Cancellation checkpoint: a call-ended signal cancels ctx (not just
	// the clone budget). Transferring into a disconnected line is worse
	// than abandoning a finished clone, so bail before any trigger.
	if ctx.Err() != nil && !errors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
		o.finishCancelled(callID, callerID, elapsedMS)
		return
	}

	if err != nil {
		o.finishFailedClone(callID, callerID, err, cloneCtx.Err(), elapsedMS)
		return
	}

	logger.Base().Info("clone resolved",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
		zap.String("voice_handle", handle),
		zap.Bool("from_cache", fromCache),
		zap.Int64("duration_ms", elapsedMS),
	)

	o.appendEvent(callID, callerID, domain.CloneEventReady, handle, elapsedMS, "")

	// Second checkpoint before the transfer itself.
	if ctx.Err() != nil {
		o.finishCancelled(callID, callerID, elapsedMS)
		return
	}

	agentCallID, err := o.provider.TriggerAgentCall(ctx, callerID, handle)
	if err != nil {
		// The clone stays cached for reuse on the next call; only this
		// session fails.
		logger.Base().Error("failed to trigger agent call",
			zap.String("call_id", callID),
			zap.String("voice_handle", handle),
			zap.Error(err),
		)
		o.appendEvent(callID, callerID, domain.CloneEventFailed, handle, elapsedMS, fmt.Sprintf("agent trigger: %v", err))
		now := o.clock()
		if stErr := o.transition(context.Background(), callID, domain.SessionStatusFailed, &now); stErr != nil {
			logger.Base().Error("failed to mark session failed", zap.String("call_id", callID), zap.Error(stErr))
		}
		return
	}

	if err := o.sessions.SetAgentCall(context.Background(), callID, agentCallID); err != nil {
		logger.Base().Error("failed to store agent call handle", zap.String("call_id", callID), zap.Error(err))
	}
	o.appendEvent(callID, callerID, domain.CloneEventTransferred, handle, elapsedMS, "")

	now := o.clock()
	if err := o.transition(context.Background(), callID, domain.SessionStatusTransferred, &now); err != nil {
		logger.Base().Error("failed to mark session transferred", zap.String("call_id", callID), zap.Error(err))
	}

	logger.Base().Info("call transferred to cloned voice",
		zap.String("call_id", callID),
		zap.String("agent_call_id", agentCallID),
		zap.Bool("from_cache", fromCache),
	)
}

// finishFailedClone handles clone timeout and provider failure: one fallback
// agent trigger so the caller is never left in silence, then a terminal state.
func (o *Orchestrator) finishFailedClone(callID, callerID string, cloneErr, budgetErr error, elapsedMS int64) {
	timedOut := errors.Is(cloneErr, context.DeadlineExceeded) || errors.Is(budgetErr, context.DeadlineExceeded)

	status := domain.SessionStatusFailed
	if timedOut {
		status = domain.SessionStatusTimedOut
	}

	logger.Base().Error("voice clone failed",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
		zap.Bool("timed_out", timedOut),
		zap.Int64("duration_ms", elapsedMS),
		zap.Error(cloneErr),
	)
	o.appendEvent(callID, callerID, domain.CloneEventFailed, "", elapsedMS, cloneErr.Error())

	// Exactly one fallback trigger, detached from the exhausted clone budget.
	fallbackCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ProviderTimeout*time.Duration(o.cfg.ProviderMaxRetries+1))
	defer cancel()
	agentCallID, err := o.provider.TriggerAgentCall(fallbackCtx, callerID, o.cfg.FallbackVoiceHandle)
	if err != nil {
		logger.Base().Error("fallback agent trigger failed", zap.String("call_id", callID), zap.Error(err))
	} else {
		if stErr := o.sessions.SetAgentCall(context.Background(), callID, agentCallID); stErr != nil {
			logger.Base().Error("failed to store fallback agent call handle", zap.String("call_id", callID), zap.Error(stErr))
		}
		logger.Base().Info("caller connected to fallback voice",
			zap.String("call_id", callID),
			zap.String("agent_call_id", agentCallID),
		)
	}

	now := o.clock()
	if err := o.transition(context.Background(), callID, status, &now); err != nil {
		logger.Base().Error("failed to mark session after clone failure", zap.String("call_id", callID), zap.Error(err))
	}
}

// finishCancelled marks a cancelled session failed without any transfer.
func (o *Orchestrator) finishCancelled(callID, callerID string, elapsedMS int64) {
	logger.Base().Info("clone task cancelled, call already ended",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
	)
	o.appendEvent(callID, callerID, domain.CloneEventFailed, "", elapsedMS, "call ended before clone completed")
	now := o.clock()
	if err := o.transition(context.Background(), callID, domain.SessionStatusFailed, &now); err != nil {
		logger.Base().Error("failed to mark cancelled session failed", zap.String("call_id", callID), zap.Error(err))
	}
}

// HandleCallEnded reacts to an external call-ended signal. The local task,
// if any, is cancelled cooperatively; otherwise the signal is broadcast so
// the owning instance can cancel. Safe to call repeatedly for one call.
func (o *Orchestrator) HandleCallEnded(ctx context.Context, callID, reason string) {
	if o.registry.Cancel(callID) {
		logger.Base().Info("cancelled background clone task",
			zap.String("call_id", callID),
			zap.String("reason", reason),
		)
		return
	}
	if o.bus != nil {
		if err := o.bus.Publish(ctx, task.CallTask{Type: task.TaskTypeCallEnded, CallID: callID, Reason: reason}); err != nil {
			logger.Base().Error("failed to broadcast call-ended task", zap.String("call_id", callID), zap.Error(err))
		}
	}
}

// StartTaskSubscriber wires the bus to the local registry so call-ended
// broadcasts from other instances cancel tasks owned here.
func (o *Orchestrator) StartTaskSubscriber(ctx context.Context) error {
	if o.bus == nil {
		return nil
	}
	return o.bus.Subscribe(ctx, func(t task.CallTask) {
		if t.Type != task.TaskTypeCallEnded {
			return
		}
		if o.registry.Cancel(t.CallID) {
			logger.Base().Info("cancelled clone task from bus", zap.String("call_id", t.CallID))
		}
	})
}

// CallResult is the post-call webhook payload from the agent provider.
type CallResult struct {
	CallID          string `json:"call_id"`
	AgentID         string `json:"agent_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	Transcript      string `json:"transcript,omitempty"`
}

// HandleCallResult records a post-call result. A result arriving while the
// session is still cloning means the caller hung up; the background task is
// cancelled so no agent call is fired into a dead line.
func (o *Orchestrator) HandleCallResult(ctx context.Context, result CallResult) error {
	session, err := o.sessions.GetByCallID(ctx, result.CallID)
	if err != nil {
		return err
	}
	if session == nil {
		logger.Base().Warn("call result for unknown session", zap.String("call_id", result.CallID))
		return nil
	}

	if !session.Status.IsTerminal() {
		o.HandleCallEnded(ctx, result.CallID, "post-call result: "+result.Status)
	}

	if err := o.sessions.RecordResult(ctx, result.CallID, result.DurationSeconds, o.clock()); err != nil {
		return err
	}

	logger.Base().Info("call result recorded",
		zap.String("call_id", result.CallID),
		zap.String("agent_id", result.AgentID),
		zap.String("status", result.Status),
		zap.Int("duration_seconds", result.DurationSeconds),
	)
	return nil
}

// CloneStatus answers the operational status query for a caller without
// ever blocking on clone progress.
func (o *Orchestrator) CloneStatus(ctx context.Context, callerID string) (*CloneStatusResult, error) {
	entry, err := o.cache.Entry(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return &CloneStatusResult{Status: CloneStatusReady, VoiceHandle: entry.VoiceHandle}, nil
	}

	active, err := o.sessions.ListActiveByCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	for _, s := range active {
		if s.Status == domain.SessionStatusCloning {
			return &CloneStatusResult{Status: CloneStatusCloning}, nil
		}
	}
	return &CloneStatusResult{Status: CloneStatusNotStarted}, nil
}

// transition applies a session status change with the terminal-state guard:
// once a session is transferred, failed or timed_out it never moves again.
func (o *Orchestrator) transition(ctx context.Context, callID string, status domain.SessionStatus, endedAt *time.Time) error {
	session, err := o.sessions.GetByCallID(ctx, callID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("no session for call %s", callID)
	}
	if session.Status.IsTerminal() {
		logger.Base().Warn("ignoring transition out of terminal state",
			zap.String("call_id", callID),
			zap.String("current", string(session.Status)),
			zap.String("requested", string(status)),
		)
		return nil
	}
	return o.sessions.UpdateSessionStatus(ctx, callID, status, endedAt)
}

func (o *Orchestrator) appendEvent(callID, callerID string, eventType domain.CloneEventType, handle string, durationMS int64, detail string) {
	event := &domain.CloneEvent{
		Type:        eventType,
		CallID:      callID,
		CallerID:    callerID,
		VoiceHandle: handle,
		DurationMS:  durationMS,
		ErrorDetail: detail,
		CreatedAt:   o.clock(),
	}
	if err := o.events.AppendEvent(context.Background(), event); err != nil {
		logger.Base().Error("failed to append clone event",
			zap.String("call_id", callID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
