package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/cache"
	"github.com/EchoRingAI/voice-handoff-service/internal/config"
	"github.com/EchoRingAI/voice-handoff-service/internal/orchestrator"
	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes caps webhook payload size before signature checking.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler handles HTTP requests for telephony provider webhooks.
type WebhookHandler struct {
	orch      *orchestrator.Orchestrator
	validator *SignatureValidator
	cfg       *config.HandoffConfig
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(orch *orchestrator.Orchestrator, validator *SignatureValidator, cfg *config.HandoffConfig) *WebhookHandler {
	return &WebhookHandler{
		orch:      orch,
		validator: validator,
		cfg:       cfg,
	}
}

// IncomingCallPayload is the inbound call notification from the telephony
// provider.
type IncomingCallPayload struct {
	CallID       string `json:"call_id"`
	CallerID     string `json:"caller_id"`
	CalledNumber string `json:"called_number"`
}

// HandleIncomingCall processes POST /webhook/incoming-call. It verifies the
// signature against the raw body, kicks off the greeting and the background
// clone, and returns immediately; clone progress never delays the response.
func (h *WebhookHandler) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerifiedBody(w, r)
	if !ok {
		return
	}

	var payload IncomingCallPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.CallID == "" || payload.CallerID == "" {
		writeJSONError(w, http.StatusBadRequest, "call_id and caller_id are required")
		return
	}

	greetingCallID, duplicate, err := h.orch.HandleIncomingCall(r.Context(), payload.CallID, payload.CallerID, payload.CalledNumber)
	if err != nil {
		logger.Base().Error("failed to handle incoming call",
			zap.String("call_id", payload.CallID),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "failed to initiate greeting")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "greeting_initiated",
		"call_id":          payload.CallID,
		"greeting_call_id": greetingCallID,
		"duplicate":        duplicate,
	})
}

// HandleCallEnded processes POST /webhook/call-ended: the provider reports
// the caller hung up, so any clone still in flight for the call is cancelled.
func (h *WebhookHandler) HandleCallEnded(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerifiedBody(w, r)
	if !ok {
		return
	}

	var payload struct {
		CallID string `json:"call_id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.CallID == "" {
		writeJSONError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	h.orch.HandleCallEnded(r.Context(), payload.CallID, payload.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// HandleCallResult processes POST /webhook/call-result, the post-call report
// from the agent provider.
func (h *WebhookHandler) HandleCallResult(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerifiedBody(w, r)
	if !ok {
		return
	}

	var result orchestrator.CallResult
	if err := json.Unmarshal(body, &result); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if result.CallID == "" {
		writeJSONError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	if err := h.orch.HandleCallResult(r.Context(), result); err != nil {
		logger.Base().Error("failed to record call result",
			zap.String("call_id", result.CallID),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "failed to record call result")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// HandleCloneStatus processes GET /clone-status/{callerID}.
func (h *WebhookHandler) HandleCloneStatus(w http.ResponseWriter, r *http.Request) {
	callerID := mux.Vars(r)["callerID"]
	if strings.TrimSpace(callerID) == "" {
		writeJSONError(w, http.StatusBadRequest, "caller id is required")
		return
	}

	status, err := h.orch.CloneStatus(r.Context(), callerID)
	if err != nil {
		logger.Base().Error("failed to query clone status",
			zap.String("caller_id", callerID),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "failed to query clone status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// readVerifiedBody reads the raw body and checks the webhook signature.
// On failure the response has already been written and ok is false.
func (h *WebhookHandler) readVerifiedBody(w http.ResponseWriter, r *http.Request) (body []byte, ok bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	if err := h.validator.Verify(r.Header.Get(h.cfg.SignatureHeader), body); err != nil {
		logger.Base().Warn("webhook signature rejected",
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		msg := "invalid signature"
		if errors.Is(err, ErrSignatureMissing) {
			msg = "missing signature"
		} else if errors.Is(err, ErrTimestampStale) {
			msg = "signature timestamp outside tolerance"
		}
		writeJSONError(w, http.StatusUnauthorized, msg)
		return nil, false
	}
	return body, true
}

// StatusHandler serves the operational debug surface.
type StatusHandler struct {
	orch       *orchestrator.Orchestrator
	cloneCache *cache.CloneCache
	instanceID string
	startedAt  time.Time
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(orch *orchestrator.Orchestrator, cloneCache *cache.CloneCache, instanceID string) *StatusHandler {
	return &StatusHandler{
		orch:       orch,
		cloneCache: cloneCache,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// HandleHealth serves GET /health for load balancer probes.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "voice-handoff-service",
		"instance": h.instanceID,
	})
}

// HandleStatus serves GET /api/status with cache and task metrics.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.cloneCache.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance":       h.instanceID,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"active_tasks":   h.orch.ActiveTasks(),
		"clone_cache":    stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
