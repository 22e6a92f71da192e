package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Client talks to the voice provider REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
}

// NewClient creates a provider API client with a bounded per-request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		MaxRetries: maxRetries,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type createCloneRequest struct {
	SampleRef   string `json:"sample_ref"`
	DisplayName string `json:"display_name"`
}

type createCloneResponse struct {
	VoiceHandle string `json:"voice_handle"`
}

type greetingCallRequest struct {
	CallerID string `json:"caller_id"`
	AudioRef string `json:"audio_ref,omitempty"`
	Message  string `json:"message,omitempty"`
}

type agentCallRequest struct {
	CallerID    string `json:"caller_id"`
	VoiceHandle string `json:"voice_handle"`
}

type callResponse struct {
	CallID string `json:"call_id"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// CreateClone builds a cloned voice from a stored sample.
func (c *Client) CreateClone(ctx context.Context, sampleRef, displayName string) (string, error) {
	var resp createCloneResponse
	err := c.postJSON(ctx, "/v1/voices/clone", createCloneRequest{
		SampleRef:   sampleRef,
		DisplayName: displayName,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.VoiceHandle == "" {
		return "", fmt.Errorf("provider returned empty voice handle")
	}
	return resp.VoiceHandle, nil
}

// TriggerGreetingCall answers the inbound call with the greeting audio.
func (c *Client) TriggerGreetingCall(ctx context.Context, callerID string, cfg GreetingConfig) (string, error) {
	var resp callResponse
	err := c.postJSON(ctx, "/v1/calls/greeting", greetingCallRequest{
		CallerID: callerID,
		AudioRef: cfg.AudioRef,
		Message:  cfg.Message,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.CallID == "" {
		return "", fmt.Errorf("provider returned empty greeting call handle")
	}
	return resp.CallID, nil
}

// TriggerAgentCall hands the live session to the agent with the given voice.
func (c *Client) TriggerAgentCall(ctx context.Context, callerID, voiceHandle string) (string, error) {
	var resp callResponse
	err := c.postJSON(ctx, "/v1/calls/agent", agentCallRequest{
		CallerID:    callerID,
		VoiceHandle: voiceHandle,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.CallID == "" {
		return "", fmt.Errorf("provider returned empty agent call handle")
	}
	return resp.CallID, nil
}

// postJSON sends one logical request with bounded exponential-backoff
// retries. Transient failures (network errors, 5xx) are retried up to
// MaxRetries times; 4xx rejections are permanent and returned immediately.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.BaseURL + path

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp errorResponse
			_ = json.Unmarshal(bodyBytes, &errResp)
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
			if apiErr.Permanent() {
				return backoff.Permanent(apiErr)
			}
			logger.Base().Warn("provider call failed, will retry",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return apiErr
		}

		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries)), ctx)); err != nil {
		return err
	}
	return nil
}

// Ensure Client implements the adapter boundary.
var _ Adapter = (*Client)(nil)
