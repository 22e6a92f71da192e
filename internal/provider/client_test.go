package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "test-key", 2*time.Second, 3)
	return c
}

func TestCreateCloneSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/voices/clone", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sample-a", req["sample_ref"])

		json.NewEncoder(w).Encode(map[string]string{"voice_handle": "v_abc123"})
	}))
	defer srv.Close()

	handle, err := newTestClient(srv.URL).CreateClone(context.Background(), "sample-a", "Caller A")
	require.NoError(t, err)
	assert.Equal(t, "v_abc123", handle)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestPostJSONRetriesOn5xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"call_id": "agent-9"})
	}))
	defer srv.Close()

	callID, err := newTestClient(srv.URL).TriggerAgentCall(context.Background(), "+1415", "v_abc")
	require.NoError(t, err)
	assert.Equal(t, "agent-9", callID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPostJSONRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TriggerAgentCall(context.Background(), "+1415", "v_abc")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(4), attempts.Load())
}

func TestPostJSON4xxIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "bad sample"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateClone(context.Background(), "sample-a", "Caller A")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "bad sample", apiErr.Message)
	assert.True(t, apiErr.Permanent())

	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}

func TestPostJSONContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).TriggerGreetingCall(ctx, "+1415", GreetingConfig{Message: "hold"})
	require.Error(t, err)
}

func TestEmptyHandleRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateClone(context.Background(), "sample-a", "Caller A")
	assert.Error(t, err)
}

func TestAPIErrorClassification(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 400}).Permanent())
	assert.True(t, (&APIError{StatusCode: 404}).Permanent())
	assert.False(t, (&APIError{StatusCode: 500}).Permanent())
	assert.False(t, (&APIError{StatusCode: 503}).Permanent())
}
