package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func signFor(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v0=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSignatureVerifyRoundTrip(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)
	body := []byte(`{"call_id":"c1","caller_id":"+14155550100"}`)

	header := v.Sign(body)
	require.NoError(t, v.Verify(header, body))
}

func TestSignatureVerifyMissingHeader(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)
	err := v.Verify("", []byte("{}"))
	assert.ErrorIs(t, err, ErrSignatureMissing)
}

func TestSignatureVerifyMalformedHeader(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)

	cases := []string{
		"garbage",
		"t=123",
		"v0=abcdef",
		"t=notanumber,v0=abcdef",
		"t=123,v0=zzzz",
	}
	for _, header := range cases {
		assert.ErrorIs(t, v.Verify(header, []byte("{}")), ErrSignatureMalformed, "header %q", header)
	}
}

func TestSignatureVerifyMismatch(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)
	body := []byte(`{"call_id":"c1"}`)

	header := signFor("wrong-secret", time.Now().Unix(), body)
	assert.ErrorIs(t, v.Verify(header, body), ErrSignatureMismatch)
}

func TestSignatureVerifyTamperedBody(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)

	header := v.Sign([]byte(`{"call_id":"c1"}`))
	assert.ErrorIs(t, v.Verify(header, []byte(`{"call_id":"c2"}`)), ErrSignatureMismatch)
}

func TestSignatureVerifyStaleTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	v := NewSignatureValidator("topsecret", 30*time.Minute)
	v.SetClock(fixedClock(now))

	body := []byte("{}")

	// Just inside the window passes.
	ts := now.Add(-29 * time.Minute).Unix()
	require.NoError(t, v.Verify(signFor("topsecret", ts, body), body))

	// Outside the window is rejected even with a valid digest.
	ts = now.Add(-31 * time.Minute).Unix()
	assert.ErrorIs(t, v.Verify(signFor("topsecret", ts, body), body), ErrTimestampStale)

	// Timestamps from the future are bounded too.
	ts = now.Add(31 * time.Minute).Unix()
	assert.ErrorIs(t, v.Verify(signFor("topsecret", ts, body), body), ErrTimestampStale)
}

func TestSignatureVerifyHeaderWithSpaces(t *testing.T) {
	v := NewSignatureValidator("topsecret", 30*time.Minute)
	body := []byte(`{"k":"v"}`)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	ts := time.Now().Unix()
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	header := fmt.Sprintf("t=%d, v0=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	require.NoError(t, v.Verify(header, body))
}
