package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyTwilioSignature(t *testing.T) {
	const (
		token = "test_auth_token"
		url   = "https://slotfox.example.com/webhooks/twilio/call-status?business_id=biz_1"
	)
	params := map[string]string{
		"CallSid":    "CA1234567890",
		"CallStatus": "completed",
		"From":       "+15550001111",
		"To":         "+15550009999",
	}

	sig := TwilioSignature(token, url, params)
	require.NotEmpty(t, sig)

	t.Run("valid signature verifies", func(t *testing.T) {
		assert.True(t, VerifyTwilioSignature(token, url, params, sig))
	})

	t.Run("surrounding whitespace is tolerated", func(t *testing.T) {
		assert.True(t, VerifyTwilioSignature(token, url, params, " "+sig+"\n"))
	})

	t.Run("tampered parameter fails", func(t *testing.T) {
		tampered := map[string]string{}
		for k, v := range params {
			tampered[k] = v
		}
		tampered["From"] = "+15550002222"
		assert.False(t, VerifyTwilioSignature(token, url, tampered, sig))
	})

	t.Run("different url fails", func(t *testing.T) {
		assert.False(t, VerifyTwilioSignature(token, "https://other.example.com/hook", params, sig))
	})

	t.Run("wrong token fails", func(t *testing.T) {
		assert.False(t, VerifyTwilioSignature("other_token", url, params, sig))
	})

	t.Run("missing signature fails", func(t *testing.T) {
		assert.False(t, VerifyTwilioSignature(token, url, params, ""))
	})

	t.Run("empty token never verifies", func(t *testing.T) {
		assert.False(t, VerifyTwilioSignature("", url, params, sig))
	})

	t.Run("parameter order does not matter", func(t *testing.T) {
		// Maps iterate in random order already; the signature must come out
		// stable across runs regardless.
		again := TwilioSignature(token, url, params)
		assert.Equal(t, sig, again)
	})
}
