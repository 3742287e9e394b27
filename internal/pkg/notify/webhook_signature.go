package notify

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strings"
)

// TwilioSignature computes the expected X-Twilio-Signature for a webhook
// delivery: base64(HMAC-SHA1(url + paramName+paramValue... sorted by name)).
func TwilioSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyTwilioSignature checks a delivery against the account auth token.
// Twilio signs the exact public URL it called, so a rewriting proxy in front
// of the service must preserve the configured webhook URL.
func VerifyTwilioSignature(authToken, url string, params map[string]string, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || authToken == "" {
		return false
	}
	expected := TwilioSignature(authToken, url, params)
	return hmac.Equal([]byte(expected), []byte(sig))
}
