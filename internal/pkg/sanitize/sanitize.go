// Package sanitize masks personally identifiable values in debug payloads.
// Masking is keyed by field name and applied recursively, so nested customer
// objects and arrays of log entries come out clean.
package sanitize

import (
	"fmt"
	"strings"
)

const (
	redactedAddress = "[REDACTED_ADDRESS]"
	redactedName    = "[REDACTED_NAME]"
	redactedText    = "[REDACTED_TEXT]"
)

var textKeys = map[string]bool{
	"notes":       true,
	"description": true,
	"transcript":  true,
	"summary":     true,
	"job_summary": true,
	"jobsummary":  true,
}

// Map returns a deep copy of m with PII values masked. The input is not
// modified.
func Map(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = value(k, v)
	}
	return out
}

func value(key string, v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return Map(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = value(key, item)
		}
		return out
	case nil:
		return nil
	case string:
		return maskString(key, typed)
	default:
		if matchesPII(key) {
			return maskString(key, fmt.Sprint(typed))
		}
		return v
	}
}

func matchesPII(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "phone") ||
		strings.Contains(k, "email") ||
		strings.Contains(k, "address") ||
		strings.Contains(k, "name") ||
		textKeys[k]
}

func maskString(key, s string) string {
	if s == "" {
		return s
	}
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "phone"):
		return MaskPhone(s)
	case strings.Contains(k, "email"):
		return MaskEmail(s)
	case strings.Contains(k, "address"):
		return redactedAddress
	case strings.Contains(k, "name"):
		return redactedName
	case textKeys[k]:
		return redactedText
	default:
		return s
	}
}

// MaskPhone keeps the last two characters and stars the rest.
func MaskPhone(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-2) + s[len(s)-2:]
}

// MaskEmail keeps the first character and the domain.
func MaskEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return "[REDACTED_EMAIL]"
	}
	return s[:1] + "***" + s[at:]
}
