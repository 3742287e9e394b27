package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_MasksKnownKeys(t *testing.T) {
	in := map[string]interface{}{
		"phone":            "+15550001111",
		"email":            "john.doe@example.com",
		"customer_address": "123 Main St, Austin TX",
		"customer_name":    "John Doe",
		"notes":            "gate code 4421",
		"description":      "furnace rattles at startup",
		"transcript":       "hello this is john",
		"status":           "confirmed",
	}

	out := Map(in)

	assert.Equal(t, "**********11", out["phone"])
	assert.Equal(t, "j***@example.com", out["email"])
	assert.Equal(t, "[REDACTED_ADDRESS]", out["customer_address"])
	assert.Equal(t, "[REDACTED_NAME]", out["customer_name"])
	assert.Equal(t, "[REDACTED_TEXT]", out["notes"])
	assert.Equal(t, "[REDACTED_TEXT]", out["description"])
	assert.Equal(t, "[REDACTED_TEXT]", out["transcript"])
	assert.Equal(t, "confirmed", out["status"], "non-PII values pass through")
}

func TestMap_TraversesNestedStructures(t *testing.T) {
	in := map[string]interface{}{
		"booking": map[string]interface{}{
			"customer": map[string]interface{}{
				"name":  "Jane Roe",
				"phone": "5550002222",
			},
		},
		"sms_logs": []interface{}{
			map[string]interface{}{"to_number_phone": "5550003333", "status": "sent"},
		},
	}

	out := Map(in)

	booking := out["booking"].(map[string]interface{})
	customer := booking["customer"].(map[string]interface{})
	assert.Equal(t, "[REDACTED_NAME]", customer["name"])
	assert.Equal(t, "********22", customer["phone"])

	logs := out["sms_logs"].([]interface{})
	entry := logs[0].(map[string]interface{})
	assert.Equal(t, "********33", entry["to_number_phone"])
	assert.Equal(t, "sent", entry["status"])
}

func TestMap_DoesNotMutateInput(t *testing.T) {
	in := map[string]interface{}{"phone": "5550001111"}
	_ = Map(in)
	assert.Equal(t, "5550001111", in["phone"])
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15550001111", "**********11"},
		{"11", "**"},
		{"1", "*"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhone(tt.in))
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "j***@example.com"},
		{"a@b.co", "a***@b.co"},
		{"not-an-email", "[REDACTED_EMAIL]"},
		{"@nouser.com", "[REDACTED_EMAIL]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskEmail(tt.in))
	}
}

func TestMap_NonStringPIIValues(t *testing.T) {
	in := map[string]interface{}{
		"phone": 5550001111,
		"count": 3,
	}
	out := Map(in)
	assert.Equal(t, "********11", out["phone"])
	assert.Equal(t, 3, out["count"])
}
