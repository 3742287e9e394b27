package models

import (
	"encoding/json"
	"time"
)

const (
	RETRY_KIND_TWILIO_SMS  = "twilio_sms"
	RETRY_KIND_TWILIO_CALL = "twilio_call"
	RETRY_KIND_GCAL_CREATE = "gcal_create"
	RETRY_KIND_GCAL_UPDATE = "gcal_update"
	RETRY_KIND_GCAL_DELETE = "gcal_delete"

	RETRY_STATUS_PENDING   = "pending"
	RETRY_STATUS_SUCCEEDED = "succeeded"
	RETRY_STATUS_FAILED    = "failed"

	RETRY_DEFAULT_MAX_ATTEMPTS = 5
)

// RetryTask is one durable outbox row: a deferred external side effect that
// survives process crashes and is retried with exponential backoff.
type RetryTask struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	BusinessID    string    `gorm:"type:varchar(64);index" json:"business_id"`
	BookingID     *string   `gorm:"type:varchar(64);index;default:null" json:"booking_id,omitempty"`
	Kind          string    `gorm:"type:varchar(32);index" json:"kind"`
	Payload       JSON      `gorm:"type:text" json:"payload"`
	AttemptCount  int       `gorm:"default:0" json:"attempt_count"`
	MaxAttempts   int       `gorm:"default:5" json:"max_attempts"`
	NextAttemptAt time.Time `gorm:"column:next_attempt_at_utc;index" json:"next_attempt_at_utc"`
	LastError     *string   `gorm:"type:text;default:null" json:"last_error,omitempty"`
	Status        string    `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the RetryTask model
func (RetryTask) TableName() string {
	return "retry_tasks"
}

// Exhausted reports whether the task has spent its attempt budget.
func (t *RetryTask) Exhausted() bool {
	return t.AttemptCount >= t.MaxAttempts
}

// DecodePayload unmarshals the payload blob into out.
func (t *RetryTask) DecodePayload(out interface{}) error {
	if len(t.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload, out)
}

// SmsRetryPayload is the payload for twilio_sms tasks. LogOnSuccess carries
// the SmsLog fields to append once the deferred send finally lands.
type SmsRetryPayload struct {
	To           string `json:"to"`
	Body         string `json:"body"`
	Kind         string `json:"kind"`
	RequestID    string `json:"request_id,omitempty"`
	LogOnSuccess bool   `json:"log_on_success"`
}

// CallRetryPayload is the payload for twilio_call tasks.
type CallRetryPayload struct {
	To        string `json:"to"`
	TwiML     string `json:"twiml"`
	RequestID string `json:"request_id,omitempty"`
}

// GCalCreatePayload is the payload for gcal_create tasks; the booking row
// itself is the source of truth for event fields, so only the id travels.
type GCalCreatePayload struct {
	BookingID string `json:"booking_id"`
	RequestID string `json:"request_id,omitempty"`
}

// GCalDeletePayload is the payload for gcal_delete tasks.
type GCalDeletePayload struct {
	EventID   string `json:"event_id"`
	RequestID string `json:"request_id,omitempty"`
}

// MarshalPayload encodes any payload struct into the JSON blob column.
func MarshalPayload(payload interface{}) (JSON, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return JSON(data), nil
}
