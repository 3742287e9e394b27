package models

import (
	"time"
)

const (
	SMS_KIND_CONFIRMATION     = "confirmation"
	SMS_KIND_AUTO_SMS         = "auto_sms"
	SMS_KIND_EMERGENCY_NOTIFY = "emergency_notify"
	SMS_KIND_MISSED_CALL      = "missed_call"
	SMS_KIND_UNAVAILABLE      = "unavailable"

	SMS_STATUS_QUEUED = "queued"
	SMS_STATUS_SENT   = "sent"
	SMS_STATUS_FAILED = "failed"
)

// SmsLog is append-only; a queued row is written before the provider call and
// a terminal sent/failed row after, so delivery is observable even mid-flight.
type SmsLog struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	BusinessID        string    `gorm:"type:varchar(64);index" json:"business_id"`
	BookingID         *string   `gorm:"type:varchar(64);index;default:null" json:"booking_id,omitempty"`
	ToNumber          string    `gorm:"type:varchar(32)" json:"to_number"`
	FromNumber        string    `gorm:"type:varchar(32)" json:"from_number"`
	Body              string    `gorm:"type:text" json:"body"`
	ProviderMessageID string    `gorm:"type:varchar(64)" json:"provider_message_id"`
	Kind              string    `gorm:"type:varchar(32)" json:"kind"`
	Status            string    `gorm:"type:varchar(16)" json:"status"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message"`
	DedupeKey         *string   `gorm:"type:varchar(160);uniqueIndex;default:null" json:"dedupe_key,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the SmsLog model
func (SmsLog) TableName() string {
	return "sms_logs"
}

// MakeSmsDedupeKey builds "{business}:{requestId}:{kind}" with an optional
// ":{reason}" suffix.
func MakeSmsDedupeKey(businessID, requestID, kind, reason string) string {
	key := businessID + ":" + requestID + ":" + kind
	if reason != "" {
		key += ":" + reason
	}
	return key
}
