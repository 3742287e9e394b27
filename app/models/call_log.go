package models

import (
	"time"
)

const (
	CALL_STATUS_STARTED   = "started"
	CALL_STATUS_COMPLETED = "completed"
	CALL_STATUS_FAILED    = "failed"

	CALL_DIRECTION_INBOUND  = "inbound"
	CALL_DIRECTION_OUTBOUND = "outbound"
)

// CallLog is the append-only record of provider voice calls.
type CallLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BusinessID   string    `gorm:"type:varchar(64);index" json:"business_id"`
	CallSID      string    `gorm:"column:call_sid;type:varchar(64);index" json:"call_sid"`
	FromNumber   string    `gorm:"type:varchar(32)" json:"from_number"`
	ToNumber     string    `gorm:"type:varchar(32)" json:"to_number"`
	Direction    string    `gorm:"type:varchar(16)" json:"direction"`
	Status       string    `gorm:"type:varchar(16)" json:"status"`
	DurationSec  int       `gorm:"default:0" json:"duration_sec"`
	RecordingURL string    `gorm:"type:varchar(512)" json:"recording_url"`
	Metadata     JSON      `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the CallLog model
func (CallLog) TableName() string {
	return "call_logs"
}

// NormalizeCallStatus folds provider status strings into the three states the
// ledger tracks: completed, failed, started.
func NormalizeCallStatus(providerStatus string) string {
	switch providerStatus {
	case "completed":
		return CALL_STATUS_COMPLETED
	case "failed", "busy", "no-answer", "canceled":
		return CALL_STATUS_FAILED
	default:
		return CALL_STATUS_STARTED
	}
}
