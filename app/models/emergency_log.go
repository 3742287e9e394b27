package models

import (
	"time"
)

const (
	ESCALATION_TYPE_SMS  = "sms"
	ESCALATION_TYPE_CALL = "call"

	ESCALATION_STATUS_SENT   = "sent"
	ESCALATION_STATUS_FAILED = "failed"
)

// EmergencyLog records every escalation attempt towards a technician.
type EmergencyLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BusinessID      string    `gorm:"type:varchar(64);index" json:"business_id"`
	BookingID       string    `gorm:"type:varchar(64);index" json:"booking_id"`
	TechnicianPhone string    `gorm:"type:varchar(32)" json:"technician_phone"`
	EscalationType  string    `gorm:"type:varchar(8)" json:"escalation_type"`
	Status          string    `gorm:"type:varchar(16)" json:"status"`
	Error           string    `gorm:"type:text" json:"error"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for the EmergencyLog model
func (EmergencyLog) TableName() string {
	return "emergency_logs"
}
