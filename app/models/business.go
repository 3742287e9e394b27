package models

import (
	"time"
)

// Business is the tenant record. Operator-editable overrides live in
// BusinessProfile and win over these fields at read time.
type Business struct {
	ID                     string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                   string      `gorm:"type:varchar(200)" json:"name" validate:"required,min=1,max=200"`
	Timezone               string      `gorm:"type:varchar(64);default:'America/Chicago'" json:"timezone" validate:"required"`
	WorkingHours           WeeklyHours `gorm:"type:text" json:"working_hours"`
	DefaultDurationMin     int         `gorm:"default:60" json:"default_duration_min" validate:"gt=0,lte=480"`
	SlotGranularityMin     int         `gorm:"default:15" json:"slot_granularity_min" validate:"gt=0,lte=240"`
	BufferBeforeMin        int         `gorm:"default:0" json:"buffer_before_min" validate:"gte=0,lte=1440"`
	BufferAfterMin         int         `gorm:"default:0" json:"buffer_after_min" validate:"gte=0,lte=1440"`
	LeadTimeMin            int         `gorm:"default:60" json:"lead_time_min" validate:"gte=0"`
	MaxDaysAhead           int         `gorm:"default:14" json:"max_days_ahead" validate:"gte=1,lte=365"`
	MaxDailyJobs           *int        `gorm:"default:null" json:"max_daily_jobs,omitempty"`
	EmergencyEnabled       bool        `gorm:"default:false" json:"emergency_enabled"`
	EmergencySMSPhone      string      `gorm:"type:varchar(32);default:null" json:"emergency_sms_phone"`
	EmergencyCallPhone     string      `gorm:"type:varchar(32);default:null" json:"emergency_call_phone"`
	EmergencyRetryCount    int         `gorm:"default:1" json:"emergency_retry_count" validate:"gte=0,lte=10"`
	EmergencyRetryDelaySec int         `gorm:"default:30" json:"emergency_retry_delay_sec" validate:"gte=0"`
	AutoSMSEnabled         bool        `gorm:"default:true" json:"auto_sms_enabled"`
	CreatedAt              time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the Business model
func (Business) TableName() string {
	return "businesses"
}
