package models

import (
	"time"
)

const (
	SERVICE_AREA_RADIUS = "radius"
	SERVICE_AREA_ZIP    = "zip"
)

// BusinessProfile holds the operator-editable overlay for a tenant. Nil fields
// mean "inherit from Business".
type BusinessProfile struct {
	BusinessID       string      `gorm:"primaryKey;type:varchar(64)" json:"business_id"`
	Timezone         *string     `gorm:"type:varchar(64);default:null" json:"timezone,omitempty"`
	WorkingHours     WeeklyHours `gorm:"type:text" json:"working_hours,omitempty"`
	SlotDurationMin  *int        `gorm:"default:null" json:"slot_duration_min,omitempty"`
	BufferMin        *int        `gorm:"default:null" json:"buffer_min,omitempty"`
	EmergencyEnabled *bool       `gorm:"default:null" json:"emergency_enabled,omitempty"`
	EmergencyPhone   *string     `gorm:"type:varchar(32);default:null" json:"emergency_phone,omitempty"`
	ServiceArea      JSON        `gorm:"type:text" json:"service_area,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the BusinessProfile model
func (BusinessProfile) TableName() string {
	return "business_profiles"
}

// EffectiveProfile is the merged view of a Business under its profile overlay.
// Everything downstream (availability, booking validation, emergency routing)
// reads this, never the raw rows.
type EffectiveProfile struct {
	BusinessID         string
	Name               string
	Timezone           string
	WorkingHours       WeeklyHours
	DefaultDurationMin int
	SlotGranularityMin int
	BufferBeforeMin    int
	BufferAfterMin     int
	LeadTimeMin        int
	MaxDaysAhead       int
	MaxDailyJobs       *int
	EmergencyEnabled   bool
	EmergencySMSPhone  string
	EmergencyCallPhone string
	EmergencyRetries   int
	EmergencyRetryWait time.Duration
	AutoSMSEnabled     bool
	ServiceArea        JSON
}

// MergeEffectiveProfile overlays profile fields onto the business defaults.
// profile may be nil when the operator never edited anything.
func MergeEffectiveProfile(business *Business, profile *BusinessProfile) EffectiveProfile {
	eff := EffectiveProfile{
		BusinessID:         business.ID,
		Name:               business.Name,
		Timezone:           business.Timezone,
		WorkingHours:       business.WorkingHours,
		DefaultDurationMin: business.DefaultDurationMin,
		SlotGranularityMin: business.SlotGranularityMin,
		BufferBeforeMin:    business.BufferBeforeMin,
		BufferAfterMin:     business.BufferAfterMin,
		LeadTimeMin:        business.LeadTimeMin,
		MaxDaysAhead:       business.MaxDaysAhead,
		MaxDailyJobs:       business.MaxDailyJobs,
		EmergencyEnabled:   business.EmergencyEnabled,
		EmergencySMSPhone:  business.EmergencySMSPhone,
		EmergencyCallPhone: business.EmergencyCallPhone,
		EmergencyRetries:   business.EmergencyRetryCount,
		EmergencyRetryWait: time.Duration(business.EmergencyRetryDelaySec) * time.Second,
		AutoSMSEnabled:     business.AutoSMSEnabled,
	}
	if eff.SlotGranularityMin <= 0 {
		eff.SlotGranularityMin = 15
	}
	if profile == nil {
		return eff
	}
	if profile.Timezone != nil && *profile.Timezone != "" {
		eff.Timezone = *profile.Timezone
	}
	if len(profile.WorkingHours) > 0 {
		eff.WorkingHours = profile.WorkingHours
	}
	if profile.SlotDurationMin != nil && *profile.SlotDurationMin > 0 {
		eff.DefaultDurationMin = *profile.SlotDurationMin
	}
	if profile.BufferMin != nil && *profile.BufferMin >= 0 {
		eff.BufferBeforeMin = *profile.BufferMin
		eff.BufferAfterMin = *profile.BufferMin
	}
	if profile.EmergencyEnabled != nil {
		eff.EmergencyEnabled = *profile.EmergencyEnabled
	}
	if profile.EmergencyPhone != nil && *profile.EmergencyPhone != "" {
		eff.EmergencySMSPhone = *profile.EmergencyPhone
		eff.EmergencyCallPhone = *profile.EmergencyPhone
	}
	if len(profile.ServiceArea) > 0 {
		eff.ServiceArea = profile.ServiceArea
	}
	return eff
}
