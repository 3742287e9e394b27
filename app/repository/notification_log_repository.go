package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// smsLogRepository implements the SmsLogRepository interface
type smsLogRepository struct {
	db *gorm.DB
}

// NewSmsLogRepository creates a new SMS log repository instance
func NewSmsLogRepository(db *gorm.DB) SmsLogRepository {
	return &smsLogRepository{db: db}
}

// Create stores a new outbound SMS record
func (r *smsLogRepository) Create(log *models.SmsLog) error {
	return r.db.Create(log).Error
}

// Update persists status changes on an existing record
func (r *smsLogRepository) Update(log *models.SmsLog) error {
	return r.db.Save(log).Error
}

// ExistsByDedupeKey reports whether a send with this dedupe key was already
// recorded, regardless of whether it succeeded.
func (r *smsLogRepository) ExistsByDedupeKey(key string) (bool, error) {
	var count int64
	err := r.db.Model(&models.SmsLog{}).
		Where("dedupe_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// ListByBooking returns every SMS attempted for a booking, oldest first
func (r *smsLogRepository) ListByBooking(bookingID string) ([]models.SmsLog, error) {
	var logs []models.SmsLog
	err := r.db.Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// callLogRepository implements the CallLogRepository interface
type callLogRepository struct {
	db *gorm.DB
}

// NewCallLogRepository creates a new call log repository instance
func NewCallLogRepository(db *gorm.DB) CallLogRepository {
	return &callLogRepository{db: db}
}

// Create stores a new call record
func (r *callLogRepository) Create(log *models.CallLog) error {
	return r.db.Create(log).Error
}

// GetBySID retrieves a call record by its provider call SID
func (r *callLogRepository) GetBySID(callSID string) (*models.CallLog, error) {
	var log models.CallLog
	err := r.db.First(&log, "call_sid = ?", callSID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateStatusBySID applies a provider status callback to the matching row
func (r *callLogRepository) UpdateStatusBySID(callSID, status string) error {
	return r.db.Model(&models.CallLog{}).
		Where("call_sid = ?", callSID).
		Update("status", status).Error
}

// ListByBusiness returns call records for a tenant, newest first
func (r *callLogRepository) ListByBusiness(businessID string, offset, limit int) ([]models.CallLog, error) {
	var logs []models.CallLog
	err := r.db.Where("business_id = ?", businessID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&logs).Error
	return logs, err
}

// emergencyLogRepository implements the EmergencyLogRepository interface
type emergencyLogRepository struct {
	db *gorm.DB
}

// NewEmergencyLogRepository creates a new emergency log repository instance
func NewEmergencyLogRepository(db *gorm.DB) EmergencyLogRepository {
	return &emergencyLogRepository{db: db}
}

// Create stores a new escalation attempt record
func (r *emergencyLogRepository) Create(log *models.EmergencyLog) error {
	return r.db.Create(log).Error
}

// ListByBooking returns escalation attempts for a booking, oldest first
func (r *emergencyLogRepository) ListByBooking(bookingID string) ([]models.EmergencyLog, error) {
	var logs []models.EmergencyLog
	err := r.db.Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
