package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// ErrInvalidStatusTransition is returned when a status update would violate
// the booking lifecycle. It indicates a programming error upstream, not bad
// client input.
var ErrInvalidStatusTransition = errors.New("INVALID_STATUS_TRANSITION")

// ErrRecoveryConflict means a failed booking could not be resurrected: the
// row moved on, or its slot was rebooked while the insert retry was queued.
var ErrRecoveryConflict = errors.New("RECOVERY_CONFLICT")

// Internal sentinels used to roll back the hold transaction without
// surfacing a storage error.
var (
	errSlotTaken        = errors.New("slot taken")
	errIdempotentReplay = errors.New("idempotent replay")
)

// bookingRepository implements the BookingRepository interface
type bookingRepository struct {
	db *gorm.DB
}

// NewBookingRepository creates a new booking repository instance
func NewBookingRepository(db *gorm.DB) BookingRepository {
	return &bookingRepository{db: db}
}

const activeBookingPredicate = "(status = 'confirmed' OR (status = 'pending' AND (hold_expires_at_utc IS NULL OR hold_expires_at_utc > ?)))"

// CreatePendingHoldIfAvailable runs the slot-claim critical section in one
// write transaction:
//
//  1. cancel this business's expired pending holds, so the unique indexes
//     on slot_key and idempotency_key only ever see live rows,
//  2. probe for an active booking overlapping the requested window,
//  3. insert the pending hold.
//
// A lost race on the insert surfaces as a unique violation, which is mapped
// to the same HoldResult reasons the probe produces.
func (r *bookingRepository) CreatePendingHoldIfAvailable(ctx context.Context, booking *models.Booking, holdFor time.Duration) (*HoldResult, error) {
	now := time.Now().UTC()

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Booking{}).
			Where("business_id = ? AND status = ? AND hold_expires_at_utc IS NOT NULL AND hold_expires_at_utc <= ?",
				booking.BusinessID, models.BOOKING_STATUS_PENDING, now).
			Update("status", models.BOOKING_STATUS_CANCELLED).Error
		if err != nil {
			return fmt.Errorf("sweep expired holds: %w", err)
		}

		probe := tx.Model(&models.Booking{}).
			Where("business_id = ?", booking.BusinessID).
			Where(activeBookingPredicate, now).
			Where("overlap_start_utc < ? AND overlap_end_utc > ?", booking.OverlapEndUTC, booking.OverlapStartUTC).
			Limit(1)
		if tx.Dialector.Name() == "mysql" {
			probe = probe.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var blocking models.Booking
		err = probe.First(&blocking).Error
		if err == nil {
			return errSlotTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("overlap probe: %w", err)
		}

		booking.Status = models.BOOKING_STATUS_PENDING
		expiry := now.Add(holdFor)
		booking.HoldExpiresAt = &expiry

		if err := tx.Create(booking).Error; err != nil {
			if isUniqueViolation(err, "idempotency") {
				return errIdempotentReplay
			}
			if isUniqueViolation(err, "slot") {
				return errSlotTaken
			}
			return fmt.Errorf("insert pending hold: %w", err)
		}
		return nil
	})

	switch {
	case txErr == nil:
		return &HoldResult{OK: true}, nil
	case errors.Is(txErr, errSlotTaken):
		return &HoldResult{OK: false, Reason: ReasonSlotTaken}, nil
	case errors.Is(txErr, errIdempotentReplay):
		return &HoldResult{OK: false, Reason: ReasonIdempotentReplay}, nil
	default:
		return nil, txErr
	}
}

// ConfirmBooking moves a pending hold to confirmed, stores the calendar
// event id and clears the hold expiry.
func (r *bookingRepository) ConfirmBooking(id, eventID string) error {
	return r.UpdateBookingStatus(id, models.BOOKING_STATUS_CONFIRMED, map[string]interface{}{
		"gcal_event_id":       eventID,
		"hold_expires_at_utc": nil,
	})
}

// FailBooking marks a pending hold failed with a safe reason code.
func (r *bookingRepository) FailBooking(id, reason string) error {
	return r.UpdateBookingStatus(id, models.BOOKING_STATUS_FAILED, map[string]interface{}{
		"failure_reason":      reason,
		"hold_expires_at_utc": nil,
	})
}

// RecoverFailedBooking flips a failed booking back to confirmed after a
// deferred calendar insert landed. The guard on failure_reason keeps this
// bypass of the lifecycle table narrow: only rows failed by a calendar
// outage qualify. Flipping the status re-admits the row to the partial
// unique index on slot_key, so a slot rebooked in the meantime surfaces as
// ErrRecoveryConflict and the row stays failed.
func (r *bookingRepository) RecoverFailedBooking(id, eventID string) error {
	res := r.db.Model(&models.Booking{}).
		Where("id = ? AND status = ? AND failure_reason = ?",
			id, models.BOOKING_STATUS_FAILED, ReasonEventInsertFailed).
		Updates(map[string]interface{}{
			"status":         models.BOOKING_STATUS_CONFIRMED,
			"gcal_event_id":  eventID,
			"failure_reason": nil,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error, "slot") {
			return fmt.Errorf("%w: booking %s", ErrRecoveryConflict, id)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: booking %s is not recoverable", ErrRecoveryConflict, id)
	}
	return nil
}

// CancelBooking cancels a pending or confirmed booking.
func (r *bookingRepository) CancelBooking(id string) error {
	return r.UpdateBookingStatus(id, models.BOOKING_STATUS_CANCELLED, map[string]interface{}{
		"hold_expires_at_utc": nil,
	})
}

// UpdateBookingStatus enforces the lifecycle table: it reads the row, checks
// the transition, and applies the new status plus fields in a single guarded
// UPDATE. A row that moved concurrently fails the guard and reports an
// invalid transition.
func (r *bookingRepository) UpdateBookingStatus(id, newStatus string, fields map[string]interface{}) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var current models.Booking
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return err
		}

		if !models.CanTransitionBooking(current.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s (booking %s)", ErrInvalidStatusTransition, current.Status, newStatus, id)
		}

		updates := map[string]interface{}{"status": newStatus}
		for k, v := range fields {
			updates[k] = v
		}

		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", id, current.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidStatusTransition, id)
		}
		return nil
	})
}

// GetByID retrieves a booking by its ID
func (r *bookingRepository) GetByID(id string) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.First(&booking, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetByIdempotencyKey returns the active booking for (businessID, key), or
// nil when no active row exists. Terminal rows do not count; a retried
// request may rebook a slot whose first attempt failed.
func (r *bookingRepository) GetByIdempotencyKey(businessID, key string) (*models.Booking, error) {
	now := time.Now().UTC()

	var booking models.Booking
	err := r.db.
		Where("business_id = ? AND idempotency_key = ?", businessID, key).
		Where(activeBookingPredicate, now).
		Order("created_at DESC").
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// FindOverlappingActive returns the active bookings whose buffered window
// strictly overlaps [startUTC, endUTC).
func (r *bookingRepository) FindOverlappingActive(businessID string, startUTC, endUTC time.Time) ([]models.Booking, error) {
	now := time.Now().UTC()

	var bookings []models.Booking
	err := r.db.
		Where("business_id = ?", businessID).
		Where(activeBookingPredicate, now).
		Where("overlap_start_utc < ? AND overlap_end_utc > ?", endUTC, startUTC).
		Order("overlap_start_utc ASC").
		Find(&bookings).Error
	return bookings, err
}

// CleanupExpiredHolds cancels pending holds whose expiry has passed. An
// empty businessID sweeps every tenant; the periodic sweeper uses that form.
func (r *bookingRepository) CleanupExpiredHolds(businessID string) (int64, error) {
	now := time.Now().UTC()

	q := r.db.Model(&models.Booking{}).
		Where("status = ? AND hold_expires_at_utc IS NOT NULL AND hold_expires_at_utc <= ?",
			models.BOOKING_STATUS_PENDING, now)
	if businessID != "" {
		q = q.Where("business_id = ?", businessID)
	}

	res := q.Update("status", models.BOOKING_STATUS_CANCELLED)
	return res.RowsAffected, res.Error
}

// CountActiveInRange counts active bookings starting within [startUTC,
// endUTC), used to enforce per-day job caps.
func (r *bookingRepository) CountActiveInRange(businessID string, startUTC, endUTC time.Time) (int64, error) {
	now := time.Now().UTC()

	var count int64
	err := r.db.Model(&models.Booking{}).
		Where("business_id = ?", businessID).
		Where(activeBookingPredicate, now).
		Where("start_utc >= ? AND start_utc < ?", startUTC, endUTC).
		Count(&count).Error
	return count, err
}

// isUniqueViolation matches unique-constraint errors from both dialects and
// narrows them to the index the fragment names.
func isUniqueViolation(err error, fragment string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "Duplicate entry") {
		return false
	}
	return strings.Contains(msg, fragment)
}
