package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	BOOKING_STATUS_PENDING   = "pending"
	BOOKING_STATUS_CONFIRMED = "confirmed"
	BOOKING_STATUS_CANCELLED = "cancelled"
	BOOKING_STATUS_FAILED    = "failed"
)

// Booking is the reservation-ledger row. Overlap bounds are the booked window
// expanded by the tenant buffers so the overlap probe needs no arithmetic.
type Booking struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BusinessID      string     `gorm:"type:varchar(64);index" json:"business_id"`
	StartUTC        time.Time  `gorm:"column:start_utc" json:"start_utc"`
	EndUTC          time.Time  `gorm:"column:end_utc" json:"end_utc"`
	OverlapStartUTC time.Time  `gorm:"column:overlap_start_utc" json:"overlap_start_utc"`
	OverlapEndUTC   time.Time  `gorm:"column:overlap_end_utc" json:"overlap_end_utc"`
	Status          string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	HoldExpiresAt   *time.Time `gorm:"column:hold_expires_at_utc" json:"hold_expires_at_utc,omitempty"`
	CustomerName    string     `gorm:"type:varchar(200)" json:"customer_name"`
	CustomerPhone   string     `gorm:"type:varchar(32)" json:"customer_phone"`
	CustomerEmail   string     `gorm:"type:varchar(200)" json:"customer_email"`
	CustomerAddress string     `gorm:"type:text" json:"customer_address"`
	ServiceType     string     `gorm:"type:varchar(100)" json:"service_type"`
	Notes           string     `gorm:"type:text" json:"notes"`
	IsEmergency     bool       `gorm:"default:false" json:"is_emergency"`
	JobSummary      string     `gorm:"type:text" json:"job_summary"`
	GCalEventID     *string    `gorm:"column:gcal_event_id;type:varchar(255);default:null" json:"gcal_event_id,omitempty"`
	SlotKey         string     `gorm:"type:varchar(128)" json:"slot_key"`
	IdempotencyKey  string     `gorm:"type:varchar(64)" json:"idempotency_key"`
	FailureReason   *string    `gorm:"type:varchar(255);default:null" json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the Booking model
func (Booking) TableName() string {
	return "bookings"
}

// bookingTransitions is the only legal status graph. failed and cancelled are
// terminal; anything else is an INVALID_STATUS_TRANSITION.
var bookingTransitions = map[string][]string{
	BOOKING_STATUS_PENDING:   {BOOKING_STATUS_CONFIRMED, BOOKING_STATUS_FAILED, BOOKING_STATUS_CANCELLED},
	BOOKING_STATUS_CONFIRMED: {BOOKING_STATUS_CANCELLED},
	BOOKING_STATUS_FAILED:    {},
	BOOKING_STATUS_CANCELLED: {},
}

// CanTransitionBooking reports whether from → to is a legal status move.
func CanTransitionBooking(from, to string) bool {
	for _, allowed := range bookingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalBookingStatus reports whether no further transitions exist.
func IsTerminalBookingStatus(status string) bool {
	return len(bookingTransitions[status]) == 0
}

// IsActive reports whether the row blocks its slot: confirmed, or a pending
// hold that has not expired as of now.
func (b *Booking) IsActive(now time.Time) bool {
	switch b.Status {
	case BOOKING_STATUS_CONFIRMED:
		return true
	case BOOKING_STATUS_PENDING:
		return b.HoldExpiresAt != nil && b.HoldExpiresAt.After(now)
	default:
		return false
	}
}

// MakeSlotKey builds the natural slot identifier {businessID}:{startUTC}.
func MakeSlotKey(businessID string, startUTC time.Time) string {
	return fmt.Sprintf("%s:%s", businessID, startUTC.UTC().Format(time.RFC3339))
}

// NormalizePhoneDigits strips everything but digits so +1 (555) 000-1111 and
// 15550001111 hash identically.
func NormalizePhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MakeIdempotencyKey derives the stable 128-bit request hash from the fields
// that identify "the same booking retried".
func MakeIdempotencyKey(businessID string, startUTC time.Time, durationMin int, phone string) string {
	payload := fmt.Sprintf("%s|%s|%d|%s",
		businessID,
		startUTC.UTC().Format(time.RFC3339),
		durationMin,
		NormalizePhoneDigits(phone),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}
