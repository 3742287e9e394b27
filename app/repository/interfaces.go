package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// Hold outcome reasons surfaced by the booking repository.
const (
	ReasonSlotTaken        = "SLOT_ALREADY_BOOKED"
	ReasonIdempotentReplay = "IDEMPOTENT_REPLAY"
)

// ReasonEventInsertFailed is the failure_reason recorded when every calendar
// insert attempt was lost to an outage. It marks the only failed bookings the
// retry worker is allowed to resurrect.
const ReasonEventInsertFailed = "GOOGLE_EVENTS_INSERT_FAILED"

// HoldResult reports the outcome of a pending-hold attempt. When OK is false
// the Reason tells the orchestrator whether to 409 or to replay the
// idempotency lookup.
type HoldResult struct {
	OK     bool
	Reason string
}

// BusinessRepository defines the interface for tenant-related database operations
type BusinessRepository interface {
	Create(business *models.Business) error
	GetByID(id string) (*models.Business, error)
	Update(business *models.Business) error
	List(offset, limit int) ([]models.Business, error)
	GetEffectiveProfile(id string) (*models.EffectiveProfile, error)
}

// BusinessProfileRepository defines the interface for operator profile overrides
type BusinessProfileRepository interface {
	Get(businessID string) (*models.BusinessProfile, error)
	Upsert(profile *models.BusinessProfile) error
}

// BookingRepository is the reservation ledger. CreatePendingHoldIfAvailable
// is the single write path that may claim a slot.
type BookingRepository interface {
	CreatePendingHoldIfAvailable(ctx context.Context, booking *models.Booking, holdFor time.Duration) (*HoldResult, error)
	ConfirmBooking(id, eventID string) error
	FailBooking(id, reason string) error
	// RecoverFailedBooking confirms a booking that failed only because the
	// calendar insert never landed, once a deferred insert finally does.
	RecoverFailedBooking(id, eventID string) error
	CancelBooking(id string) error
	UpdateBookingStatus(id, newStatus string, fields map[string]interface{}) error
	GetByID(id string) (*models.Booking, error)
	GetByIdempotencyKey(businessID, key string) (*models.Booking, error)
	FindOverlappingActive(businessID string, startUTC, endUTC time.Time) ([]models.Booking, error)
	CleanupExpiredHolds(businessID string) (int64, error)
	CountActiveInRange(businessID string, startUTC, endUTC time.Time) (int64, error)
}

// GoogleTokenRepository defines the interface for stored calendar credentials
type GoogleTokenRepository interface {
	Get(businessID string) (*models.GoogleToken, error)
	Upsert(token *models.GoogleToken) error
	// SaveRefreshed persists a refreshed access token. The ciphertext triple
	// is only written when Google rotated the refresh token as well.
	SaveRefreshed(businessID, accessToken string, expiry time.Time, ciphertext, iv, tag string) error
	Delete(businessID string) error
}

// OAuthFlowRepository is the single-use PKCE flow ledger.
type OAuthFlowRepository interface {
	Create(flow *models.OAuthFlow) error
	// Consume atomically deletes the flow by nonce and returns it; a second
	// consume of the same nonce returns nil.
	Consume(nonce string) (*models.OAuthFlow, error)
	DeleteExpired(now time.Time) (int64, error)
}

// RetryTaskRepository is the durable outbox for deferred side effects.
type RetryTaskRepository interface {
	Enqueue(task *models.RetryTask) error
	GetDue(now time.Time, limit int) ([]models.RetryTask, error)
	MarkSucceeded(id uint, attemptCount int) error
	MarkFailed(id uint, attemptCount int, lastError string) error
	Reschedule(id uint, attemptCount int, lastError string, nextAttemptAt time.Time) error
	GetByID(id uint) (*models.RetryTask, error)
}

// SmsLogRepository defines the interface for outbound SMS records
type SmsLogRepository interface {
	Create(log *models.SmsLog) error
	Update(log *models.SmsLog) error
	ExistsByDedupeKey(key string) (bool, error)
	ListByBooking(bookingID string) ([]models.SmsLog, error)
}

// CallLogRepository defines the interface for voice call records
type CallLogRepository interface {
	Create(log *models.CallLog) error
	GetBySID(callSID string) (*models.CallLog, error)
	UpdateStatusBySID(callSID, status string) error
	ListByBusiness(businessID string, offset, limit int) ([]models.CallLog, error)
}

// EmergencyLogRepository defines the interface for escalation attempts
type EmergencyLogRepository interface {
	Create(log *models.EmergencyLog) error
	ListByBooking(bookingID string) ([]models.EmergencyLog, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Business        BusinessRepository
	BusinessProfile BusinessProfileRepository
	Booking         BookingRepository
	GoogleToken     GoogleTokenRepository
	OAuthFlow       OAuthFlowRepository
	RetryTask       RetryTaskRepository
	SmsLog          SmsLogRepository
	CallLog         CallLogRepository
	EmergencyLog    EmergencyLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Business:        NewBusinessRepository(db),
		BusinessProfile: NewBusinessProfileRepository(db),
		Booking:         NewBookingRepository(db),
		GoogleToken:     NewGoogleTokenRepository(db),
		OAuthFlow:       NewOAuthFlowRepository(db),
		RetryTask:       NewRetryTaskRepository(db),
		SmsLog:          NewSmsLogRepository(db),
		CallLog:         NewCallLogRepository(db),
		EmergencyLog:    NewEmergencyLogRepository(db),
	}
}
