package booking

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/availability"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/gcal"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	metrics "github.com/ManuelReschke/SlotFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
	"github.com/ManuelReschke/SlotFox/internal/pkg/tokenvault"
)

// Stable error codes surfaced in booking responses.
const (
	CodeInvalidTimeWindow = "INVALID_BOOKING_TIME_WINDOW"
	CodeSlotTaken         = repository.ReasonSlotTaken
	CodeBadTransition     = "INVALID_STATUS_TRANSITION"

	ReasonConfirmFailed = "CONFIRM_WRITE_FAILED"
)

// Client-facing messages. 5xx bodies stay generic; the concrete cause goes to
// the booking row's failure_reason and the logs.
const (
	msgInvalidBody       = "Invalid request body"
	msgBusinessNotFound  = "Business not found"
	msgBookingNotFound   = "Booking not found"
	msgCalendarNotLinked = "Google Calendar is not connected"
	msgCalendarDown      = "Calendar service unavailable"
	msgInternalError     = "Internal error"
)

// How far the recovery lookup pads around the booked window, and how close a
// found event must sit to the expected times to count as ours.
const (
	recoveryPadFloorMin = 60
	recoveryTolerance   = 2 * time.Minute
)

// intentGrace delays the first worker attempt on a freshly enqueued side
// effect so the inline send can settle the task before the worker touches it.
const intentGrace = 30 * time.Second

// Result is an HTTP-shaped outcome: the orchestrator owns the full response
// contract so controllers stay thin and scenario tests skip the transport.
type Result struct {
	Status int
	Body   map[string]interface{}
}

// CalendarFactory builds a per-tenant calendar client. Production wires
// GoogleCalendars; tests substitute fakes.
type CalendarFactory func(ctx context.Context, businessID string) (gcal.Client, error)

// GoogleCalendars returns the production factory backed by stored OAuth
// tokens and the token vault.
func GoogleCalendars(tokens repository.GoogleTokenRepository, vault *tokenvault.Vault) CalendarFactory {
	return func(ctx context.Context, businessID string) (gcal.Client, error) {
		return gcal.NewForBusiness(ctx, businessID, tokens, vault)
	}
}

// Service is the booking orchestrator. It owns the request pipeline from raw
// input to confirmed appointment: validation, idempotent replay, calendar
// revalidation, the pending hold, the event insert and the confirm write,
// plus the fire-and-forget notification fan-out.
type Service struct {
	repos      *repository.Repositories
	calendars  CalendarFactory
	dispatcher *notify.Dispatcher
	holdFor    time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewService wires the orchestrator. BOOKING_HOLD_MINUTES bounds how long a
// pending hold blocks its slot before the sweeper reclaims it.
func NewService(repos *repository.Repositories, calendars CalendarFactory, dispatcher *notify.Dispatcher) *Service {
	holdMinutes := env.GetEnvInt("BOOKING_HOLD_MINUTES", 5)
	if holdMinutes <= 0 {
		holdMinutes = 5
	}
	return &Service{
		repos:      repos,
		calendars:  calendars,
		dispatcher: dispatcher,
		holdFor:    time.Duration(holdMinutes) * time.Minute,
		now:        time.Now,
	}
}

// Drain waits for in-flight dispatch goroutines. Called on shutdown so a
// confirmation SMS is not lost to process exit.
func (s *Service) Drain() {
	s.wg.Wait()
}

// CreateBooking runs the full booking pipeline. Every return before the hold
// leaves no state behind; every error after the hold fails the booking row so
// no pending hold outlives its request.
func (s *Service) CreateBooking(ctx context.Context, req *Request) Result {
	v, rej := s.validate(req)
	if rej != nil {
		return *rej
	}
	log := logging.WithBooking(req.RequestID, v.profile.BusinessID, "")

	if _, err := s.repos.Booking.CleanupExpiredHolds(v.profile.BusinessID); err != nil {
		log.WithError(err).Warn("expired hold sweep failed")
	}

	// Same request already active: replay instead of double-booking.
	existing, err := s.repos.Booking.GetByIdempotencyKey(v.profile.BusinessID, v.idemKey)
	if err != nil {
		log.WithError(err).Error("idempotency lookup failed")
		return internalError()
	}
	if existing != nil {
		return replayResult(existing)
	}

	// Credential preflight before any write: a tenant without a linked
	// calendar cannot take bookings at all.
	client, err := s.calendars(ctx, v.profile.BusinessID)
	if err != nil {
		if gcal.Classify(err) == gcal.ClassNoCredential {
			return fail(http.StatusForbidden, msgCalendarNotLinked)
		}
		log.WithError(err).Error("calendar client setup failed")
		return internalError()
	}

	// Revalidate against the live calendar before holding the slot. The
	// ledger remains the authority; this catches events booked outside us.
	busy, err := client.FreeBusy(ctx, v.startUTC, v.endUTC)
	if err != nil {
		log.WithError(err).Error("freebusy revalidation failed")
		return fail(http.StatusServiceUnavailable, msgCalendarDown)
	}
	for _, iv := range busy {
		if availability.Overlaps(iv.Start, iv.End, v.startUTC, v.endUTC) {
			return fail(http.StatusConflict, CodeSlotTaken)
		}
	}

	// Tenant day capacity, counted over the local calendar day.
	if cap := v.profile.MaxDailyJobs; cap != nil && *cap > 0 {
		dayStart := time.Date(v.startLocal.Year(), v.startLocal.Month(), v.startLocal.Day(), 0, 0, 0, 0, v.loc)
		dayEnd := dayStart.AddDate(0, 0, 1)
		n, cerr := s.repos.Booking.CountActiveInRange(v.profile.BusinessID, dayStart.UTC(), dayEnd.UTC())
		if cerr != nil {
			log.WithError(cerr).Warn("daily capacity count failed")
		} else if n >= int64(*cap) {
			return fail(http.StatusConflict, CodeSlotTaken)
		}
	}

	booking := buildBooking(req, v)
	hold, err := s.repos.Booking.CreatePendingHoldIfAvailable(ctx, booking, s.holdFor)
	if err != nil {
		log.WithError(err).Error("pending hold failed")
		return internalError()
	}
	if !hold.OK {
		if hold.Reason == repository.ReasonIdempotentReplay {
			// Lost the insert race to an identical request; answer with
			// whatever that request produced.
			if winner, lerr := s.repos.Booking.GetByIdempotencyKey(v.profile.BusinessID, v.idemKey); lerr == nil && winner != nil {
				return replayResult(winner)
			}
		}
		return fail(http.StatusConflict, CodeSlotTaken)
	}

	log = logging.WithBooking(req.RequestID, booking.BusinessID, booking.ID)
	log.WithFields(logrus.Fields{
		"slot_key":     booking.SlotKey,
		"is_emergency": booking.IsEmergency,
	}).Info("pending hold created")

	eventID, err := s.insertEventWithRecovery(ctx, client, booking, v, log)
	if err != nil {
		log.WithError(err).Error("calendar event insert failed")
		if gcal.Retryable(err) {
			s.enqueueEventRecovery(booking, req.RequestID, log)
		}
		return s.failWith(booking.ID, repository.ReasonEventInsertFailed, log)
	}

	if err := s.repos.Booking.ConfirmBooking(booking.ID, eventID); err != nil {
		log.WithError(err).Error("confirm write failed")
		return s.failWith(booking.ID, ReasonConfirmFailed, log)
	}
	booking.Status = models.BOOKING_STATUS_CONFIRMED
	booking.GCalEventID = &eventID

	escalated := s.dispatch(booking, v.profile, req.RequestID)
	_ = metrics.AddBookingConfirmed(booking.BusinessID)

	log.WithField("gcal_event_id", eventID).Info("booking confirmed")
	return Result{Status: http.StatusOK, Body: map[string]interface{}{
		"ok":                 true,
		"bookingId":          booking.ID,
		"status":             booking.Status,
		"gcalEventId":        eventID,
		"startUtc":           booking.StartUTC.UTC().Format(time.RFC3339),
		"endUtc":             booking.EndUTC.UTC().Format(time.RFC3339),
		"isEmergency":        booking.IsEmergency,
		"emergencyEscalated": escalated,
	}}
}

// CancelBooking moves an active booking to cancelled and removes its calendar
// event, deferring the removal to the outbox when the live delete fails.
func (s *Service) CancelBooking(ctx context.Context, bookingID, requestID string) Result {
	b, err := s.repos.Booking.GetByID(bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(http.StatusNotFound, msgBookingNotFound)
		}
		return internalError()
	}
	log := logging.WithBooking(requestID, b.BusinessID, b.ID)

	if err := s.repos.Booking.CancelBooking(b.ID); err != nil {
		if errors.Is(err, repository.ErrInvalidStatusTransition) {
			return fail(http.StatusConflict, CodeBadTransition)
		}
		log.WithError(err).Error("cancel write failed")
		return internalError()
	}

	if b.GCalEventID != nil && *b.GCalEventID != "" {
		eventID := *b.GCalEventID
		deleted := false
		if client, cerr := s.calendars(ctx, b.BusinessID); cerr == nil {
			if derr := client.DeleteEvent(ctx, eventID); derr == nil {
				deleted = true
			} else {
				log.WithError(derr).Warn("live event delete failed")
			}
		} else {
			log.WithError(cerr).Warn("calendar client unavailable for delete")
		}
		if !deleted {
			s.enqueueEventDelete(b, eventID, requestID, log)
		}
	}

	_ = metrics.AddBookingCancelled(b.BusinessID)
	log.Info("booking cancelled")
	return Result{Status: http.StatusOK, Body: map[string]interface{}{
		"ok":        true,
		"bookingId": b.ID,
		"status":    models.BOOKING_STATUS_CANCELLED,
	}}
}

// GetBooking answers a status poll. Callers who got a 202 replay or a 500
// after the hold use this to learn how the row ended up.
func (s *Service) GetBooking(bookingID string) Result {
	b, err := s.repos.Booking.GetByID(bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(http.StatusNotFound, msgBookingNotFound)
		}
		return internalError()
	}

	body := map[string]interface{}{
		"ok":          true,
		"bookingId":   b.ID,
		"businessId":  b.BusinessID,
		"status":      b.Status,
		"startUtc":    b.StartUTC.UTC().Format(time.RFC3339),
		"endUtc":      b.EndUTC.UTC().Format(time.RFC3339),
		"isEmergency": b.IsEmergency,
		"createdAt":   b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.GCalEventID != nil && *b.GCalEventID != "" {
		body["gcalEventId"] = *b.GCalEventID
	}
	if b.FailureReason != nil && *b.FailureReason != "" {
		body["failureReason"] = *b.FailureReason
	}
	return Result{Status: http.StatusOK, Body: body}
}

// EventInputFor builds the calendar payload for a ledger row. The retry
// worker uses it too, so a deferred insert produces the same event the
// inline path would have.
func EventInputFor(b *models.Booking, timezone string) gcal.EventInput {
	return gcal.EventInput{
		Summary:        b.JobSummary,
		Description:    eventDescription(b),
		Start:          b.StartUTC,
		End:            b.EndUTC,
		Timezone:       timezone,
		IdempotencyKey: b.IdempotencyKey,
	}
}

// insertEventWithRecovery inserts the calendar event with one retry, checking
// in between whether a previous attempt landed but lost its response. Without
// the lookup a timed-out insert would duplicate the event on retry.
func (s *Service) insertEventWithRecovery(ctx context.Context, client gcal.Client, b *models.Booking, v *validated, log *logrus.Entry) (string, error) {
	input := EventInputFor(b, v.loc.String())

	eventID, err := client.InsertEvent(ctx, input)
	if err == nil {
		return eventID, nil
	}
	if !gcal.Retryable(err) {
		return "", err
	}
	log.WithError(err).Warn("event insert failed, checking for orphaned event")

	if id := FindOwnedEvent(ctx, client, b, v.loc); id != "" {
		log.WithField("gcal_event_id", id).Info("recovered orphaned calendar event")
		return id, nil
	}

	return client.InsertEvent(ctx, input)
}

// FindOwnedEvent looks for an event carrying the booking's idempotency key
// inside a padded window around the booked slot, and returns its id or "".
// Timed events must match start and end within a small tolerance; all-day
// events match on the local date.
func FindOwnedEvent(ctx context.Context, client gcal.Client, b *models.Booking, loc *time.Location) string {
	durationMin := int(b.EndUTC.Sub(b.StartUTC) / time.Minute)
	pad := time.Duration(max(recoveryPadFloorMin, durationMin+60)) * time.Minute
	events, err := client.ListEventsByIdempotencyKey(ctx, b.StartUTC.Add(-pad), b.EndUTC.Add(pad), b.IdempotencyKey)
	if err != nil || len(events) == 0 {
		return ""
	}

	localDay := b.StartUTC.In(loc).Format("2006-01-02")
	for _, ev := range events {
		if ev.StartDate != "" {
			if ev.StartDate == localDay {
				return ev.ID
			}
			continue
		}
		if absDuration(ev.Start.Sub(b.StartUTC)) <= recoveryTolerance &&
			absDuration(ev.End.Sub(b.EndUTC)) <= recoveryTolerance {
			return ev.ID
		}
	}
	return ""
}

// failWith marks the booking failed and returns the generic 500. The fail
// transition itself failing is logged but cannot change the response.
func (s *Service) failWith(bookingID, reason string, log *logrus.Entry) Result {
	if err := s.repos.Booking.FailBooking(bookingID, reason); err != nil {
		log.WithError(err).Error("fail transition failed")
	}
	return internalError()
}

// replayResult answers an idempotent replay from the stored row: confirmed
// rows return their original payload, a live pending hold signals the caller
// to poll.
func replayResult(b *models.Booking) Result {
	if b.Status == models.BOOKING_STATUS_CONFIRMED {
		eventID := ""
		if b.GCalEventID != nil {
			eventID = *b.GCalEventID
		}
		return Result{Status: http.StatusOK, Body: map[string]interface{}{
			"ok":          true,
			"bookingId":   b.ID,
			"status":      b.Status,
			"gcalEventId": eventID,
			"startUtc":    b.StartUTC.UTC().Format(time.RFC3339),
			"endUtc":      b.EndUTC.UTC().Format(time.RFC3339),
			"isEmergency": b.IsEmergency,
		}}
	}
	return Result{Status: http.StatusAccepted, Body: map[string]interface{}{
		"ok":        true,
		"bookingId": b.ID,
		"status":    b.Status,
	}}
}

// InvalidBody is the 400 returned for an undecodable request body.
func InvalidBody() Result {
	return fail(http.StatusBadRequest, msgInvalidBody)
}

func fail(status int, message string) Result {
	return Result{Status: status, Body: map[string]interface{}{
		"ok":    false,
		"error": message,
	}}
}

func failWithDetails(status int, message string, details []map[string]interface{}) Result {
	return Result{Status: status, Body: map[string]interface{}{
		"ok":      false,
		"error":   message,
		"details": details,
	}}
}

func internalError() Result {
	return fail(http.StatusInternalServerError, msgInternalError)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
