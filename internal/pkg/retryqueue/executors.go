package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/booking"
	"github.com/ManuelReschke/SlotFox/internal/pkg/gcal"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
)

// permanentError marks a failure that more attempts cannot change; the task
// goes terminal without spending its remaining budget.
type permanentError struct{ error }

func permanent(err error) error { return &permanentError{err} }

func (e *permanentError) Unwrap() error { return e.error }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// execute dispatches one task to its kind executor. The data model names
// more kinds than the worker executes; anything without an executor fails
// terminally so a bad enqueue surfaces on the first tick instead of
// spinning through its attempts.
func (w *Worker) execute(ctx context.Context, task *models.RetryTask, log *logrus.Entry) error {
	switch task.Kind {
	case models.RETRY_KIND_TWILIO_SMS:
		return w.sendSMS(ctx, task, log)
	case models.RETRY_KIND_GCAL_CREATE:
		return w.createEvent(ctx, task, log)
	case models.RETRY_KIND_GCAL_DELETE:
		return w.deleteEvent(ctx, task)
	default:
		return permanent(fmt.Errorf("UNSUPPORTED_KIND: %s", task.Kind))
	}
}

// sendSMS delivers a deferred SMS. LogOnSuccess payloads get their own
// SmsLog row: the deferred send is a separate delivery from whatever inline
// attempt preceded it.
func (w *Worker) sendSMS(ctx context.Context, task *models.RetryTask, log *logrus.Entry) error {
	var p models.SmsRetryPayload
	if err := task.DecodePayload(&p); err != nil {
		return permanent(fmt.Errorf("payload decode: %w", err))
	}
	if p.To == "" {
		return permanent(errors.New("payload has no destination"))
	}

	res := w.dispatcher.SendRaw(ctx, p.To, p.Body)
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "sms send failed"
		}
		return errors.New(msg)
	}

	if p.LogOnSuccess {
		entry := &models.SmsLog{
			BusinessID:        task.BusinessID,
			BookingID:         task.BookingID,
			ToNumber:          p.To,
			Body:              p.Body,
			ProviderMessageID: res.MessageID,
			Kind:              p.Kind,
			Status:            models.SMS_STATUS_SENT,
		}
		if err := w.repos.SmsLog.Create(entry); err != nil {
			log.WithError(err).Warn("[RetryQueue] Could not write sms log for deferred send")
		}
	}
	return nil
}

// createEvent lands a calendar insert the inline path lost to an outage. A
// booking that failed for that reason and still owns its slot resurrects to
// confirmed; a slot rebooked in the meantime wins, and the stray event is
// removed again.
func (w *Worker) createEvent(ctx context.Context, task *models.RetryTask, log *logrus.Entry) error {
	var p models.GCalCreatePayload
	if err := task.DecodePayload(&p); err != nil {
		return permanent(fmt.Errorf("payload decode: %w", err))
	}
	if p.BookingID == "" {
		return permanent(errors.New("payload has no booking id"))
	}

	b, err := w.repos.Booking.GetByID(p.BookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return permanent(fmt.Errorf("booking %s not found", p.BookingID))
	}
	if err != nil {
		return err
	}

	switch b.Status {
	case models.BOOKING_STATUS_CONFIRMED:
		// Another path already landed the event.
		return nil
	case models.BOOKING_STATUS_CANCELLED:
		// Customer moved on; creating the event now would be wrong.
		return nil
	case models.BOOKING_STATUS_FAILED:
		if b.FailureReason == nil || *b.FailureReason != repository.ReasonEventInsertFailed {
			return permanent(fmt.Errorf("booking %s failed for %s, not recoverable", b.ID, failureReasonOf(b)))
		}
	}

	profile, err := w.repos.Business.GetEffectiveProfile(b.BusinessID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return permanent(fmt.Errorf("business %s not found", b.BusinessID))
	}
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		loc = time.UTC
	}

	client, err := w.calendars(ctx, b.BusinessID)
	if err != nil {
		return classifyCalendarErr(err)
	}

	// An earlier attempt may have landed without a response; adopt it
	// instead of duplicating the event.
	eventID := booking.FindOwnedEvent(ctx, client, b, loc)
	if eventID == "" {
		eventID, err = client.InsertEvent(ctx, booking.EventInputFor(b, profile.Timezone))
		if err != nil {
			return classifyCalendarErr(err)
		}
	}

	switch b.Status {
	case models.BOOKING_STATUS_PENDING:
		if err := w.repos.Booking.ConfirmBooking(b.ID, eventID); err != nil {
			return err
		}
	case models.BOOKING_STATUS_FAILED:
		if err := w.repos.Booking.RecoverFailedBooking(b.ID, eventID); err != nil {
			if errors.Is(err, repository.ErrRecoveryConflict) {
				if delErr := client.DeleteEvent(ctx, eventID); delErr != nil {
					log.WithError(delErr).WithField("gcal_event_id", eventID).Warn("[RetryQueue] Could not remove stray event after lost recovery")
				}
				return permanent(err)
			}
			return err
		}
	}
	log.WithField("gcal_event_id", eventID).Info("[RetryQueue] Deferred calendar insert landed")

	// The inline dispatch never ran for this booking, so the confirmation
	// goes through the outbox now.
	b.Status = models.BOOKING_STATUS_CONFIRMED
	b.GCalEventID = &eventID
	w.enqueueConfirmation(b, profile, p.RequestID, log)
	return nil
}

// deleteEvent removes a calendar event left behind by a cancellation whose
// live delete failed.
func (w *Worker) deleteEvent(ctx context.Context, task *models.RetryTask) error {
	var p models.GCalDeletePayload
	if err := task.DecodePayload(&p); err != nil {
		return permanent(fmt.Errorf("payload decode: %w", err))
	}
	if p.EventID == "" {
		return permanent(errors.New("payload has no event id"))
	}

	client, err := w.calendars(ctx, task.BusinessID)
	if err != nil {
		return classifyCalendarErr(err)
	}
	if err := client.DeleteEvent(ctx, p.EventID); err != nil {
		return classifyCalendarErr(err)
	}
	return nil
}

// enqueueConfirmation queues the customer SMS for a booking confirmed by the
// worker itself, due immediately.
func (w *Worker) enqueueConfirmation(b *models.Booking, profile *models.EffectiveProfile, requestID string, log *logrus.Entry) {
	if b.CustomerPhone == "" {
		return
	}
	payload, err := models.MarshalPayload(models.SmsRetryPayload{
		To:           b.CustomerPhone,
		Body:         notify.ConfirmationBody(b, profile.Timezone),
		Kind:         models.SMS_KIND_CONFIRMATION,
		RequestID:    requestID,
		LogOnSuccess: true,
	})
	if err != nil {
		log.WithError(err).Warn("[RetryQueue] Confirmation payload encode failed")
		return
	}
	task := &models.RetryTask{
		BusinessID:    b.BusinessID,
		BookingID:     &b.ID,
		Kind:          models.RETRY_KIND_TWILIO_SMS,
		Payload:       payload,
		MaxAttempts:   models.RETRY_DEFAULT_MAX_ATTEMPTS,
		NextAttemptAt: w.now(),
		Status:        models.RETRY_STATUS_PENDING,
	}
	if err := w.repos.RetryTask.Enqueue(task); err != nil {
		log.WithError(err).Warn("[RetryQueue] Confirmation enqueue failed")
	}
}

// classifyCalendarErr keeps transient calendar faults retryable and makes
// everything else terminal: missing OAuth config, a disconnected business
// and 4xx responses do not heal within the attempt budget.
func classifyCalendarErr(err error) error {
	if gcal.Retryable(err) {
		return err
	}
	return permanent(err)
}

func failureReasonOf(b *models.Booking) string {
	if b.FailureReason == nil {
		return "unknown reason"
	}
	return *b.FailureReason
}

// requestIDOf recovers the correlation id every payload kind carries.
func requestIDOf(task *models.RetryTask) string {
	var p struct {
		RequestID string `json:"request_id"`
	}
	if err := task.DecodePayload(&p); err != nil {
		return ""
	}
	return p.RequestID
}
