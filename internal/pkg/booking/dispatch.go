package booking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
)

// dispatch fans out post-confirmation side effects without blocking the
// response. The SMS intent lands in the outbox before the inline attempt, so
// a crash between confirm and send degrades to eventual delivery instead of
// silence. Returns whether emergency escalation was dispatched.
func (s *Service) dispatch(b *models.Booking, profile *models.EffectiveProfile, requestID string) bool {
	techPhone := profile.EmergencySMSPhone
	if techPhone == "" {
		techPhone = env.GetEnv("EMERGENCY_PHONE", "")
	}
	escalate := b.IsEmergency && profile.EmergencyEnabled && techPhone != ""

	// Copies: the goroutine must not share rows with the response path.
	bCopy := *b
	profCopy := *profile
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Deliberately not the request context: the caller hanging up must
		// not cancel their own confirmation.
		ctx := context.Background()
		s.sendConfirmation(ctx, &bCopy, &profCopy, requestID)
		if escalate {
			s.dispatcher.HandleEmergency(ctx, &bCopy, &profCopy, requestID)
		}
	}()
	return escalate
}

// sendConfirmation writes the durable intent and the queued log row, attempts
// the inline send, then settles both. A failed inline send leaves the outbox
// task pending for the retry worker.
func (s *Service) sendConfirmation(ctx context.Context, b *models.Booking, profile *models.EffectiveProfile, requestID string) {
	log := logging.WithBooking(requestID, b.BusinessID, b.ID)
	if b.CustomerPhone == "" {
		log.Info("confirmation sms skipped, no customer phone")
		return
	}
	body := notify.ConfirmationBody(b, profile.Timezone)

	task := s.enqueueSmsIntent(b, body, requestID, log)

	entry := &models.SmsLog{
		BusinessID: b.BusinessID,
		BookingID:  &b.ID,
		ToNumber:   b.CustomerPhone,
		Body:       body,
		Kind:       models.SMS_KIND_CONFIRMATION,
		Status:     models.SMS_STATUS_QUEUED,
	}
	if err := s.repos.SmsLog.Create(entry); err != nil {
		log.WithError(err).Warn("confirmation sms log write failed")
		entry = nil
	}

	res := s.dispatcher.SendRaw(ctx, b.CustomerPhone, body)

	if entry != nil {
		if res.OK {
			entry.Status = models.SMS_STATUS_SENT
			entry.ProviderMessageID = res.MessageID
		} else {
			entry.Status = models.SMS_STATUS_FAILED
			entry.ErrorMessage = res.Error
		}
		if err := s.repos.SmsLog.Update(entry); err != nil {
			log.WithError(err).Warn("confirmation sms log update failed")
		}
	}

	if res.OK {
		if task != nil {
			if err := s.repos.RetryTask.MarkSucceeded(task.ID, 1); err != nil {
				log.WithError(err).Warn("sms intent settle failed")
			}
		}
		log.Info("confirmation sms sent")
		return
	}
	log.WithField("send_error", res.Error).Warn("confirmation sms failed, retry task pending")
}

// enqueueSmsIntent records the confirmation send in the outbox. The first
// worker attempt is deferred by intentGrace so the inline send can settle the
// task first.
func (s *Service) enqueueSmsIntent(b *models.Booking, body, requestID string, log *logrus.Entry) *models.RetryTask {
	payload, err := models.MarshalPayload(models.SmsRetryPayload{
		To:        b.CustomerPhone,
		Body:      body,
		Kind:      models.SMS_KIND_CONFIRMATION,
		RequestID: requestID,
		// The inline attempt already wrote its log row; a worker send is a
		// separate delivery and gets its own.
		LogOnSuccess: true,
	})
	if err != nil {
		log.WithError(err).Warn("sms intent payload encode failed")
		return nil
	}
	task := &models.RetryTask{
		BusinessID:    b.BusinessID,
		BookingID:     &b.ID,
		Kind:          models.RETRY_KIND_TWILIO_SMS,
		Payload:       payload,
		MaxAttempts:   models.RETRY_DEFAULT_MAX_ATTEMPTS,
		NextAttemptAt: time.Now().UTC().Add(intentGrace),
		Status:        models.RETRY_STATUS_PENDING,
	}
	if err := s.repos.RetryTask.Enqueue(task); err != nil {
		log.WithError(err).Warn("sms intent enqueue failed")
		return nil
	}
	return task
}

// enqueueEventRecovery leaves a gcal_create task behind when the inline event
// insert exhausted its attempts on a transient fault. If the worker lands the
// event while the slot is still ours, the booking resurrects.
func (s *Service) enqueueEventRecovery(b *models.Booking, requestID string, log *logrus.Entry) {
	payload, err := models.MarshalPayload(models.GCalCreatePayload{
		BookingID: b.ID,
		RequestID: requestID,
	})
	if err != nil {
		log.WithError(err).Warn("event recovery payload encode failed")
		return
	}
	task := &models.RetryTask{
		BusinessID:    b.BusinessID,
		BookingID:     &b.ID,
		Kind:          models.RETRY_KIND_GCAL_CREATE,
		Payload:       payload,
		MaxAttempts:   models.RETRY_DEFAULT_MAX_ATTEMPTS,
		NextAttemptAt: time.Now().UTC().Add(intentGrace),
		Status:        models.RETRY_STATUS_PENDING,
	}
	if err := s.repos.RetryTask.Enqueue(task); err != nil {
		log.WithError(err).Warn("event recovery enqueue failed")
	}
}

// enqueueEventDelete defers a calendar event removal to the outbox after a
// failed live delete during cancellation.
func (s *Service) enqueueEventDelete(b *models.Booking, eventID, requestID string, log *logrus.Entry) {
	payload, err := models.MarshalPayload(models.GCalDeletePayload{
		EventID:   eventID,
		RequestID: requestID,
	})
	if err != nil {
		log.WithError(err).Warn("event delete payload encode failed")
		return
	}
	task := &models.RetryTask{
		BusinessID:    b.BusinessID,
		BookingID:     &b.ID,
		Kind:          models.RETRY_KIND_GCAL_DELETE,
		Payload:       payload,
		MaxAttempts:   models.RETRY_DEFAULT_MAX_ATTEMPTS,
		NextAttemptAt: time.Now().UTC(),
		Status:        models.RETRY_STATUS_PENDING,
	}
	if err := s.repos.RetryTask.Enqueue(task); err != nil {
		log.WithError(err).Warn("event delete enqueue failed")
	}
}
