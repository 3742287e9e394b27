package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	metrics "github.com/ManuelReschke/SlotFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SlotFox/internal/pkg/timed"
)

// sendTimeout bounds every provider call made by the dispatcher.
const sendTimeout = 10 * time.Second

// SendResult reports one dispatch attempt. Skipped means nothing was sent on
// purpose (wrong status, missing phone, duplicate dedupe key).
type SendResult struct {
	OK        bool
	Skipped   bool
	MessageID string
	Error     string
}

// Dispatcher owns SMS/voice sending plus the append-only logs around it.
type Dispatcher struct {
	provider ProviderClient
	smsLogs  repository.SmsLogRepository
	emLogs   repository.EmergencyLogRepository
}

// NewDispatcher wires the dispatcher with its provider and log repositories.
func NewDispatcher(provider ProviderClient, smsLogs repository.SmsLogRepository, emLogs repository.EmergencyLogRepository) *Dispatcher {
	return &Dispatcher{provider: provider, smsLogs: smsLogs, emLogs: emLogs}
}

// ConfirmationBody formats the customer-facing confirmation text.
func ConfirmationBody(booking *models.Booking, timezone string) string {
	when := booking.StartUTC
	if loc, err := time.LoadLocation(timezone); err == nil {
		when = when.In(loc)
	}
	name := booking.CustomerName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s, your HVAC appointment is confirmed for %s. Confirmation ID: %s",
		name, when.Format("Monday, Jan 2 at 3:04 PM"), booking.ID)
}

// MissedCallBody formats the auto-reply for a call nobody answered.
func MissedCallBody(businessName string) string {
	name := businessName
	if name == "" {
		name = "us"
	}
	return fmt.Sprintf("Sorry we missed your call! Text back what you need and %s will get right back to you.", name)
}

// UnavailableBody formats the auto-reply for a call the business could not
// take, worded by the reducer reason.
func UnavailableBody(businessName, reason string) string {
	name := businessName
	if name == "" {
		name = "We"
	}
	switch reason {
	case ReasonAfterHours:
		return fmt.Sprintf("Thanks for calling! %s is closed right now. Text back what you need and we will follow up first thing.", name)
	default:
		return fmt.Sprintf("Thanks for calling! %s cannot take your call right now. Text back what you need and we will follow up shortly.", name)
	}
}

// SendBookingConfirmation texts the customer after a booking reaches
// confirmed. Non-confirmed bookings and bookings without a phone number are
// skipped, never errors.
func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, booking *models.Booking, timezone string) SendResult {
	if booking.Status != models.BOOKING_STATUS_CONFIRMED || booking.CustomerPhone == "" {
		return SendResult{Skipped: true}
	}

	body := ConfirmationBody(booking, timezone)
	res := d.send(ctx, booking.CustomerPhone, body)
	if res.OK {
		_ = metrics.AddSMSSent(booking.BusinessID)
	}
	return res
}

// SendRaw sends a prebuilt message, used by the retry worker to replay a
// failed confirmation without reformatting.
func (d *Dispatcher) SendRaw(ctx context.Context, to, body string) SendResult {
	return d.send(ctx, to, body)
}

func (d *Dispatcher) send(ctx context.Context, to, body string) SendResult {
	var messageID string
	err := timed.Run(ctx, "twilio.sms", sendTimeout, func(ctx context.Context) error {
		id, err := d.provider.SendSMS(ctx, to, body)
		messageID = id
		return err
	})
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{OK: true, MessageID: messageID}
}

// HandleEmergency escalates a booking to the technician: SMS with bounded
// retries, optionally a voice call, every attempt logged. Returns whether at
// least one escalation went out. Never blocks booking confirmation.
func (d *Dispatcher) HandleEmergency(ctx context.Context, booking *models.Booking, profile *models.EffectiveProfile, requestID string) bool {
	phone := profile.EmergencySMSPhone
	if phone == "" {
		phone = env.GetEnv("EMERGENCY_PHONE", "")
	}
	if phone == "" {
		log.WithFields(log.Fields{
			"business_id": booking.BusinessID,
			"booking_id":  booking.ID,
		}).Warn("[Notify] Emergency booking but no technician phone configured")
		return false
	}

	body := emergencyBody(booking, profile)
	attempts := profile.EmergencyRetries
	if attempts < 1 {
		attempts = 1
	}

	// Only the first attempt runs through the dedupe key; a skip means this
	// request already escalated and nothing more should fire.
	res := d.SendEmergencyNotify(ctx, booking.BusinessID, requestID, booking.ID, phone, body)
	if res.Skipped {
		return false
	}
	d.logEscalation(booking, phone, models.ESCALATION_TYPE_SMS, res)
	escalated := res.OK

	for i := 1; i < attempts && !escalated; i++ {
		if !sleepCtx(ctx, profile.EmergencyRetryWait) {
			break
		}
		res = d.send(ctx, phone, body)
		d.logEscalation(booking, phone, models.ESCALATION_TYPE_SMS, res)
		escalated = res.OK
	}

	if env.GetEnvBool("AUTO_CALL_ON_EMERGENCY", false) {
		callPhone := profile.EmergencyCallPhone
		if callPhone == "" {
			callPhone = phone
		}
		res := d.placeEmergencyCall(ctx, callPhone, booking)
		d.logEscalation(booking, callPhone, models.ESCALATION_TYPE_CALL, res)
		escalated = escalated || res.OK
	}
	return escalated
}

func (d *Dispatcher) placeEmergencyCall(ctx context.Context, to string, booking *models.Booking) SendResult {
	twiml := fmt.Sprintf("<Response><Say>Emergency service request for booking %s. Please check your messages.</Say></Response>", booking.ID)

	var callSID string
	err := timed.Run(ctx, "twilio.call", sendTimeout, func(ctx context.Context) error {
		sid, err := d.provider.MakeCall(ctx, to, twiml)
		callSID = sid
		return err
	})
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{OK: true, MessageID: callSID}
}

func (d *Dispatcher) logEscalation(booking *models.Booking, phone, escalationType string, res SendResult) {
	status := models.ESCALATION_STATUS_SENT
	if !res.OK {
		status = models.ESCALATION_STATUS_FAILED
	}
	entry := &models.EmergencyLog{
		BusinessID:      booking.BusinessID,
		BookingID:       booking.ID,
		TechnicianPhone: phone,
		EscalationType:  escalationType,
		Status:          status,
		Error:           res.Error,
	}
	if err := d.emLogs.Create(entry); err != nil {
		log.WithError(err).WithField("booking_id", booking.ID).Error("[Notify] Could not write emergency log")
	}
}

func emergencyBody(booking *models.Booking, profile *models.EffectiveProfile) string {
	when := booking.StartUTC
	if loc, err := time.LoadLocation(profile.Timezone); err == nil {
		when = when.In(loc)
	}
	parts := []string{
		fmt.Sprintf("EMERGENCY %s request", booking.ServiceType),
		fmt.Sprintf("%s (%s)", booking.CustomerName, booking.CustomerPhone),
	}
	if booking.CustomerAddress != "" {
		parts = append(parts, booking.CustomerAddress)
	}
	parts = append(parts, fmt.Sprintf("at %s, booking %s", when.Format("Mon Jan 2 15:04"), booking.ID))
	return strings.Join(parts, " - ")
}

// SendAutoSMSToCaller replies to an inbound caller, deduped per request.
func (d *Dispatcher) SendAutoSMSToCaller(ctx context.Context, businessID, requestID, to, body string) SendResult {
	return d.sendDeduped(ctx, businessID, requestID, "", to, body, models.SMS_KIND_AUTO_SMS, "")
}

// SendEmergencyNotify texts the technician, deduped per request.
func (d *Dispatcher) SendEmergencyNotify(ctx context.Context, businessID, requestID, bookingID, to, body string) SendResult {
	return d.sendDeduped(ctx, businessID, requestID, bookingID, to, body, models.SMS_KIND_EMERGENCY_NOTIFY, "")
}

// SendMissedCallSMS texts a caller whose call went unanswered.
func (d *Dispatcher) SendMissedCallSMS(ctx context.Context, businessID, requestID, to, body string) SendResult {
	return d.sendDeduped(ctx, businessID, requestID, "", to, body, models.SMS_KIND_MISSED_CALL, "")
}

// SendUnavailableSMS texts a caller the business could not take; the reducer
// reason becomes part of the dedupe key so distinct reasons are distinct sends.
func (d *Dispatcher) SendUnavailableSMS(ctx context.Context, businessID, requestID, to, body, reason string) SendResult {
	return d.sendDeduped(ctx, businessID, requestID, "", to, body, models.SMS_KIND_UNAVAILABLE, reason)
}

// sendDeduped writes a queued row keyed by the dedupe key, sends, then
// upgrades the row to sent or failed. A prior row with the same key means a
// duplicate dispatch and is skipped.
func (d *Dispatcher) sendDeduped(ctx context.Context, businessID, requestID, bookingID, to, body, kind, reason string) SendResult {
	key := models.MakeSmsDedupeKey(businessID, requestID, kind, reason)

	exists, err := d.smsLogs.ExistsByDedupeKey(key)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	if exists {
		log.WithFields(log.Fields{"dedupe_key": key}).Debug("[Notify] Duplicate dispatch skipped")
		return SendResult{Skipped: true}
	}

	entry := &models.SmsLog{
		BusinessID: businessID,
		ToNumber:   to,
		Body:       body,
		Kind:       kind,
		Status:     models.SMS_STATUS_QUEUED,
		DedupeKey:  &key,
	}
	if bookingID != "" {
		entry.BookingID = &bookingID
	}
	if err := d.smsLogs.Create(entry); err != nil {
		// A unique-key collision here is the race losing side of the exists
		// check above, which is the same duplicate case.
		log.WithError(err).WithField("dedupe_key", key).Debug("[Notify] Dedupe insert lost the race")
		return SendResult{Skipped: true}
	}

	res := d.send(ctx, to, body)
	entry.Status = models.SMS_STATUS_SENT
	entry.ProviderMessageID = res.MessageID
	if res.OK {
		_ = metrics.AddSMSSent(businessID)
	} else {
		entry.Status = models.SMS_STATUS_FAILED
		entry.ErrorMessage = res.Error
	}
	if err := d.smsLogs.Update(entry); err != nil {
		log.WithError(err).WithField("dedupe_key", key).Error("[Notify] Could not finalize sms log")
	}
	return res
}

// sleepCtx waits d or until ctx is done; reports whether the full wait ran.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
