package controllers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/availability"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	metrics "github.com/ManuelReschke/SlotFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
)

var (
	webhookDispatcher *notify.Dispatcher
	serviceReady      func() bool
	serviceDraining   func() bool
)

// InitializeWebhookController wires the dispatcher and the process lifecycle
// probes the voice-call reducer reads.
func InitializeWebhookController(dispatcher *notify.Dispatcher, ready, draining func() bool) {
	webhookDispatcher = dispatcher
	serviceReady = ready
	serviceDraining = draining
}

// HandleTwilioCallStatus serves POST /webhooks/twilio/call-status. It records
// the call, classifies it and fires the missed-call/unavailable auto-SMS the
// reducer asks for. The CallSid doubles as the dedupe request id, so provider
// webhook retries never double-text a caller.
func HandleTwilioCallStatus(c *fiber.Ctx) error {
	// With provider credentials configured, every delivery must carry a valid
	// signature. Without them (dev) the endpoint stays open.
	if token := env.GetEnv("TWILIO_AUTH_TOKEN", ""); token != "" {
		params := map[string]string{}
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			params[string(k)] = string(v)
		})
		url := c.BaseURL() + c.OriginalURL()
		if !notify.VerifyTwilioSignature(token, url, params, c.Get("X-Twilio-Signature")) {
			return jsonError(c, fiber.StatusForbidden, "Invalid webhook signature")
		}
	}

	callSID := c.FormValue("CallSid")
	if callSID == "" {
		return jsonError(c, fiber.StatusBadRequest, "Missing CallSid")
	}
	businessID := strings.TrimSpace(c.Query("business_id"))
	callStatus := c.FormValue("CallStatus")
	from := c.FormValue("From")

	log := logging.WithRequest(callSID).WithFields(logrus.Fields{
		"business_id": businessID,
		"call_status": callStatus,
	})

	durationSec, _ := strconv.Atoi(c.FormValue("CallDuration"))
	direction := c.FormValue("Direction")
	if direction == "" {
		direction = models.CALL_DIRECTION_INBOUND
	}

	factory := repository.GetGlobalFactory()
	calls := factory.GetCallLogRepository()
	normalized := models.NormalizeCallStatus(callStatus)

	existing, err := calls.GetBySID(callSID)
	if err != nil {
		log.WithError(err).Error("call log lookup failed")
		return internalError(c)
	}
	if existing == nil {
		row := &models.CallLog{
			BusinessID:   businessID,
			CallSID:      callSID,
			FromNumber:   from,
			ToNumber:     c.FormValue("To"),
			Direction:    direction,
			Status:       normalized,
			DurationSec:  durationSec,
			RecordingURL: c.FormValue("RecordingUrl"),
		}
		if cerr := calls.Create(row); cerr != nil {
			log.WithError(cerr).Error("call log create failed")
			return internalError(c)
		}
	} else if uerr := calls.UpdateStatusBySID(callSID, normalized); uerr != nil {
		log.WithError(uerr).Error("call log update failed")
		return internalError(c)
	}
	if existing == nil {
		_ = metrics.AddCallReceived(businessID)
	}

	callCtx := notify.CallContext{
		BusinessID:   businessID,
		CallStatus:   callStatus,
		ShuttingDown: serviceDraining != nil && serviceDraining(),
		Ready:        serviceReady == nil || serviceReady(),
	}

	businessName := ""
	if businessID != "" {
		if eff, perr := factory.GetBusinessRepository().GetEffectiveProfile(businessID); perr == nil {
			businessName = eff.Name
			callCtx.AutoSMSEnabled = eff.AutoSMSEnabled
			if loc, lerr := time.LoadLocation(eff.Timezone); lerr == nil {
				callCtx.AfterHours = availability.IsOutsideBusinessHours(time.Now().In(loc), eff.WorkingHours)
			}
		} else {
			log.WithError(perr).Warn("no effective profile for inbound call")
		}
	}

	decision := notify.DecideVoiceCall(callCtx)
	log = log.WithField("action", decision.Action)

	if webhookDispatcher != nil && from != "" {
		switch decision.Action {
		case notify.ActionMissedCall:
			webhookDispatcher.SendMissedCallSMS(c.UserContext(), businessID, callSID, from, notify.MissedCallBody(businessName))
		case notify.ActionUnavailable:
			webhookDispatcher.SendUnavailableSMS(c.UserContext(), businessID, callSID, from, notify.UnavailableBody(businessName, decision.Reason), decision.Reason)
		case notify.ActionBoth:
			webhookDispatcher.SendMissedCallSMS(c.UserContext(), businessID, callSID, from, notify.MissedCallBody(businessName))
			webhookDispatcher.SendUnavailableSMS(c.UserContext(), businessID, callSID, from, notify.UnavailableBody(businessName, decision.Reason), decision.Reason)
		}
	}

	log.Info("call status processed")
	return c.JSON(fiber.Map{
		"ok":      true,
		"callSid": callSID,
		"status":  normalized,
		"action":  decision.Action,
	})
}
