package notify

import (
	"github.com/ManuelReschke/SlotFox/app/models"
)

// Actions an inbound call can resolve to.
const (
	ActionNoSMS       = "NO_SMS"
	ActionMissedCall  = "MISSED_CALL"
	ActionUnavailable = "UNAVAILABLE"
	ActionBoth        = "BOTH"
)

// Unavailability reasons, highest priority first.
const (
	ReasonShuttingDown = "shutting_down"
	ReasonNotReady     = "not_ready"
	ReasonAfterHours   = "after_hours"
)

// CallContext is everything the voice-call reducer needs to classify an
// inbound call after the provider reports its final status.
type CallContext struct {
	BusinessID     string
	CallStatus     string
	AutoSMSEnabled bool
	ShuttingDown   bool
	Ready          bool
	AfterHours     bool
}

// Decision is the reducer outcome: which auto-SMS (if any) to send and why.
type Decision struct {
	Action string
	Reason string
}

// DecideVoiceCall classifies an inbound call context. A missed-call SMS fires
// when the normalized status is failed and the call was matched to a tenant;
// an unavailable SMS fires when the tenant has auto-SMS enabled and the
// service cannot take the call right now.
func DecideVoiceCall(ctx CallContext) Decision {
	missed := models.NormalizeCallStatus(ctx.CallStatus) == models.CALL_STATUS_FAILED &&
		ctx.BusinessID != ""

	reason := ""
	if ctx.BusinessID != "" && ctx.AutoSMSEnabled {
		switch {
		case ctx.ShuttingDown:
			reason = ReasonShuttingDown
		case !ctx.Ready:
			reason = ReasonNotReady
		case ctx.AfterHours:
			reason = ReasonAfterHours
		}
	}
	unavailable := reason != ""

	switch {
	case missed && unavailable:
		return Decision{Action: ActionBoth, Reason: reason}
	case missed:
		return Decision{Action: ActionMissedCall}
	case unavailable:
		return Decision{Action: ActionUnavailable, Reason: reason}
	default:
		return Decision{Action: ActionNoSMS}
	}
}
