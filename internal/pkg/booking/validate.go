package booking

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/availability"
)

const localLayout = "2006-01-02T15:04:05"

// localLayouts are the accepted startLocal shapes. Offsets are honored when
// present; bare timestamps are read in the request timezone.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// validated carries everything the pipeline derives from a request before any
// state changes: resolved profile, normalized times and the natural keys.
type validated struct {
	profile      *models.EffectiveProfile
	loc          *time.Location
	startLocal   time.Time
	startUTC     time.Time
	endUTC       time.Time
	durationMin  int
	bufferBefore int
	bufferAfter  int
	idemKey      string
	slotKey      string
	isEmergency  bool
}

// validate checks the request against the tenant profile and the booking time
// window. All rejections happen here, before the pipeline writes anything.
func (s *Service) validate(req *Request) (*validated, *Result) {
	var missing []string
	if strings.TrimSpace(req.BusinessID) == "" {
		missing = append(missing, "Missing businessId")
	}
	if strings.TrimSpace(req.StartLocal) == "" {
		missing = append(missing, "Missing startLocal")
	}
	if strings.TrimSpace(req.Timezone) == "" {
		missing = append(missing, "Missing timezone")
	}
	if len(missing) > 0 {
		r := fail(http.StatusBadRequest, strings.Join(missing, ", "))
		return nil, &r
	}

	profile, err := s.repos.Business.GetEffectiveProfile(req.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r := fail(http.StatusNotFound, msgBusinessNotFound)
			return nil, &r
		}
		r := internalError()
		return nil, &r
	}

	var invalid []string

	duration := profile.DefaultDurationMin
	if req.DurationMin != nil {
		duration = *req.DurationMin
	}
	if duration <= 0 || duration > 480 {
		invalid = append(invalid, "Invalid durationMins")
	}

	bufferBefore, bufferAfter := profile.BufferBeforeMin, profile.BufferAfterMin
	if req.BufferMin != nil {
		if *req.BufferMin < 0 || *req.BufferMin > 1440 {
			invalid = append(invalid, "Invalid bufferMins")
		} else {
			bufferBefore, bufferAfter = *req.BufferMin, *req.BufferMin
		}
	}

	loc, locErr := time.LoadLocation(req.Timezone)
	if locErr != nil {
		invalid = append(invalid, "Invalid timezone")
	}

	var startLocal time.Time
	if locErr == nil {
		startLocal, err = parseLocal(req.StartLocal, loc)
		if err != nil {
			invalid = append(invalid, "Invalid startLocal")
		}
	}
	if len(invalid) > 0 {
		r := fail(http.StatusBadRequest, strings.Join(invalid, ", "))
		return nil, &r
	}

	// Booking window policy: no sooner than the tenant lead time, no later
	// than the end of the horizon day.
	nowLocal := s.now().In(loc)
	var details []map[string]interface{}
	earliest := nowLocal.Add(time.Duration(profile.LeadTimeMin) * time.Minute)
	if startLocal.Before(earliest) {
		details = append(details, map[string]interface{}{
			"reason":        "START_TOO_SOON",
			"earliestLocal": earliest.Format(localLayout),
		})
	}
	latest := endOfDay(nowLocal.AddDate(0, 0, profile.MaxDaysAhead))
	if startLocal.After(latest) {
		details = append(details, map[string]interface{}{
			"reason":      "START_TOO_FAR",
			"latestLocal": latest.Format(localLayout),
		})
	}
	if len(details) > 0 {
		r := failWithDetails(http.StatusBadRequest, CodeInvalidTimeWindow, details)
		return nil, &r
	}

	startUTC := startLocal.UTC()
	endUTC := startUTC.Add(time.Duration(duration) * time.Minute)

	return &validated{
		profile:      profile,
		loc:          loc,
		startLocal:   startLocal,
		startUTC:     startUTC,
		endUTC:       endUTC,
		durationMin:  duration,
		bufferBefore: bufferBefore,
		bufferAfter:  bufferAfter,
		idemKey:      models.MakeIdempotencyKey(profile.BusinessID, startUTC, duration, req.Customer.Phone),
		slotKey:      models.MakeSlotKey(profile.BusinessID, startUTC),
		isEmergency:  classifyEmergency(req, startLocal, profile),
	}, nil
}

// classifyEmergency marks a booking urgent when the caller says so, the
// service type is literally "emergency", or the slot falls outside working
// hours.
func classifyEmergency(req *Request, startLocal time.Time, profile *models.EffectiveProfile) bool {
	if req.IsEmergency {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(req.Service), "emergency") {
		return true
	}
	return availability.IsOutsideBusinessHours(startLocal, profile.WorkingHours)
}

// buildBooking assembles the ledger row for the pending hold. The overlap
// window is the booked window expanded by the buffers so the hold probe needs
// no arithmetic.
func buildBooking(req *Request, v *validated) *models.Booking {
	b := &models.Booking{
		ID:              uuid.NewString(),
		BusinessID:      v.profile.BusinessID,
		StartUTC:        v.startUTC,
		EndUTC:          v.endUTC,
		OverlapStartUTC: v.startUTC.Add(-time.Duration(v.bufferBefore) * time.Minute),
		OverlapEndUTC:   v.endUTC.Add(time.Duration(v.bufferAfter) * time.Minute),
		CustomerName:    req.Customer.Name,
		CustomerPhone:   req.Customer.Phone,
		CustomerEmail:   req.Customer.Email,
		CustomerAddress: req.Customer.Address,
		ServiceType:     req.Service,
		Notes:           req.Notes,
		IsEmergency:     v.isEmergency,
		SlotKey:         v.slotKey,
		IdempotencyKey:  v.idemKey,
	}
	b.JobSummary = eventSummary(b)
	return b
}

// eventSummary is the calendar event title; it is also stored as job_summary
// so replays and debug dumps show what the calendar shows.
func eventSummary(b *models.Booking) string {
	label := b.ServiceType
	if label == "" {
		label = "HVAC service"
	}
	summary := label
	if b.CustomerName != "" {
		summary = label + " - " + b.CustomerName
	}
	if b.IsEmergency {
		summary = "[EMERGENCY] " + summary
	}
	return summary
}

func eventDescription(b *models.Booking) string {
	lines := []string{"Booking ID: " + b.ID}
	if b.CustomerName != "" {
		lines = append(lines, "Customer: "+b.CustomerName)
	}
	if b.CustomerPhone != "" {
		lines = append(lines, "Phone: "+b.CustomerPhone)
	}
	if b.CustomerEmail != "" {
		lines = append(lines, "Email: "+b.CustomerEmail)
	}
	if b.CustomerAddress != "" {
		lines = append(lines, "Address: "+b.CustomerAddress)
	}
	if b.Notes != "" {
		lines = append(lines, "Notes: "+b.Notes)
	}
	return strings.Join(lines, "\n")
}

func parseLocal(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable local time %q", value)
}

// endOfDay pins the booking horizon to the last second of the horizon day so
// "14 days ahead" includes all of day fourteen.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
