package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/availability"
	"github.com/ManuelReschke/SlotFox/internal/pkg/booking"
	"github.com/ManuelReschke/SlotFox/internal/pkg/cache"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

const (
	availabilityCachePrefix = "avail:"
	availabilityCacheTTL    = 30 * time.Second
	slotTimeLayout          = "2006-01-02T15:04:05"
	dateLayout              = "2006-01-02"
	defaultWindowDays       = 7
	maxWindowDays           = 31
)

var availabilityCalendars booking.CalendarFactory

// InitializeAvailabilityController wires the per-tenant calendar factory used
// to overlay live busy windows on the ledger.
func InitializeAvailabilityController(calendars booking.CalendarFactory) {
	availabilityCalendars = calendars
}

// HandleAvailableSlots serves GET /api/available-slots. The ledger is the
// authority; the external calendar adds busy windows when reachable and is
// skipped when it is not, since the booking path revalidates anyway.
func HandleAvailableSlots(c *fiber.Ctx) error {
	businessID := strings.TrimSpace(c.Query("business_id"))
	if businessID == "" {
		return jsonError(c, fiber.StatusBadRequest, "Missing business_id")
	}
	log := logging.WithRequest(RequestID(c)).WithField("business_id", businessID)

	profile, err := repository.GetGlobalFactory().GetBusinessRepository().GetEffectiveProfile(businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Business not found")
		}
		log.WithError(err).Error("effective profile lookup failed")
		return internalError(c)
	}

	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		log.WithError(err).Error("business has an invalid timezone")
		return internalError(c)
	}
	now := time.Now()
	nowLocal := now.In(loc)
	today := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, loc)

	windowStart := today
	if from := c.Query("from"); from != "" {
		parsed, perr := time.ParseInLocation(dateLayout, from, loc)
		if perr != nil {
			return jsonError(c, fiber.StatusBadRequest, "Invalid from, expected YYYY-MM-DD")
		}
		windowStart = parsed
	}

	days := c.QueryInt("days", defaultWindowDays)
	if days < 1 {
		days = 1
	}
	if days > maxWindowDays {
		days = maxWindowDays
	}
	// Never list past the booking horizon; those starts would be rejected
	// with START_TOO_FAR anyway.
	horizonDay := today.AddDate(0, 0, profile.MaxDaysAhead)
	for days > 0 && windowStart.AddDate(0, 0, days-1).After(horizonDay) {
		days--
	}

	durationMin := c.QueryInt("duration_min", 0)
	if durationMin == 0 {
		durationMin = profile.DefaultDurationMin
	}
	if durationMin <= 0 || durationMin > 480 {
		return jsonError(c, fiber.StatusBadRequest, "Invalid duration_min")
	}

	cacheKey := fmt.Sprintf("%s%s:%s:%d:%d",
		availabilityCachePrefix, businessID, windowStart.Format(dateLayout), days, durationMin)
	if cached, cerr := cache.Get(cacheKey); cerr == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	windowStartUTC := windowStart.UTC()
	windowEndUTC := windowStart.AddDate(0, 0, days).UTC()

	var busy []availability.Interval
	calendarFresh := false
	if availabilityCalendars != nil {
		if client, cerr := availabilityCalendars(c.UserContext(), businessID); cerr == nil {
			if intervals, ferr := client.FreeBusy(c.UserContext(), windowStartUTC, windowEndUTC); ferr == nil {
				for _, iv := range intervals {
					busy = append(busy, availability.Interval{Start: iv.Start, End: iv.End})
				}
				calendarFresh = true
			} else {
				log.WithError(ferr).Warn("freebusy unavailable, listing from ledger only")
			}
		} else {
			log.WithError(cerr).Debug("no calendar client for availability")
		}
	}
	busy = availability.NormalizeBusy(busy,
		time.Duration(profile.BufferBeforeMin)*time.Minute,
		time.Duration(profile.BufferAfterMin)*time.Minute)

	ledger, lerr := repository.GetGlobalFactory().GetBookingRepository().
		FindOverlappingActive(businessID, windowStartUTC, windowEndUTC)
	if lerr != nil {
		log.WithError(lerr).Error("ledger overlap scan failed")
		return internalError(c)
	}
	for _, b := range ledger {
		// Overlap bounds already include the tenant buffers.
		busy = append(busy, availability.Interval{Start: b.OverlapStartUTC, End: b.OverlapEndUTC})
	}
	busy = availability.NormalizeBusy(busy, 0, 0)

	slots := availability.Slots(*profile, windowStart, days, durationMin, busy, now)

	slotBodies := make([]fiber.Map, 0, len(slots))
	for _, s := range slots {
		slotBodies = append(slotBodies, fiber.Map{
			"start_local": s.StartLocal.Format(slotTimeLayout),
			"end_local":   s.EndLocal.Format(slotTimeLayout),
			"start_utc":   s.StartUTC.UTC().Format(time.RFC3339),
			"end_utc":     s.EndUTC.UTC().Format(time.RFC3339),
		})
	}

	body := fiber.Map{
		"ok":          true,
		"businessId":  businessID,
		"timezone":    profile.Timezone,
		"from_local":  windowStart.Format(dateLayout),
		"days":        days,
		"durationMin": durationMin,
		"count":       len(slotBodies),
		"slots":       slotBodies,
	}

	// Only a listing backed by a live calendar read is worth caching.
	if calendarFresh {
		if payload, merr := json.Marshal(body); merr == nil {
			if serr := cache.Set(cacheKey, string(payload), availabilityCacheTTL); serr != nil {
				log.WithError(serr).Debug("availability cache write failed")
			}
		}
	}

	return c.JSON(body)
}
