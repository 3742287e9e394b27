package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

var profileValidator = newProfileValidator()

func newProfileValidator() *validator.Validate {
	v := validator.New()
	// Report json field names in validation details, not Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// profilePatch is the operator-editable subset of a tenant profile. Absent
// and null fields keep their current values.
type profilePatch struct {
	Timezone         *string         `json:"timezone"`
	WorkingHours     json.RawMessage `json:"working_hours"`
	SlotDurationMin  *int            `json:"slot_duration_min" validate:"omitempty,gte=15,lte=240"`
	BufferMin        *int            `json:"buffer_min" validate:"omitempty,gte=0,lte=120"`
	EmergencyEnabled json.RawMessage `json:"emergency_enabled"`
	EmergencyPhone   *string         `json:"emergency_phone"`
	ServiceArea      json.RawMessage `json:"service_area"`
}

// HandleGetBusinessProfile serves GET /api/businesses/:businessId/profile,
// returning the merged effective view.
func HandleGetBusinessProfile(c *fiber.Ctx) error {
	businessID := c.Params("businessId")
	eff, err := repository.GetGlobalFactory().GetBusinessRepository().GetEffectiveProfile(businessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Business not found")
		}
		logging.WithRequest(RequestID(c)).WithError(err).Error("effective profile lookup failed")
		return internalError(c)
	}
	return c.JSON(effectiveProfileBody(eff))
}

// HandleUpdateBusinessProfile serves PUT /api/businesses/:businessId/profile.
// The body is a partial patch; only provided fields change.
func HandleUpdateBusinessProfile(c *fiber.Ctx) error {
	businessID := c.Params("businessId")
	log := logging.WithRequest(RequestID(c)).WithField("business_id", businessID)

	factory := repository.GetGlobalFactory()
	if _, err := factory.GetBusinessRepository().GetByID(businessID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Business not found")
		}
		log.WithError(err).Error("business lookup failed")
		return internalError(c)
	}

	var patch profilePatch
	if err := json.Unmarshal(c.Body(), &patch); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	row := &models.BusinessProfile{BusinessID: businessID}
	details := validatePatch(&patch, row)
	if len(details) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":      false,
			"error":   "Invalid profile",
			"details": details,
		})
	}

	if err := factory.GetBusinessProfileRepository().Upsert(row); err != nil {
		log.WithError(err).Error("profile upsert failed")
		return internalError(c)
	}
	bustAvailability(businessID)

	eff, err := factory.GetBusinessRepository().GetEffectiveProfile(businessID)
	if err != nil {
		log.WithError(err).Error("effective profile reload failed")
		return internalError(c)
	}
	log.Info("business profile updated")
	return c.JSON(effectiveProfileBody(eff))
}

// validatePatch checks every provided field and copies the valid ones onto
// the profile row. Returned details are empty when the whole patch is good.
func validatePatch(patch *profilePatch, row *models.BusinessProfile) []fiber.Map {
	var details []fiber.Map

	if err := profileValidator.Struct(patch); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fiber.Map{
					"field": fe.Field(),
					"error": "must satisfy " + fe.Tag() + "=" + fe.Param(),
				})
			}
		} else {
			details = append(details, fiber.Map{"field": "", "error": err.Error()})
		}
	}

	if patch.Timezone != nil {
		if _, err := time.LoadLocation(*patch.Timezone); err != nil {
			details = append(details, fiber.Map{"field": "timezone", "error": "unknown IANA timezone"})
		} else {
			row.Timezone = patch.Timezone
		}
	}

	if present(patch.WorkingHours) {
		var hours models.WeeklyHours
		if err := json.Unmarshal(patch.WorkingHours, &hours); err != nil {
			details = append(details, fiber.Map{"field": "working_hours", "error": "invalid shape"})
		} else if err := hours.Validate(); err != nil {
			details = append(details, fiber.Map{"field": "working_hours", "error": err.Error()})
		} else {
			row.WorkingHours = hours
		}
	}

	row.SlotDurationMin = patch.SlotDurationMin
	row.BufferMin = patch.BufferMin

	if present(patch.EmergencyEnabled) {
		enabled, err := parseFlexBool(patch.EmergencyEnabled)
		if err != nil {
			details = append(details, fiber.Map{"field": "emergency_enabled", "error": "must be true, false, 0 or 1"})
		} else {
			row.EmergencyEnabled = &enabled
		}
	}

	if patch.EmergencyPhone != nil {
		phone := strings.TrimSpace(*patch.EmergencyPhone)
		if phone != "" && digitCount(phone) < 7 {
			details = append(details, fiber.Map{"field": "emergency_phone", "error": "must contain at least 7 digits"})
		} else {
			row.EmergencyPhone = &phone
		}
	}

	if present(patch.ServiceArea) {
		var area map[string]interface{}
		if err := json.Unmarshal(patch.ServiceArea, &area); err != nil {
			details = append(details, fiber.Map{"field": "service_area", "error": "invalid shape"})
		} else {
			mode, _ := area["mode"].(string)
			if mode != models.SERVICE_AREA_RADIUS && mode != models.SERVICE_AREA_ZIP {
				details = append(details, fiber.Map{"field": "service_area", "error": "mode must be radius or zip"})
			} else {
				row.ServiceArea = models.JSON(patch.ServiceArea)
			}
		}
	}

	return details
}

func effectiveProfileBody(eff *models.EffectiveProfile) fiber.Map {
	return fiber.Map{
		"ok":                   true,
		"businessId":           eff.BusinessID,
		"name":                 eff.Name,
		"timezone":             eff.Timezone,
		"working_hours":        eff.WorkingHours,
		"default_duration_min": eff.DefaultDurationMin,
		"slot_granularity_min": eff.SlotGranularityMin,
		"buffer_before_min":    eff.BufferBeforeMin,
		"buffer_after_min":     eff.BufferAfterMin,
		"lead_time_min":        eff.LeadTimeMin,
		"max_days_ahead":       eff.MaxDaysAhead,
		"max_daily_jobs":       eff.MaxDailyJobs,
		"emergency_enabled":    eff.EmergencyEnabled,
		"emergency_sms_phone":  eff.EmergencySMSPhone,
		"emergency_call_phone": eff.EmergencyCallPhone,
		"auto_sms_enabled":     eff.AutoSMSEnabled,
		"service_area":         eff.ServiceArea,
	}
}

// present reports whether a raw json field was provided with a non-null value.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// parseFlexBool accepts true/false, 0/1 and their string forms.
func parseFlexBool(raw json.RawMessage) (bool, error) {
	switch strings.Trim(strings.TrimSpace(string(raw)), `"`) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, errors.New("not a flexible bool")
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
