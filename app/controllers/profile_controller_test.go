package controllers_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detailFields(t *testing.T, body map[string]interface{}) []string {
	t.Helper()
	raw, ok := body["details"].([]interface{})
	require.True(t, ok, "details missing: %v", body)
	fields := make([]string, 0, len(raw))
	for _, d := range raw {
		detail, ok := d.(map[string]interface{})
		require.True(t, ok)
		fields = append(fields, detail["field"].(string))
	}
	return fields
}

func TestHandleGetBusinessProfile(t *testing.T) {
	t.Run("returns the effective profile", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-prof")

		resp, body := doJSON(t, fiber.MethodGet, "/api/businesses/biz-prof/profile", nil)

		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "biz-prof", body["businessId"])
		assert.Equal(t, "Comfort Air Heating", body["name"])
		assert.Equal(t, "America/Chicago", body["timezone"])
		assert.EqualValues(t, 60, body["default_duration_min"])
		assert.EqualValues(t, 30, body["slot_granularity_min"])
		assert.EqualValues(t, 0, body["buffer_before_min"])
		assert.Equal(t, false, body["emergency_enabled"])
		assert.Equal(t, true, body["auto_sms_enabled"])

		hours, ok := body["working_hours"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, hours, "mon")
	})

	t.Run("unknown business is 404", func(t *testing.T) {
		fixture(t)

		resp, body := doJSON(t, fiber.MethodGet, "/api/businesses/biz-ghost/profile", nil)

		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Business not found", body["error"])
	})
}

func TestHandleUpdateBusinessProfile(t *testing.T) {
	t.Run("patch overlays the business defaults", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-patch")

		resp, body := doJSON(t, fiber.MethodPut, "/api/businesses/biz-patch/profile", fiber.Map{
			"timezone":          "America/New_York",
			"slot_duration_min": 90,
			"buffer_min":        10,
			"emergency_enabled": true,
			"emergency_phone":   "+1 555 765 4321",
			"service_area":      fiber.Map{"mode": "radius", "radius_km": 25},
		})

		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "America/New_York", body["timezone"])
		assert.EqualValues(t, 90, body["default_duration_min"])
		assert.EqualValues(t, 10, body["buffer_before_min"])
		assert.EqualValues(t, 10, body["buffer_after_min"])
		assert.Equal(t, true, body["emergency_enabled"])
		assert.Equal(t, "+1 555 765 4321", body["emergency_sms_phone"])

		area, ok := body["service_area"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "radius", area["mode"])

		// The overlay survives a fresh read.
		_, readBack := doJSON(t, fiber.MethodGet, "/api/businesses/biz-patch/profile", nil)
		assert.Equal(t, "America/New_York", readBack["timezone"])
		assert.EqualValues(t, 90, readBack["default_duration_min"])
	})

	t.Run("string booleans are accepted", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-flexbool")

		resp, body := doJSON(t, fiber.MethodPut, "/api/businesses/biz-flexbool/profile", fiber.Map{
			"emergency_enabled": "1",
		})

		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["emergency_enabled"])
	})

	t.Run("invalid fields are itemized", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-badpatch")

		resp, body := doJSON(t, fiber.MethodPut, "/api/businesses/biz-badpatch/profile", fiber.Map{
			"timezone":          "Mars/Olympus",
			"slot_duration_min": 5,
			"emergency_phone":   "911",
		})

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "Invalid profile", body["error"])

		fields := detailFields(t, body)
		assert.Contains(t, fields, "timezone")
		assert.Contains(t, fields, "slot_duration_min")
		assert.Contains(t, fields, "emergency_phone")
	})

	t.Run("malformed working hours are rejected", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-badhours")

		resp, body := doJSON(t, fiber.MethodPut, "/api/businesses/biz-badhours/profile", fiber.Map{
			"working_hours": "always open",
		})

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, detailFields(t, body), "working_hours")
	})

	t.Run("bad service area mode is rejected", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-badarea")

		resp, body := doJSON(t, fiber.MethodPut, "/api/businesses/biz-badarea/profile", fiber.Map{
			"service_area": fiber.Map{"mode": "statewide"},
		})

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, detailFields(t, body), "service_area")
	})

	t.Run("invalid body is 400", func(t *testing.T) {
		fixture(t)
		seedBusiness(t, "biz-badbody")
		req := httptest.NewRequest(fiber.MethodPut, "/api/businesses/biz-badbody/profile",
			strings.NewReader("{nope"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, body := doRequest(t, req)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid request body", body["error"])
	})

	t.Run("unknown business is 404", func(t *testing.T) {
		fixture(t)

		resp, _ := doJSON(t, fiber.MethodPut, "/api/businesses/biz-ghost/profile", fiber.Map{
			"timezone": "America/Denver",
		})

		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}
