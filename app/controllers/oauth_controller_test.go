package controllers_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/oauthflow"
)

const testStateSecret = "state-secret-for-tests"

func setGoogleEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "client-123.apps.googleusercontent.com")
	t.Setenv("GOOGLE_CLIENT_SECRET", "shhh")
	t.Setenv("GOOGLE_REDIRECT_URI", "https://slotfox.example/auth/google/callback")
	t.Setenv("OAUTH_STATE_SECRET", testStateSecret)
}

func TestHandleGoogleBusinessAuth(t *testing.T) {
	t.Run("missing business_id is 400", func(t *testing.T) {
		fixture(t)

		resp, body := doJSON(t, fiber.MethodGet, "/auth/google-business", nil)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Missing business_id", body["error"])
	})

	t.Run("unknown business is 404", func(t *testing.T) {
		fixture(t)

		resp, body := doJSON(t, fiber.MethodGet, "/auth/google-business?business_id=biz-ghost", nil)

		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Business not found", body["error"])
	})

	t.Run("unconfigured oauth is 500", func(t *testing.T) {
		fixture(t)
		t.Setenv("GOOGLE_CLIENT_ID", "")
		t.Setenv("GOOGLE_CLIENT_SECRET", "")
		t.Setenv("GOOGLE_REDIRECT_URI", "")
		seedBusiness(t, "biz-oauth-bare")

		resp, body := doJSON(t, fiber.MethodGet, "/auth/google-business?business_id=biz-oauth-bare", nil)

		require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Internal error", body["error"])
	})

	t.Run("redirects to consent with pkce and signed state", func(t *testing.T) {
		fixture(t)
		setGoogleEnv(t)
		seedBusiness(t, "biz-oauth")

		resp, _ := doJSON(t, fiber.MethodGet, "/auth/google-business?business_id=biz-oauth", nil)

		require.Equal(t, fiber.StatusFound, resp.StatusCode)
		loc, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
		require.NoError(t, err)
		assert.Equal(t, "accounts.google.com", loc.Host)

		q := loc.Query()
		assert.Equal(t, "client-123.apps.googleusercontent.com", q.Get("client_id"))
		assert.Equal(t, "offline", q.Get("access_type"))
		assert.Equal(t, "consent", q.Get("prompt"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))

		// The state round-trips through the verifier and points at a stored
		// single-use flow.
		claims, err := oauthflow.VerifyState(q.Get("state"), testStateSecret,
			oauthflow.DefaultStateTTL, time.Now())
		require.NoError(t, err)
		assert.Equal(t, "biz-oauth", claims.BusinessID)

		var flow models.OAuthFlow
		require.NoError(t, testDB.Where("nonce = ?", claims.Nonce).First(&flow).Error)
		assert.Equal(t, "biz-oauth", flow.BusinessID)
		assert.NotEmpty(t, flow.CodeVerifier)
		assert.True(t, flow.ExpiresAt.After(time.Now().UTC()))
	})
}

func TestHandleGoogleCallback(t *testing.T) {
	t.Run("consent denial is 400", func(t *testing.T) {
		fixture(t)

		resp, body := doJSON(t, fiber.MethodGet, "/auth/google/callback?error=access_denied", nil)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Google consent was denied", body["error"])
	})

	t.Run("missing code or state is 400", func(t *testing.T) {
		fixture(t)

		resp, body := doJSON(t, fiber.MethodGet, "/auth/google/callback?code=abc", nil)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Missing code or state", body["error"])
	})

	t.Run("forged state is 400", func(t *testing.T) {
		fixture(t)
		t.Setenv("OAUTH_STATE_SECRET", testStateSecret)

		resp, body := doJSON(t, fiber.MethodGet,
			"/auth/google/callback?code=abc&state=not-a-real-state", nil)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid state", body["error"])
	})

	t.Run("valid state without a stored flow is 400", func(t *testing.T) {
		fixture(t)
		t.Setenv("OAUTH_STATE_SECRET", testStateSecret)
		seedBusiness(t, "biz-oauth-replay")

		// Signed correctly, but the nonce was never created (or already
		// consumed): the single-use check must reject it.
		state, err := oauthflow.SignState("biz-oauth-replay", "nonce-never-stored",
			testStateSecret, time.Now())
		require.NoError(t, err)

		resp, body := doJSON(t, fiber.MethodGet,
			"/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)

		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "OAuth flow expired", body["error"])
	})
}
