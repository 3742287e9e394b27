package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/gcal"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	"github.com/ManuelReschke/SlotFox/internal/pkg/oauthflow"
	"github.com/ManuelReschke/SlotFox/internal/pkg/tokenvault"
)

var oauthVault *tokenvault.Vault

// InitializeOAuthController wires the token vault used to encrypt refresh
// tokens before they touch the database.
func InitializeOAuthController(vault *tokenvault.Vault) {
	oauthVault = vault
}

func stateTTL() time.Duration {
	return time.Duration(env.GetEnvInt("OAUTH_STATE_TTL_SEC",
		int(oauthflow.DefaultStateTTL/time.Second))) * time.Second
}

// HandleGoogleBusinessAuth serves GET /auth/google-business?business_id. It
// records a single-use PKCE flow and redirects to the Google consent screen.
func HandleGoogleBusinessAuth(c *fiber.Ctx) error {
	businessID := strings.TrimSpace(c.Query("business_id"))
	if businessID == "" {
		return jsonError(c, fiber.StatusBadRequest, "Missing business_id")
	}
	log := logging.WithRequest(RequestID(c)).WithField("business_id", businessID)

	factory := repository.GetGlobalFactory()
	if _, err := factory.GetBusinessRepository().GetByID(businessID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Business not found")
		}
		log.WithError(err).Error("business lookup failed")
		return internalError(c)
	}

	cfg, err := gcal.OAuthConfig()
	if err != nil {
		log.WithError(err).Error("oauth config missing")
		return internalError(c)
	}

	verifier, err := oauthflow.NewCodeVerifier()
	if err != nil {
		log.WithError(err).Error("code verifier generation failed")
		return internalError(c)
	}

	now := time.Now().UTC()
	flow := &models.OAuthFlow{
		Nonce:        uuid.NewString(),
		BusinessID:   businessID,
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(stateTTL()),
	}
	if err := factory.GetOAuthFlowRepository().Create(flow); err != nil {
		log.WithError(err).Error("oauth flow create failed")
		return internalError(c)
	}

	state, err := oauthflow.SignState(businessID, flow.Nonce, env.GetEnv("OAUTH_STATE_SECRET", ""), now)
	if err != nil {
		log.WithError(err).Error("state signing failed")
		return internalError(c)
	}

	log.Info("google consent flow started")
	return c.Redirect(gcal.ConsentURL(cfg, state, oauthflow.Challenge(verifier)), fiber.StatusFound)
}

// HandleGoogleCallback serves GET /auth/google/callback?code&state. It
// verifies the signed state, consumes the flow nonce, exchanges the code with
// the stored PKCE verifier and persists the encrypted tokens.
func HandleGoogleCallback(c *fiber.Ctx) error {
	log := logging.WithRequest(RequestID(c))

	if consentErr := c.Query("error"); consentErr != "" {
		log.WithField("consent_error", consentErr).Warn("google consent denied")
		return jsonError(c, fiber.StatusBadRequest, "Google consent was denied")
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return jsonError(c, fiber.StatusBadRequest, "Missing code or state")
	}

	claims, err := oauthflow.VerifyState(state, env.GetEnv("OAUTH_STATE_SECRET", ""), stateTTL(), time.Now())
	if err != nil {
		log.WithError(err).Warn("state verification failed")
		return jsonError(c, fiber.StatusBadRequest, "Invalid state")
	}
	log = log.WithField("business_id", claims.BusinessID)

	factory := repository.GetGlobalFactory()
	flow, err := factory.GetOAuthFlowRepository().Consume(claims.Nonce)
	if err != nil {
		log.WithError(err).Error("flow consume failed")
		return internalError(c)
	}
	if flow == nil || flow.BusinessID != claims.BusinessID {
		return jsonError(c, fiber.StatusBadRequest, "OAuth flow expired")
	}
	if flow.Expired(time.Now().UTC()) {
		return jsonError(c, fiber.StatusBadRequest, "OAuth flow expired")
	}

	cfg, err := gcal.OAuthConfig()
	if err != nil {
		log.WithError(err).Error("oauth config missing")
		return internalError(c)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), gcal.APITimeout())
	defer cancel()
	token, err := gcal.ExchangeCode(ctx, cfg, code, flow.CodeVerifier)
	if err != nil {
		log.WithError(err).Error("code exchange failed")
		return jsonError(c, fiber.StatusBadGateway, "Token exchange failed")
	}

	if oauthVault == nil {
		log.Error("token vault not initialized")
		return internalError(c)
	}

	row := &models.GoogleToken{
		BusinessID:  flow.BusinessID,
		AccessToken: token.AccessToken,
		Scope:       strings.Join(cfg.Scopes, " "),
		TokenType:   token.TokenType,
		ExpiryUTC:   token.Expiry.UTC(),
	}
	if token.RefreshToken != "" {
		ciphertext, iv, tag, encErr := oauthVault.Encrypt(token.RefreshToken)
		if encErr != nil {
			log.WithError(encErr).Error("refresh token encryption failed")
			return internalError(c)
		}
		row.RefreshTokenCiphertext = ciphertext
		row.RefreshTokenIV = iv
		row.RefreshTokenTag = tag
	} else {
		// Google omits the refresh token on re-consent. Keep the stored one;
		// without any we cannot outlive the access token.
		existing, gerr := factory.GetGoogleTokenRepository().Get(flow.BusinessID)
		if gerr != nil || existing == nil || !existing.HasEncryptedRefreshToken() {
			log.Warn("consent returned no refresh token and none is stored")
			return jsonError(c, fiber.StatusBadRequest,
				"Google returned no refresh token; revoke access for this app and connect again")
		}
		row.RefreshTokenCiphertext = existing.RefreshTokenCiphertext
		row.RefreshTokenIV = existing.RefreshTokenIV
		row.RefreshTokenTag = existing.RefreshTokenTag
	}

	if err := factory.GetGoogleTokenRepository().Upsert(row); err != nil {
		log.WithError(err).Error("token upsert failed")
		return internalError(c)
	}

	log.Info("google calendar connected")
	return c.JSON(fiber.Map{
		"ok":         true,
		"businessId": flow.BusinessID,
		"message":    "Google Calendar connected",
	})
}
