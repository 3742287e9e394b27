package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
)

// googleTokenRepository implements the GoogleTokenRepository interface
type googleTokenRepository struct {
	db *gorm.DB
}

// NewGoogleTokenRepository creates a new token repository instance
func NewGoogleTokenRepository(db *gorm.DB) GoogleTokenRepository {
	return &googleTokenRepository{db: db}
}

// Get retrieves the stored credential for a business
func (r *googleTokenRepository) Get(businessID string) (*models.GoogleToken, error) {
	var token models.GoogleToken
	if err := r.db.First(&token, "business_id = ?", businessID).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// Upsert creates or replaces the credential row for a business
func (r *googleTokenRepository) Upsert(token *models.GoogleToken) error {
	var existing models.GoogleToken
	err := r.db.First(&existing, "business_id = ?", token.BusinessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(token).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"access_token":             token.AccessToken,
		"refresh_token_ciphertext": token.RefreshTokenCiphertext,
		"refresh_token_iv":         token.RefreshTokenIV,
		"refresh_token_tag":        token.RefreshTokenTag,
		"scope":                    token.Scope,
		"token_type":               token.TokenType,
		"expiry_utc":               token.ExpiryUTC,
	}
	// A re-consent replaces any legacy plaintext with the encrypted form.
	if token.HasEncryptedRefreshToken() {
		updates["refresh_token_plain"] = nil
	}
	return r.db.Model(&models.GoogleToken{}).
		Where("business_id = ?", token.BusinessID).
		Updates(updates).Error
}

// SaveRefreshed persists a refreshed access token and, when the provider
// rotated the refresh token, its new ciphertext triple
func (r *googleTokenRepository) SaveRefreshed(businessID, accessToken string, expiry time.Time, ciphertext, iv, tag string) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expiry_utc":   expiry,
	}
	if ciphertext != "" {
		updates["refresh_token_ciphertext"] = ciphertext
		updates["refresh_token_iv"] = iv
		updates["refresh_token_tag"] = tag
		updates["refresh_token_plain"] = nil
	}
	return r.db.Model(&models.GoogleToken{}).
		Where("business_id = ?", businessID).
		Updates(updates).Error
}

// Delete removes the credential row for a business
func (r *googleTokenRepository) Delete(businessID string) error {
	return r.db.Delete(&models.GoogleToken{}, "business_id = ?", businessID).Error
}

// oauthFlowRepository implements the OAuthFlowRepository interface
type oauthFlowRepository struct {
	db *gorm.DB
}

// NewOAuthFlowRepository creates a new OAuth flow repository instance
func NewOAuthFlowRepository(db *gorm.DB) OAuthFlowRepository {
	return &oauthFlowRepository{db: db}
}

// Create stores a new single-use flow row
func (r *oauthFlowRepository) Create(flow *models.OAuthFlow) error {
	return r.db.Create(flow).Error
}

// Consume deletes the flow by nonce and returns it in the same transaction.
// The delete's row count is the tie-breaker: whoever deletes the row owns
// the flow, so a replayed callback gets nil. Expired flows are deleted and
// reported as missing.
func (r *oauthFlowRepository) Consume(nonce string) (*models.OAuthFlow, error) {
	now := time.Now().UTC()

	var flow models.OAuthFlow
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&flow, "nonce = ?", nonce).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.OAuthFlow{}, "nonce = ?", nonce)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if flow.Expired(now) {
		return nil, nil
	}
	return &flow, nil
}

// DeleteExpired removes flow rows whose TTL has passed
func (r *oauthFlowRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Delete(&models.OAuthFlow{}, "expires_at <= ?", now)
	return res.RowsAffected, res.Error
}
