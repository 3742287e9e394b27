package models

import (
	"time"
)

// GoogleToken is the per-tenant calendar credential. The refresh token is only
// ever persisted as AES-GCM ciphertext; RefreshTokenPlain exists solely so the
// one-time migration sweep can find and null legacy rows.
type GoogleToken struct {
	BusinessID             string    `gorm:"primaryKey;type:varchar(64)" json:"business_id"`
	AccessToken            string    `gorm:"type:text" json:"-"`
	RefreshTokenCiphertext string    `gorm:"type:text" json:"-"`
	RefreshTokenIV         string    `gorm:"type:varchar(64)" json:"-"`
	RefreshTokenTag        string    `gorm:"type:varchar(64)" json:"-"`
	RefreshTokenPlain      *string   `gorm:"type:text;default:null" json:"-"`
	Scope                  string    `gorm:"type:text" json:"scope"`
	TokenType              string    `gorm:"type:varchar(32)" json:"token_type"`
	ExpiryUTC              time.Time `gorm:"column:expiry_utc" json:"expiry_utc"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the GoogleToken model
func (GoogleToken) TableName() string {
	return "google_tokens"
}

// HasEncryptedRefreshToken reports whether the ciphertext triple is complete.
// A partial triple is a corrupt row and must be treated as no credential.
func (t *GoogleToken) HasEncryptedRefreshToken() bool {
	return t.RefreshTokenCiphertext != "" && t.RefreshTokenIV != "" && t.RefreshTokenTag != ""
}

// HasLegacyPlaintext reports whether the row still carries a pre-encryption
// refresh token that the migration sweep must rewrite.
func (t *GoogleToken) HasLegacyPlaintext() bool {
	return t.RefreshTokenPlain != nil && *t.RefreshTokenPlain != ""
}
