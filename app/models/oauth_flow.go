package models

import (
	"time"
)

// OAuthFlow is a single-use PKCE consent record. The nonce is the primary key;
// consumption is an atomic delete so a nonce can never be redeemed twice.
type OAuthFlow struct {
	Nonce        string    `gorm:"primaryKey;type:varchar(64)" json:"nonce"`
	BusinessID   string    `gorm:"type:varchar(64);index" json:"business_id"`
	CodeVerifier string    `gorm:"type:varchar(128)" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at" json:"expires_at"`
}

// TableName specifies the table name for the OAuthFlow model
func (OAuthFlow) TableName() string {
	return "oauth_flows"
}

// Expired reports whether the flow is past its TTL.
func (f *OAuthFlow) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}
