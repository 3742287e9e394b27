// Package tokenvault encrypts Google refresh tokens at rest. Ciphertext,
// nonce and auth tag are stored as separate base64 columns so a tampered
// row fails authentication instead of decrypting to garbage.
package tokenvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

const (
	keyLen   = 32
	nonceLen = 12
	tagLen   = 16
)

// ErrCryptoAuth marks a failed authentication during decrypt: wrong key,
// bit-flipped ciphertext, swapped nonce or tag.
var ErrCryptoAuth = errors.New("CRYPTO_AUTH")

// Vault holds the process-wide encryption key. Read-only after startup.
type Vault struct {
	key []byte
}

// New builds a vault from a 64-hex-character key string.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("TOKENS_ENC_KEY is not valid hex: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("TOKENS_ENC_KEY must be %d hex chars (%d key bytes), got %d bytes", keyLen*2, keyLen, len(key))
	}
	return &Vault{key: key}, nil
}

// NewFromEnv reads TOKENS_ENC_KEY. Production refuses to start without a
// valid key; dev falls back to an ephemeral one so local runs work, at the
// cost of tokens not surviving a restart.
func NewFromEnv() (*Vault, error) {
	hexKey := env.GetEnv("TOKENS_ENC_KEY", "")
	if hexKey == "" {
		if env.IsProd() {
			return nil, errors.New("TOKENS_ENC_KEY is required in production")
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		logging.GetLogger().Warn("[TokenVault] TOKENS_ENC_KEY not set, using ephemeral dev key; stored tokens will not outlive this process")
		return &Vault{key: key}, nil
	}
	return New(hexKey)
}

// Encrypt seals plaintext under a fresh random nonce and returns base64
// ciphertext, nonce and tag.
func (v *Vault) Encrypt(plaintext string) (ct, iv, tag string, err error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", "", "", err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	body, tagBytes := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	enc := base64.StdEncoding
	return enc.EncodeToString(body), enc.EncodeToString(nonce), enc.EncodeToString(tagBytes), nil
}

// Decrypt reverses Encrypt. Any authentication failure comes back as
// ErrCryptoAuth so callers can distinguish tampering from config errors.
func (v *Vault) Decrypt(ct, iv, tag string) (string, error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	enc := base64.StdEncoding
	body, err := enc.DecodeString(ct)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not valid base64", ErrCryptoAuth)
	}
	nonce, err := enc.DecodeString(iv)
	if err != nil || len(nonce) != nonceLen {
		return "", fmt.Errorf("%w: bad nonce", ErrCryptoAuth)
	}
	tagBytes, err := enc.DecodeString(tag)
	if err != nil || len(tagBytes) != tagLen {
		return "", fmt.Errorf("%w: bad tag", ErrCryptoAuth)
	}

	plain, err := gcm.Open(nil, nonce, append(body, tagBytes...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: token authentication failed", ErrCryptoAuth)
	}
	return string(plain), nil
}

// RefreshToken returns the decrypted refresh token for a stored credential,
// falling back to the legacy plaintext column for rows the migration sweep
// has not reached yet.
func (v *Vault) RefreshToken(tok *models.GoogleToken) (string, error) {
	if tok.HasEncryptedRefreshToken() {
		return v.Decrypt(tok.RefreshTokenCiphertext, tok.RefreshTokenIV, tok.RefreshTokenTag)
	}
	if tok.HasLegacyPlaintext() {
		return *tok.RefreshTokenPlain, nil
	}
	return "", errors.New("no refresh token stored")
}

// ReencryptLegacyTokens encrypts every plaintext refresh token left over
// from before the vault existed and nulls the plaintext column. Running it
// twice is a no-op; the second pass finds nothing to convert.
func (v *Vault) ReencryptLegacyTokens(db *gorm.DB) (int, error) {
	log := logging.GetLogger()

	var rows []models.GoogleToken
	if err := db.Where("refresh_token_plain IS NOT NULL AND refresh_token_plain <> ''").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("load legacy tokens: %w", err)
	}

	converted := 0
	for i := range rows {
		row := &rows[i]
		ct, iv, tag, err := v.Encrypt(*row.RefreshTokenPlain)
		if err != nil {
			return converted, fmt.Errorf("encrypt token for business %s: %w", row.BusinessID, err)
		}

		err = db.Model(&models.GoogleToken{}).
			Where("business_id = ?", row.BusinessID).
			Updates(map[string]interface{}{
				"refresh_token_ciphertext": ct,
				"refresh_token_iv":         iv,
				"refresh_token_tag":        tag,
				"refresh_token_plain":      nil,
			}).Error
		if err != nil {
			return converted, fmt.Errorf("store encrypted token for business %s: %w", row.BusinessID, err)
		}
		converted++
	}

	if converted > 0 {
		log.Infof("[TokenVault] re-encrypted %d legacy refresh token(s)", converted)
	}
	return converted, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
