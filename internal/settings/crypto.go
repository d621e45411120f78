package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// secretSuffixes marks the param keys whose values are encrypted at rest.
var secretSuffixes = []string{"_key", "_secret", "_password", "_token"}

const encPrefix = "enc:"

// Crypto encrypts secret-bearing settings values with AES-GCM. The key is
// derived from an operator-supplied passphrase; replicas sharing a store
// must share the passphrase.
type Crypto struct {
	aead cipher.AEAD
}

// NewCrypto derives an AES-256-GCM cipher from the passphrase.
// An empty passphrase returns nil: encryption disabled.
func NewCrypto(passphrase string) (*Crypto, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("settings crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("settings crypto: %w", err)
	}
	return &Crypto{aead: aead}, nil
}

// Encrypt seals a plaintext string into "enc:" + base64(nonce|ciphertext).
func (c *Crypto) Encrypt(plaintext string) string {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Error().Err(err).Msg("Settings crypto: nonce generation failed, storing plaintext")
		return plaintext
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt reverses Encrypt. Values without the "enc:" prefix are returned
// unchanged, so a store written before encryption was enabled still reads.
func (c *Crypto) Decrypt(value string) string {
	if !strings.HasPrefix(value, encPrefix) {
		return value
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil || len(sealed) < c.aead.NonceSize() {
		log.Warn().Msg("Settings crypto: malformed encrypted value")
		return value
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Warn().Msg("Settings crypto: decryption failed, wrong key?")
		return value
	}
	return string(plain)
}

// EncryptParams returns a copy of params with secret-bearing string values
// encrypted. Non-secret keys and non-string values pass through.
func (c *Crypto) EncryptParams(params map[string]any) map[string]any {
	return c.mapParams(params, c.Encrypt)
}

// DecryptParams reverses EncryptParams.
func (c *Crypto) DecryptParams(params map[string]any) map[string]any {
	return c.mapParams(params, c.Decrypt)
}

func (c *Crypto) mapParams(params map[string]any, fn func(string) string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok && isSecretKey(k) {
			out[k] = fn(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(key string) bool {
	for _, suffix := range secretSuffixes {
		if strings.Contains(key, suffix) {
			return true
		}
	}
	return false
}
