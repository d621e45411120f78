package settings

import (
	"strings"
	"testing"
)

func TestCryptoRoundTrip(t *testing.T) {
	c, err := NewCrypto("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewCrypto() error = %v", err)
	}

	sealed := c.Encrypt("sk-verysecret")
	if !strings.HasPrefix(sealed, "enc:") {
		t.Fatalf("Encrypt() = %q, want enc: prefix", sealed)
	}
	if got := c.Decrypt(sealed); got != "sk-verysecret" {
		t.Errorf("Decrypt() = %q, want %q", got, "sk-verysecret")
	}
}

func TestCryptoDecrypt_PlaintextPassthrough(t *testing.T) {
	c, _ := NewCrypto("key")
	if got := c.Decrypt("not-encrypted"); got != "not-encrypted" {
		t.Errorf("Decrypt() = %q, want passthrough", got)
	}
}

func TestNewCrypto_EmptyDisables(t *testing.T) {
	c, err := NewCrypto("")
	if err != nil {
		t.Fatalf("NewCrypto(\"\") error = %v", err)
	}
	if c != nil {
		t.Errorf("NewCrypto(\"\") = %v, want nil", c)
	}
}

func TestEncryptParams_OnlySecretKeys(t *testing.T) {
	c, _ := NewCrypto("key")

	params := map[string]any{
		"api_key": "sk-123",
		"host":    "localhost",
		"port":    6333,
	}
	out := c.EncryptParams(params)

	if !strings.HasPrefix(out["api_key"].(string), "enc:") {
		t.Errorf("api_key not encrypted: %v", out["api_key"])
	}
	if out["host"] != "localhost" {
		t.Errorf("host changed: %v", out["host"])
	}
	if out["port"] != 6333 {
		t.Errorf("port changed: %v", out["port"])
	}

	back := c.DecryptParams(out)
	if back["api_key"] != "sk-123" {
		t.Errorf("DecryptParams api_key = %v, want sk-123", back["api_key"])
	}
}
