// Package vault encrypts per-business channel configuration for storage in
// a text column. It knows nothing about channels: callers hand it a flat
// string map and get back opaque base64 text.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// ErrorKind classifies a failed decryption for the caller.
type ErrorKind string

// KeyMismatch is reported for every decryption failure. By far the most
// common cause in practice is a rotated APP_ENCRYPTION_KEY.
const KeyMismatch ErrorKind = "encryption_key_mismatch"

const hkdfInfo = "notifyhub/integration-config/v1"

// Config is a decrypted integration configuration.
type Config map[string]string

// Get returns the value for key or def when the key is absent or blank.
func (c Config) Get(key, def string) string {
	if v := strings.TrimSpace(c[key]); v != "" {
		return v
	}
	return def
}

// Decrypted is the result of Decrypt. Err is empty on success.
type Decrypted struct {
	Config Config
	Err    ErrorKind
}

// OK reports whether decryption succeeded.
func (d Decrypted) OK() bool { return d.Err == "" }

// Vault seals and opens configuration blobs with XChaCha20-Poly1305 under a
// key derived from the process-wide secret.
type Vault struct {
	key []byte
}

// New derives the vault key from secret with HKDF-SHA256.
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, domain.ErrMissingSecretKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt serialises cfg as JSON (map keys sorted), seals it and returns
// base64(nonce || ciphertext).
func (v *Vault) Encrypt(cfg Config) (string, error) {
	if cfg == nil {
		cfg = Config{}
	}
	plain, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Blank input yields an empty config and no
// error. Any other failure is reported as KeyMismatch with an empty config;
// the underlying cause is deliberately dropped.
func (v *Vault) Decrypt(text string) Decrypted {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decrypted{Config: Config{}}
	}

	fail := Decrypted{Config: Config{}, Err: KeyMismatch}

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return fail
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return fail
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return fail
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fail
	}

	cfg := Config{}
	if err := json.Unmarshal(plain, &cfg); err != nil {
		return fail
	}
	return Decrypted{Config: cfg}
}
