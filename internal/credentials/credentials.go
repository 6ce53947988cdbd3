// Package credentials seals the upstream gateway credential pair into a
// passphrase-protected file, so keys can move between deployments without
// ever sitting on disk in the clear.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rlanders/imagewell/internal/version"
)

// pbkdf2Iterations is the OWASP-recommended iteration count for PBKDF2-SHA256.
const pbkdf2Iterations = 600_000

const (
	envelopeVersion = "1"
	saltLen         = 16
	keyLen          = 32
)

// Envelope is the outer JSON wrapper for a sealed credentials file.
type Envelope struct {
	Version    string `json:"version"`
	AppVersion string `json:"app_version"`
	CreatedAt  string `json:"created_at"`
	Salt       string `json:"salt"` // base64-encoded PBKDF2 salt
	Data       string `json:"data"` // base64-encoded nonce+ciphertext
}

// Payload is the decrypted inner content.
type Payload struct {
	Gateway        string `json:"gateway"`
	GoogleAPIKey   string `json:"google_api_key"`
	GoogleEngineID string `json:"google_engine_id"`
}

// Seal encrypts the payload under a passphrase-derived key and returns the
// serialized envelope.
func Seal(payload Payload, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)

	env := Envelope{
		Version:    envelopeVersion,
		AppVersion: version.Version,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Data:       base64.StdEncoding.EncodeToString(sealed),
	}
	return json.MarshalIndent(env, "", "  ")
}

// Open decrypts a sealed envelope with the passphrase.
func Open(data []byte, passphrase string) (*Payload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %q", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("envelope data too short")
	}

	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupted file")
	}

	var payload Payload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return &payload, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
