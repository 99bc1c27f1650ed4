package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"hostpost/internal/constants"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptionFailed is the only error surfaced for any decryption
// problem. Callers must not distinguish tamper from corruption in
// user-facing paths; the distinction lives only in security telemetry.
var ErrDecryptionFailed = fmt.Errorf("decryption failed")

// TokenCipher provides authenticated encryption for credentials at rest.
// Envelope layout is base64(IV || tag || ciphertext), kept stable so rows
// written by earlier deployments stay decryptable.
type TokenCipher struct {
	gcm    cipher.AEAD
	logger *logrus.Logger
}

// NewTokenCipher derives an AES-256 key from the configured secret via
// PBKDF2 and returns a ready cipher. A missing or weak secret is a fatal
// configuration error; credentials are never stored in the clear.
func NewTokenCipher(secret string, logger *logrus.Logger) (*TokenCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}
	if len(secret) < constants.MinEncryptionSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretLength)
	}

	if logger == nil {
		logger = logrus.New()
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, constants.EncryptionIVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{gcm: gcm, logger: logger}, nil
}

// NewTokenCipherFromEnv reads the secret from HOSTPOST_ENCRYPTION_SECRET.
func NewTokenCipherFromEnv(logger *logrus.Logger) (*TokenCipher, error) {
	secret := os.Getenv("HOSTPOST_ENCRYPTION_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("HOSTPOST_ENCRYPTION_SECRET environment variable is required")
	}
	return NewTokenCipher(secret, logger)
}

func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, constants.EncryptionIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := c.gcm.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the auth tag to the ciphertext; the stored envelope
	// carries the tag between IV and ciphertext.
	tagStart := len(sealed) - c.gcm.Overhead()
	envelope := make([]byte, 0, len(iv)+len(sealed))
	envelope = append(envelope, iv...)
	envelope = append(envelope, sealed[tagStart:]...)
	envelope = append(envelope, sealed[:tagStart]...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

func (c *TokenCipher) Decrypt(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		c.securityEvent("decrypt_malformed_envelope")
		return "", ErrDecryptionFailed
	}

	minLen := constants.EncryptionIVSize + c.gcm.Overhead()
	if len(data) < minLen {
		c.securityEvent("decrypt_short_envelope")
		return "", ErrDecryptionFailed
	}

	iv := data[:constants.EncryptionIVSize]
	tag := data[constants.EncryptionIVSize:minLen]
	ciphertext := data[minLen:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		c.securityEvent("decrypt_auth_failure")
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// EncryptJSON serializes the value and encrypts the resulting document.
func (c *TokenCipher) EncryptJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Encrypt(string(data))
}

// DecryptJSON decrypts the envelope and unmarshals the document into out.
func (c *TokenCipher) DecryptJSON(envelope string, out interface{}) error {
	plaintext, err := c.Decrypt(envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		c.securityEvent("decrypt_invalid_document")
		return ErrDecryptionFailed
	}
	return nil
}

// EncryptTokenMap encrypts a map of named tokens. Entries are processed
// independently; an entry that fails to encrypt is omitted rather than
// aborting the batch.
func (c *TokenCipher) EncryptTokenMap(tokens map[string]string) map[string]string {
	out := make(map[string]string, len(tokens))
	for name, token := range tokens {
		enc, err := c.Encrypt(token)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"event": "security",
				"token": name,
			}).Warn("Failed to encrypt token, omitting from batch")
			continue
		}
		out[name] = enc
	}
	return out
}

// DecryptTokenMap decrypts a map of named token envelopes. A failed entry
// maps to the empty string; the rest of the batch is unaffected.
func (c *TokenCipher) DecryptTokenMap(envelopes map[string]string) map[string]string {
	out := make(map[string]string, len(envelopes))
	for name, envelope := range envelopes {
		plaintext, err := c.Decrypt(envelope)
		if err != nil {
			out[name] = ""
			continue
		}
		out[name] = plaintext
	}
	return out
}

// securityEvent records a decryption failure without the payload.
func (c *TokenCipher) securityEvent(action string) {
	c.logger.WithFields(logrus.Fields{
		"event":     "security",
		"component": "token_cipher",
		"action":    action,
	}).Warn("Token decryption failure")
}
