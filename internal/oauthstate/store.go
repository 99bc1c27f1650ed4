package oauthstate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/crypto"

	"github.com/sirupsen/logrus"
)

// Entry is the single-use state tied to one OAuth authorization round-trip.
type Entry struct {
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	RedirectPath string    `json:"redirect_path,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store keeps OAuth state entries in a single encrypted cookie: one
// nonce-keyed map per browser, never one cookie per nonce. An attacker who
// can read cookies cannot forge or enumerate state.
type Store struct {
	cipher *crypto.TokenCipher
	ttl    time.Duration
	secure bool
	logger *logrus.Logger
}

// NewStore creates a cookie-backed state store. secure controls the cookie
// Secure attribute and should be true in production.
func NewStore(cipher *crypto.TokenCipher, ttl time.Duration, secure bool, logger *logrus.Logger) *Store {
	if ttl <= 0 {
		ttl = constants.OAuthStateTTLMinutes * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		cipher: cipher,
		ttl:    ttl,
		secure: secure,
		logger: logger,
	}
}

// Persist stores the entry under a fresh random nonce, prunes expired
// entries, and rewrites the cookie. It returns the nonce to embed in the
// OAuth state parameter.
func (s *Store) Persist(w http.ResponseWriter, r *http.Request, entry Entry) (string, error) {
	entries := s.load(w, r)

	nonceBytes := make([]byte, constants.OAuthNonceBytes)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(s.ttl)

	s.prune(entries, now)
	entries[nonce] = entry

	if err := s.write(w, entries); err != nil {
		return "", err
	}
	return nonce, nil
}

// Consume looks up and deletes the entry for the nonce. A nonce is usable
// exactly once; an expired entry is indistinguishable from an unknown one.
// The cookie is rewritten after pruning regardless of the outcome.
func (s *Store) Consume(w http.ResponseWriter, r *http.Request, nonce string) (*Entry, error) {
	entries := s.load(w, r)

	entry, found := entries[nonce]
	if found {
		delete(entries, nonce)
	}

	now := time.Now()
	s.prune(entries, now)

	if err := s.write(w, entries); err != nil {
		return nil, err
	}

	if !found || entry.ExpiresAt.Before(now) {
		return nil, nil
	}
	return &entry, nil
}

// load decodes the backing cookie into a nonce-keyed map. A cookie that no
// longer decrypts (rotated secret, tampering) is treated as an empty store
// and deleted rather than surfaced as an error.
func (s *Store) load(w http.ResponseWriter, r *http.Request) map[string]Entry {
	entries := make(map[string]Entry)

	cookie, err := r.Cookie(constants.OAuthStateCookieName)
	if err != nil || cookie.Value == "" {
		return entries
	}

	if err := s.cipher.DecryptJSON(cookie.Value, &entries); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event":     "security",
			"component": "oauth_state",
		}).Warn("OAuth state cookie failed to decrypt, resetting store")
		s.deleteCookie(w)
		return make(map[string]Entry)
	}
	return entries
}

func (s *Store) prune(entries map[string]Entry, now time.Time) {
	for nonce, entry := range entries {
		if entry.ExpiresAt.Before(now) {
			delete(entries, nonce)
		}
	}
}

func (s *Store) write(w http.ResponseWriter, entries map[string]Entry) error {
	if len(entries) == 0 {
		s.deleteCookie(w)
		return nil
	}

	value, err := s.cipher.EncryptJSON(entries)
	if err != nil {
		return fmt.Errorf("failed to encrypt state store: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     constants.OAuthStateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Store) deleteCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.OAuthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
