package oauthstate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/crypto"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cipher, err := crypto.NewTokenCipher("test-encryption-secret-at-least-32-chars", logger)
	require.NoError(t, err)
	return NewStore(cipher, ttl, false, logger)
}

// carry transfers Set-Cookie headers from a response onto a new request,
// mimicking a browser between the persist and consume round trips.
func carry(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge >= 0 {
			req.AddCookie(cookie)
		}
	}
	return req
}

func TestPersistConsume_RoundTrip(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)

	nonce, err := store.Persist(rec, req, Entry{
		TenantID:     "tenant-1",
		UserID:       "user-9",
		RedirectPath: "/settings/connections",
		Platform:     "facebook",
	})
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	rec2 := httptest.NewRecorder()
	entry, err := store.Consume(rec2, carry(t, rec), nonce)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "tenant-1", entry.TenantID)
	assert.Equal(t, "user-9", entry.UserID)
	assert.Equal(t, "/settings/connections", entry.RedirectPath)
	assert.Equal(t, "facebook", entry.Platform)
}

func TestConsume_SingleUse(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	nonce, err := store.Persist(rec, req, Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	rec2 := httptest.NewRecorder()
	entry, err := store.Consume(rec2, carry(t, rec), nonce)
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Second consume with the same nonce returns nothing, even with the
	// rewritten cookie.
	rec3 := httptest.NewRecorder()
	entry, err = store.Consume(rec3, carry(t, rec2), nonce)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestConsume_UnknownNonce(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)

	entry, err := store.Consume(rec, req, "deadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestConsume_Expired(t *testing.T) {
	store := newTestStore(t, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	nonce, err := store.Persist(rec, req, Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	rec2 := httptest.NewRecorder()
	entry, err := store.Consume(rec2, carry(t, rec), nonce)
	require.NoError(t, err)
	assert.Nil(t, entry, "post-expiry replay must look like an unknown nonce")
}

func TestPersist_PrunesExpiredEntries(t *testing.T) {
	store := newTestStore(t, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	stale, err := store.Persist(rec, req, Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// Persisting a fresh entry prunes the stale one from the map.
	rec2 := httptest.NewRecorder()
	fresh, err := store.Persist(rec2, carry(t, rec), Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	rec3 := httptest.NewRecorder()
	entry, err := store.Consume(rec3, carry(t, rec2), stale)
	require.NoError(t, err)
	assert.Nil(t, entry)

	rec4 := httptest.NewRecorder()
	entry, err = store.Consume(rec4, carry(t, rec3), fresh)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestLoad_UndecryptableCookieResetsStore(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	req.AddCookie(&http.Cookie{
		Name:  constants.OAuthStateCookieName,
		Value: "garbage-from-a-rotated-secret",
	})

	entry, err := store.Consume(rec, req, "deadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// The broken cookie was deleted rather than surfaced as an error.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	deleted := false
	for _, c := range cookies {
		if c.Name == constants.OAuthStateCookieName && c.MaxAge < 0 {
			deleted = true
		}
	}
	assert.True(t, deleted)
}

func TestWrite_EmptyStoreDeletesCookie(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	nonce, err := store.Persist(rec, req, Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	// Consuming the only entry empties the map; the rewrite deletes the
	// cookie instead of storing an empty blob.
	rec2 := httptest.NewRecorder()
	_, err = store.Consume(rec2, carry(t, rec), nonce)
	require.NoError(t, err)

	var stateCookie *http.Cookie
	for _, c := range rec2.Result().Cookies() {
		if c.Name == constants.OAuthStateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.True(t, stateCookie.MaxAge < 0)
}

func TestCookieAttributes(t *testing.T) {
	store := newTestStore(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	_, err := store.Persist(rec, req, Entry{TenantID: "tenant-1"})
	require.NoError(t, err)

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.OAuthStateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.True(t, stateCookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, stateCookie.SameSite)
	assert.Equal(t, 60, stateCookie.MaxAge)
}
