package twitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hostpost/internal/crypto"
	"hostpost/internal/models"
	"hostpost/pkg/platforms/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rotation struct {
	connectionID    int64
	accessTokenEnc  string
	refreshTokenEnc string
	expiresAt       time.Time
}

type mockStore struct {
	conn    *models.SocialConnection
	err     error
	rotated *rotation
}

func (m *mockStore) GetActiveConnection(ctx context.Context, tenantID, platform string) (*models.SocialConnection, error) {
	return m.conn, m.err
}

func (m *mockStore) RotateConnectionTokens(ctx context.Context, connectionID int64, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error {
	m.rotated = &rotation{
		connectionID:    connectionID,
		accessTokenEnc:  accessTokenEnc,
		refreshTokenEnc: refreshTokenEnc,
		expiresAt:       expiresAt,
	}
	return nil
}

func newTestCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cipher, err := crypto.NewTokenCipher("test-encryption-secret-at-least-32-chars", logger)
	require.NoError(t, err)
	return cipher
}

func newTestClient(t *testing.T, serverURL string, store *mockStore) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(
		models.TwitterConfig{
			APIBaseURL:    serverURL,
			UploadBaseURL: serverURL,
			ClientID:      "client-id",
			ClientSecret:  "client-secret",
		},
		store,
		newTestCipher(t),
		logger,
	)
}

func validConn(t *testing.T, accessToken string) *models.SocialConnection {
	t.Helper()
	enc, err := newTestCipher(t).Encrypt(accessToken)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	return &models.SocialConnection{
		ID:             7,
		TenantID:       "tenant-1",
		Platform:       "twitter",
		AccountRef:     "123456",
		AccessTokenEnc: enc,
		TokenExpiresAt: &future,
		Active:         true,
	}
}

func TestPublish_Tweet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer valid-token", r.Header.Get("Authorization"))

		var tweet tweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tweet))
		assert.Equal(t, "Weekend brunch is back", tweet.Text)
		assert.Nil(t, tweet.Media)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data": {"id": "1750000000000000000"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &mockStore{conn: validConn(t, "valid-token")})
	result := client.Publish(context.Background(), types.PublishContent{Text: "Weekend brunch is back"}, "tenant-1")

	assert.True(t, result.Success)
	assert.Equal(t, "1750000000000000000", result.PostID)
	assert.Equal(t, "https://twitter.com/i/web/status/1750000000000000000", result.URL)
}

func TestPublish_RefreshesExpiredToken(t *testing.T) {
	cipher := newTestCipher(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/oauth2/token":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-id", user)
			assert.Equal(t, "client-secret", pass)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "old-refresh-token", r.PostForm.Get("refresh_token"))

			w.Write([]byte(`{"access_token": "new-access-token", "refresh_token": "new-refresh-token", "expires_in": 7200}`))
		case "/2/tweets":
			assert.Equal(t, "Bearer new-access-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data": {"id": "42"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	accessEnc, err := cipher.Encrypt("expired-access-token")
	require.NoError(t, err)
	refreshEnc, err := cipher.Encrypt("old-refresh-token")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)

	store := &mockStore{conn: &models.SocialConnection{
		ID:              7,
		TenantID:        "tenant-1",
		Platform:        "twitter",
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  &past,
		Active:          true,
	}}

	client := newTestClient(t, server.URL, store)
	result := client.Publish(context.Background(), types.PublishContent{Text: "after refresh"}, "tenant-1")

	assert.True(t, result.Success)

	// Rotated tokens were persisted encrypted.
	require.NotNil(t, store.rotated)
	assert.Equal(t, int64(7), store.rotated.connectionID)

	access, err := cipher.Decrypt(store.rotated.accessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "new-access-token", access)

	refresh, err := cipher.Decrypt(store.rotated.refreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh-token", refresh)

	assert.WithinDuration(t, time.Now().Add(2*time.Hour), store.rotated.expiresAt, time.Minute)
}

func TestPublish_FailedRefreshIsTerminal(t *testing.T) {
	var tweetCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/oauth2/token":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "invalid_grant"}`))
		case "/2/tweets":
			atomic.AddInt32(&tweetCalls, 1)
		}
	}))
	defer server.Close()

	cipher := newTestCipher(t)
	accessEnc, err := cipher.Encrypt("expired-access-token")
	require.NoError(t, err)
	refreshEnc, err := cipher.Encrypt("revoked-refresh-token")
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)

	store := &mockStore{conn: &models.SocialConnection{
		ID:              7,
		TenantID:        "tenant-1",
		Platform:        "twitter",
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  &past,
		Active:          true,
	}}

	client := newTestClient(t, server.URL, store)
	result := client.Publish(context.Background(), types.PublishContent{Text: "never sent"}, "tenant-1")

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, store.rotated)
	assert.Equal(t, int32(0), atomic.LoadInt32(&tweetCalls), "publish must not proceed after a failed refresh")
}

func TestPublish_ExpiredWithoutRefreshToken(t *testing.T) {
	cipher := newTestCipher(t)
	accessEnc, err := cipher.Encrypt("expired-access-token")
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)

	store := &mockStore{conn: &models.SocialConnection{
		ID:             7,
		TenantID:       "tenant-1",
		Platform:       "twitter",
		AccessTokenEnc: accessEnc,
		TokenExpiresAt: &past,
		Active:         true,
	}}

	client := newTestClient(t, "http://unused.invalid", store)
	result := client.Publish(context.Background(), types.PublishContent{Text: "stuck"}, "tenant-1")

	assert.False(t, result.Success)
}

func TestPublish_WithMediaUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.png":
			w.Write([]byte("png-bytes"))
		case "/1.1/media/upload.json":
			assert.Equal(t, "Bearer valid-token", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseForm())
			assert.NotEmpty(t, r.PostForm.Get("media_data"))
			w.Write([]byte(`{"media_id_string": "9001"}`))
		case "/2/tweets":
			var tweet tweetRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&tweet))
			require.NotNil(t, tweet.Media)
			assert.Equal(t, []string{"9001"}, tweet.Media.MediaIDs)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data": {"id": "43"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &mockStore{conn: validConn(t, "valid-token")})
	result := client.Publish(context.Background(), types.PublishContent{
		Text:     "with picture",
		MediaURL: server.URL + "/image.png",
	}, "tenant-1")

	assert.True(t, result.Success)
	assert.Equal(t, "43", result.PostID)
}

func TestPublish_RateLimitedThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"detail": "Too Many Requests"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data": {"id": "44"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &mockStore{conn: validConn(t, "valid-token")})
	result := client.Publish(context.Background(), types.PublishContent{Text: "retry 429"}, "tenant-1")

	assert.True(t, result.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPublish_ForbiddenIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail": "You are not allowed to create a Tweet with duplicate content."}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &mockStore{conn: validConn(t, "valid-token")})
	result := client.Publish(context.Background(), types.PublishContent{Text: "duplicate"}, "tenant-1")

	assert.False(t, result.Success)
	assert.Equal(t, "You are not allowed to create a Tweet with duplicate content.", result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
