package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/crypto"
	apperrors "hostpost/internal/errors"
	"hostpost/internal/models"
	"hostpost/internal/retry"
	"hostpost/pkg/platforms/types"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL   = "https://api.twitter.com"
	defaultUploadURL = "https://upload.twitter.com"
)

// Client publishes tweets through the v2 API. Access tokens expire; an
// expired token is refreshed and the rotated pair persisted before the
// publish proceeds. Image attachments go through the v1.1 media upload
// endpoint first.
type Client struct {
	baseURL      string
	uploadURL    string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	store        types.ConnectionStore
	cipher       *crypto.TokenCipher
	backoff      *retry.Backoff
	logger       *logrus.Logger
}

func NewClient(cfg models.TwitterConfig, store types.ConnectionStore, cipher *crypto.TokenCipher, logger *logrus.Logger) *Client {
	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	uploadURL := strings.TrimSuffix(cfg.UploadBaseURL, "/")
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:      baseURL,
		uploadURL:    uploadURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeoutSec * time.Second,
		},
		store:  store,
		cipher: cipher,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: constants.DefaultPublishBackoffMs * time.Millisecond,
			MaxDelay:     constants.DefaultPublishMaxBackoffMs * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultPublishRetryAttempts,
			Jitter:       true,
		}),
		logger: logger,
	}
}

func (c *Client) Platform() string {
	return "twitter"
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func (c *Client) Publish(ctx context.Context, content types.PublishContent, tenantID string) types.PublishResult {
	conn, err := c.store.GetActiveConnection(ctx, tenantID, c.Platform())
	if err != nil {
		c.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to resolve Twitter connection")
		return types.Failure("failed to resolve twitter connection")
	}
	if conn == nil {
		return types.Failure("no active twitter connection")
	}

	token, err := c.freshToken(ctx, conn)
	if err != nil {
		return types.Failure(apperrors.GetUserMessage(err))
	}

	tweet := tweetRequest{Text: content.Text}

	if content.MediaURL != "" {
		mediaID, err := c.uploadMedia(ctx, token, content.MediaURL)
		if err != nil {
			c.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Twitter media upload failed")
			return types.Failure(types.ErrorMessage(err, "twitter media upload failed"))
		}
		tweet.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}

	var resp tweetResponse
	err = c.backoff.Do(ctx, func() error {
		return c.postJSON(ctx, "/2/tweets", token, tweet, &resp)
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"endpoint":  "/2/tweets",
		}).WithError(err).Warn("Twitter publish failed")
		return types.Failure(types.ErrorMessage(err, "twitter publish failed"))
	}

	return types.PublishResult{
		Success: true,
		PostID:  resp.Data.ID,
		URL:     fmt.Sprintf("https://twitter.com/i/web/status/%s", resp.Data.ID),
	}
}

// freshToken returns a usable access token, refreshing and persisting a
// rotated pair first when the stored token has expired. A failed refresh is
// a credential error; it never retries.
func (c *Client) freshToken(ctx context.Context, conn *models.SocialConnection) (string, error) {
	if !conn.TokenExpired(time.Now()) {
		return types.AccessToken(c.cipher, conn)
	}

	if conn.RefreshTokenEnc == "" {
		return "", apperrors.NewCredentialError(apperrors.ErrCodeTokenExpired, "access token expired and no refresh token stored")
	}

	refreshToken, err := c.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		return "", apperrors.NewCredentialError(apperrors.ErrCodeTokenDecrypt, "stored refresh token failed to decrypt")
	}

	refreshed, err := c.refreshTokens(ctx, refreshToken)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"event":         "security",
			"connection_id": conn.ID,
		}).Warn("Twitter token refresh failed")
		return "", apperrors.NewCredentialError(apperrors.ErrCodeTokenRefresh, "token refresh failed")
	}

	accessEnc, err := c.cipher.Encrypt(refreshed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt rotated access token: %w", err)
	}
	refreshEnc, err := c.cipher.Encrypt(refreshed.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	if err := c.store.RotateConnectionTokens(ctx, conn.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist rotated tokens: %w", err)
	}

	c.logger.WithField("connection_id", conn.ID).Info("Rotated Twitter tokens after refresh")
	return refreshed.AccessToken, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	var refreshed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&refreshed); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if refreshed.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}
	return &refreshed, nil
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

func (c *Client) uploadMedia(ctx context.Context, token, mediaURL string) (string, error) {
	media, err := c.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(media))

	var uploaded mediaUploadResponse
	err = c.backoff.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/1.1/media/upload.json", strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create upload request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload media: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return apperrors.NewAPIError(c.Platform(), "/1.1/media/upload.json", resp.StatusCode,
				fmt.Errorf("media upload failed with status %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
			return fmt.Errorf("failed to decode upload response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if uploaded.MediaIDString == "" {
		return "", fmt.Errorf("upload response missing media id")
	}
	return uploaded.MediaIDString, nil
}

func (c *Client) download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create media request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postJSON(ctx context.Context, endpoint, token string, payload interface{}, out *tweetResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var decoded tweetResponse
	if err := json.Unmarshal(data, &decoded); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		if decoded.Detail != "" {
			message = decoded.Detail
		} else if decoded.Title != "" {
			message = decoded.Title
		}
		return apperrors.NewAPIError(c.Platform(), endpoint, resp.StatusCode, errors.New(message))
	}

	if out != nil {
		*out = decoded
	}
	return nil
}
