package facebook

import (
	"context"
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

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// Client publishes to Facebook pages through the Graph API. Text-only posts
// go to the page feed; posts with media go through the photos endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      types.ConnectionStore
	cipher     *crypto.TokenCipher
	backoff    *retry.Backoff
	logger     *logrus.Logger
}

func NewClient(cfg models.FacebookConfig, store types.ConnectionStore, cipher *crypto.TokenCipher, logger *logrus.Logger) *Client {
	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL: baseURL,
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
	return "facebook"
}

type graphResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
	Error  *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) Publish(ctx context.Context, content types.PublishContent, tenantID string) types.PublishResult {
	conn, err := c.store.GetActiveConnection(ctx, tenantID, c.Platform())
	if err != nil {
		c.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to resolve Facebook connection")
		return types.Failure("failed to resolve facebook connection")
	}
	if conn == nil {
		return types.Failure("no active facebook connection")
	}

	token, err := types.AccessToken(c.cipher, conn)
	if err != nil {
		return types.Failure(apperrors.GetUserMessage(err))
	}

	var endpoint string
	form := url.Values{}
	form.Set("access_token", token)

	if content.MediaURL != "" {
		endpoint = fmt.Sprintf("/%s/photos", conn.AccountRef)
		form.Set("url", content.MediaURL)
		form.Set("caption", content.Text)
	} else {
		endpoint = fmt.Sprintf("/%s/feed", conn.AccountRef)
		form.Set("message", content.Text)
	}

	var resp graphResponse
	err = c.backoff.Do(ctx, func() error {
		return c.postForm(ctx, endpoint, form, &resp)
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"endpoint":  endpoint,
		}).WithError(err).Warn("Facebook publish failed")
		return types.Failure(types.ErrorMessage(err, "facebook publish failed"))
	}

	postID := resp.PostID
	if postID == "" {
		postID = resp.ID
	}

	return types.PublishResult{
		Success: true,
		PostID:  postID,
		URL:     fmt.Sprintf("https://www.facebook.com/%s", postID),
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out *graphResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var decoded graphResponse
	if err := json.Unmarshal(body, &decoded); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			message = decoded.Error.Message
		}
		return apperrors.NewAPIError(c.Platform(), endpoint, resp.StatusCode, errors.New(message))
	}

	*out = decoded
	return nil
}
