package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
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

const defaultBaseURL = "https://api.linkedin.com"

// Client publishes UGC posts on behalf of a LinkedIn organization or
// member. Image posts register and upload a digital media asset first.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      types.ConnectionStore
	cipher     *crypto.TokenCipher
	backoff    *retry.Backoff
	logger     *logrus.Logger
}

func NewClient(cfg models.LinkedInConfig, store types.ConnectionStore, cipher *crypto.TokenCipher, logger *logrus.Logger) *Client {
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
	return "linkedin"
}

type ugcShareMedia struct {
	Status string `json:"status"`
	Media  string `json:"media"`
}

type ugcShareContent struct {
	ShareCommentary    map[string]string `json:"shareCommentary"`
	ShareMediaCategory string            `json:"shareMediaCategory"`
	Media              []ugcShareMedia   `json:"media,omitempty"`
}

type ugcPostRequest struct {
	Author          string                     `json:"author"`
	LifecycleState  string                     `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      map[string]string          `json:"visibility"`
}

type ugcPostResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (c *Client) Publish(ctx context.Context, content types.PublishContent, tenantID string) types.PublishResult {
	conn, err := c.store.GetActiveConnection(ctx, tenantID, c.Platform())
	if err != nil {
		c.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to resolve LinkedIn connection")
		return types.Failure("failed to resolve linkedin connection")
	}
	if conn == nil {
		return types.Failure("no active linkedin connection")
	}

	token, err := types.AccessToken(c.cipher, conn)
	if err != nil {
		return types.Failure(apperrors.GetUserMessage(err))
	}

	shareContent := ugcShareContent{
		ShareCommentary:    map[string]string{"text": content.Text},
		ShareMediaCategory: "NONE",
	}

	if content.MediaURL != "" {
		asset, err := c.uploadImage(ctx, token, conn.AccountRef, content.MediaURL)
		if err != nil {
			c.logger.WithError(err).WithField("tenant_id", tenantID).Warn("LinkedIn media upload failed")
			return types.Failure(types.ErrorMessage(err, "linkedin media upload failed"))
		}
		shareContent.ShareMediaCategory = "IMAGE"
		shareContent.Media = []ugcShareMedia{{Status: "READY", Media: asset}}
	}

	post := ugcPostRequest{
		Author:         conn.AccountRef,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var resp ugcPostResponse
	err = c.backoff.Do(ctx, func() error {
		return c.postJSON(ctx, "/v2/ugcPosts", token, post, &resp)
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"endpoint":  "/v2/ugcPosts",
		}).WithError(err).Warn("LinkedIn publish failed")
		return types.Failure(types.ErrorMessage(err, "linkedin publish failed"))
	}

	return types.PublishResult{
		Success: true,
		PostID:  resp.ID,
		URL:     fmt.Sprintf("https://www.linkedin.com/feed/update/%s", resp.ID),
	}
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism map[string]struct {
			UploadURL string `json:"uploadUrl"`
		} `json:"uploadMechanism"`
	} `json:"value"`
	Message string `json:"message"`
}

// uploadImage runs the two-step asset flow: register an upload slot, then
// push the image bytes fetched from the media URL.
func (c *Client) uploadImage(ctx context.Context, token, owner, mediaURL string) (string, error) {
	register := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   owner,
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}

	var registered registerUploadResponse
	err := c.backoff.Do(ctx, func() error {
		return c.postJSON(ctx, "/v2/assets?action=registerUpload", token, register, &registered)
	})
	if err != nil {
		return "", err
	}

	mechanism, ok := registered.Value.UploadMechanism["com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"]
	if !ok || mechanism.UploadURL == "" {
		return "", fmt.Errorf("register upload response missing upload URL")
	}

	media, err := c.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	err = c.backoff.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, mechanism.UploadURL, bytes.NewReader(media))
		if err != nil {
			return fmt.Errorf("failed to create upload request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload media: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return apperrors.NewAPIError(c.Platform(), "asset-upload", resp.StatusCode,
				fmt.Errorf("media upload failed with status %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return registered.Value.Asset, nil
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

func (c *Client) postJSON(ctx context.Context, endpoint, token string, payload, out interface{}) error {
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
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		var failure ugcPostResponse
		if json.Unmarshal(data, &failure) == nil && failure.Message != "" {
			message = failure.Message
		}
		return apperrors.NewAPIError(c.Platform(), endpoint, resp.StatusCode, errors.New(message))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
