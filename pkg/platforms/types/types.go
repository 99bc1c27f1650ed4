package types

import (
	"context"
	"errors"
	"strings"
	"time"

	"hostpost/internal/crypto"
	apperrors "hostpost/internal/errors"
	"hostpost/internal/models"
)

// PublishContent is the platform-neutral payload of one delivery attempt.
type PublishContent struct {
	Text     string
	MediaURL string
}

// PublishResult is the uniform outcome of a publish attempt. Ordinary
// platform rejections are a Success=false result, never an error value.
type PublishResult struct {
	Success bool   `json:"success"`
	PostID  string `json:"postId,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure builds a failed result with the given message.
func Failure(message string) PublishResult {
	return PublishResult{Success: false, Error: message}
}

// Publisher is one platform adapter. The dispatcher depends only on this
// interface, never on a concrete platform.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, content PublishContent, tenantID string) PublishResult
}

// ConnectionStore resolves connections and persists rotated tokens. The
// concrete implementation lives in the storage layer.
type ConnectionStore interface {
	GetActiveConnection(ctx context.Context, tenantID, platform string) (*models.SocialConnection, error)
	RotateConnectionTokens(ctx context.Context, connectionID int64, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error
}

// Normalize resolves platform-name synonyms to a canonical value so that
// post targets and connection rows written by different surfaces match.
func Normalize(platform string) string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "facebook", "meta", "fb":
		return "facebook"
	case "instagram", "instagram_business", "ig":
		return "instagram"
	case "twitter", "x":
		return "twitter"
	case "linkedin":
		return "linkedin"
	default:
		return strings.ToLower(strings.TrimSpace(platform))
	}
}

// ErrorMessage maps a final publish error to the message carried on the
// failed result: the platform's own error message when the upstream
// answered with a status, the generic fallback for transport failures.
func ErrorMessage(err error, generic string) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if _, hasStatus := appErr.Context["status_code"]; hasStatus && appErr.Cause != nil {
			return appErr.Cause.Error()
		}
	}
	return generic
}

// AccessToken decrypts the connection's stored access token. Rows written
// before encryption at rest still hold a plaintext token; those fall
// through untouched until the migration backfill rewrites them.
func AccessToken(cipher *crypto.TokenCipher, conn *models.SocialConnection) (string, error) {
	if conn.AccessTokenEnc != "" {
		token, err := cipher.Decrypt(conn.AccessTokenEnc)
		if err != nil {
			return "", apperrors.NewCredentialError(apperrors.ErrCodeTokenDecrypt, "stored access token failed to decrypt")
		}
		return token, nil
	}
	if conn.AccessToken != "" {
		return conn.AccessToken, nil
	}
	return "", apperrors.NewCredentialError(apperrors.ErrCodeNoConnection, "connection has no stored access token")
}
