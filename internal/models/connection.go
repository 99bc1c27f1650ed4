package models

import (
	"time"
)

// SocialConnection binds a tenant to one external platform account. Created
// by the OAuth completion flow; the publishing core reads it and only writes
// back rotated tokens after a refresh.
type SocialConnection struct {
	ID       int64  `db:"id"`
	TenantID string `db:"tenant_id"`
	Platform string `db:"platform"`
	// AccountRef is the platform-side identity the connection publishes as:
	// a Facebook page ID, a LinkedIn author URN, a Twitter user ID.
	AccountRef string `db:"account_ref"`
	// AccessToken is the legacy plaintext column, populated only on rows
	// written before encryption at rest. Empty once a row has been migrated.
	AccessToken     string     `db:"access_token"`
	AccessTokenEnc  string     `db:"access_token_enc"`
	RefreshTokenEnc string     `db:"refresh_token_enc"`
	TokenExpiresAt  *time.Time `db:"token_expires_at"`
	Active          bool       `db:"active"`
	DeletedAt       *time.Time `db:"deleted_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (c *SocialConnection) Usable() bool {
	return c.Active && c.DeletedAt == nil
}

// TokenExpired reports whether the access token has passed its recorded
// expiry. Connections without an expiry never report expired.
func (c *SocialConnection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && !c.TokenExpiresAt.After(now)
}
