package config

import (
	"encoding/json"
	"fmt"
	"os"

	"hostpost/internal/constants"
	"hostpost/internal/models"
	"hostpost/internal/security"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultPublishRetryAttempts
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultPublishBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultPublishMaxBackoffMs
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.Breaker.MinimumRequests <= 0 {
		c.Breaker.MinimumRequests = constants.DefaultMinimumRequests
	}
	if c.Breaker.RecoveryTimeoutSec <= 0 {
		c.Breaker.RecoveryTimeoutSec = constants.DefaultRecoveryTimeoutSec
	}
	if c.Breaker.MonitoringPeriodSec <= 0 {
		c.Breaker.MonitoringPeriodSec = constants.DefaultMonitoringPeriodSec
	}

	if c.Reconcile.LookaheadMinutes <= 0 {
		c.Reconcile.LookaheadMinutes = constants.DefaultLookaheadMinutes
	}
	if c.Reconcile.GraceMinutes <= 0 {
		c.Reconcile.GraceMinutes = constants.DefaultGraceMinutes
	}
	if c.Reconcile.IntervalMinutes <= 0 {
		c.Reconcile.IntervalMinutes = constants.DefaultReconcileIntervalMin
	}

	if c.Dispatch.IntervalMinutes <= 0 {
		c.Dispatch.IntervalMinutes = constants.DefaultDispatchIntervalMin
	}
	if c.Dispatch.BatchSize <= 0 {
		c.Dispatch.BatchSize = constants.DefaultDispatchBatchSize
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = constants.DefaultMaxDispatchAttempts
	}
	if c.Dispatch.RedeliveryBackoffMin <= 0 {
		c.Dispatch.RedeliveryBackoffMin = constants.DefaultRedeliveryBackoffMin
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("HOSTPOST_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("HOSTPOST_PUBLIC_BASE_URL"); url != "" {
		c.Server.PublicBaseURL = url
	}

	// SECURITY: OAuth client secrets should be set via environment variables
	if v := os.Getenv("HOSTPOST_FACEBOOK_CLIENT_ID"); v != "" {
		c.Platforms.Facebook.ClientID = v
	}
	if v := os.Getenv("HOSTPOST_FACEBOOK_CLIENT_SECRET"); v != "" {
		c.Platforms.Facebook.ClientSecret = v
	}
	if v := os.Getenv("HOSTPOST_TWITTER_CLIENT_ID"); v != "" {
		c.Platforms.Twitter.ClientID = v
	}
	if v := os.Getenv("HOSTPOST_TWITTER_CLIENT_SECRET"); v != "" {
		c.Platforms.Twitter.ClientSecret = v
	}
	if v := os.Getenv("HOSTPOST_LINKEDIN_CLIENT_ID"); v != "" {
		c.Platforms.LinkedIn.ClientID = v
	}
	if v := os.Getenv("HOSTPOST_LINKEDIN_CLIENT_SECRET"); v != "" {
		c.Platforms.LinkedIn.ClientSecret = v
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// The token cipher fails fast on its own, but catching a missing or
	// weak secret here gives a clearer startup error.
	secret := os.Getenv("HOSTPOST_ENCRYPTION_SECRET")
	if secret == "" {
		return models.ConfigError{Message: "encryption secret is required (set HOSTPOST_ENCRYPTION_SECRET environment variable)"}
	}
	if len(secret) < constants.MinEncryptionSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretLength)}
	}

	isProduction := os.Getenv("HOSTPOST_ENV") == "production"
	if isProduction {
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Server.PublicBaseURL == "" {
			return models.ConfigError{Message: "public base URL is required in production (OAuth redirect URIs depend on it)"}
		}
	}

	return nil
}

// IsProduction reports whether the process runs with the production
// environment flag. Controls the Secure attribute on the OAuth cookie.
func IsProduction() bool {
	return os.Getenv("HOSTPOST_ENV") == "production"
}
