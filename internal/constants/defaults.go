package constants

// Default reconciliation window values
const (
	DefaultLookaheadMinutes     = 1440
	DefaultGraceMinutes         = 360
	DefaultReconcileIntervalMin = 5
	DefaultDispatchIntervalMin  = 1
)

// Default retry configuration values
const (
	DefaultPublishRetryAttempts  = 3
	DefaultPublishBackoffMs      = 500
	DefaultPublishMaxBackoffMs   = 5000
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultDatabaseRetryAttempts = 3
)

// Default circuit breaker configuration values
const (
	DefaultFailureThreshold    = 5
	DefaultMinimumRequests     = 10
	DefaultRecoveryTimeoutSec  = 60
	DefaultMonitoringPeriodSec = 120
)

// Default dispatch configuration values
const (
	DefaultMaxDispatchAttempts  = 5
	DefaultDispatchBatchSize    = 50
	DefaultRedeliveryBackoffMin = 15
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultServerPort            = 8084
)

// OAuth state configuration
const (
	OAuthStateTTLMinutes = 10
	OAuthStateCookieName = "hostpost_oauth"
	OAuthNonceBytes      = 16
)

// Encryption parameters. The salt is application-specific and must not
// change once tokens have been written, or existing rows stop decrypting.
const (
	EncryptionSalt            = "hostpost-token-cipher-v1"
	EncryptionKeySize         = 32
	EncryptionIVSize          = 16
	EncryptionIterations      = 100000
	MinEncryptionSecretLength = 32
)

// Privacy settings
const (
	DefaultTokenMaskVisible = 4
	DefaultIDMaskLength     = 8
)
