package models

// Config holds the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Retry     RetryConfig     `json:"retry"`
	Breaker   BreakerConfig   `json:"circuit_breaker"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Platforms PlatformsConfig `json:"platforms"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig holds the admin/OAuth HTTP server configuration
type ServerConfig struct {
	Port int `json:"port"`
	// PublicBaseURL is the externally reachable base used to build OAuth
	// redirect URIs, e.g. "https://app.example.com".
	PublicBaseURL string `json:"public_base_url"`
}

// RetryConfig holds publish retry configuration
type RetryConfig struct {
	MaxAttempts      int `json:"maxAttempts"`
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
}

// BreakerConfig holds per-service circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold    int `json:"failureThreshold"`
	MinimumRequests     int `json:"minimumRequests"`
	RecoveryTimeoutSec  int `json:"recoveryTimeoutSec"`
	MonitoringPeriodSec int `json:"monitoringPeriodSec"`
}

// ReconcileConfig holds queue reconciliation windows
type ReconcileConfig struct {
	LookaheadMinutes int `json:"lookaheadMinutes"`
	GraceMinutes     int `json:"graceMinutes"`
	IntervalMinutes  int `json:"intervalMinutes"`
}

// DispatchConfig holds queue dispatch configuration
type DispatchConfig struct {
	IntervalMinutes      int `json:"intervalMinutes"`
	BatchSize            int `json:"batchSize"`
	MaxAttempts          int `json:"maxAttempts"`
	RedeliveryBackoffMin int `json:"redeliveryBackoffMin"`
}

// PlatformsConfig holds per-platform API endpoints and OAuth credentials.
// Base URLs default to the public APIs and are overridable for tests.
type PlatformsConfig struct {
	Facebook FacebookConfig `json:"facebook"`
	Twitter  TwitterConfig  `json:"twitter"`
	LinkedIn LinkedInConfig `json:"linkedin"`
}

type FacebookConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type TwitterConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	UploadBaseURL string `json:"upload_base_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
}

type LinkedInConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
