// Package config loads formreg settings from environment variables.
// Defaults are applied for unset values and everything is validated on
// startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Files      FilesConfig
	Export     ExportConfig
	Submission SubmissionConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default so long CSV exports are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-export API requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverS3       = "s3"
)

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Driver is postgres or memory. The memory driver keeps nothing across
	// restarts and is meant for local development.
	Driver string `env:"STORAGE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`

	// SeedFile is a schema fixture applied on startup. It is how the memory
	// driver gets any schemas at all.
	SeedFile string `env:"STORAGE_SEED_FILE"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET" required:"true"`
	Issuer    string        `env:"AUTH_ISSUER" default:"formreg"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL" default:"24h"`
}

// FilesConfig selects where uploaded file ids are resolved.
type FilesConfig struct {
	// Driver is postgres (uploaded_files table, or the memory store when
	// STORAGE_DRIVER=memory) or s3.
	Driver string `env:"FILES_DRIVER" default:"postgres"`

	S3Region    string `env:"FILES_S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`
	S3Bucket    string `env:"FILES_S3_BUCKET"`
	S3Prefix    string `env:"FILES_S3_PREFIX" default:"uploads"`
	S3Endpoint  string `env:"FILES_S3_ENDPOINT"`
	S3AccessKey string `env:"FILES_S3_ACCESS_KEY"`
	S3SecretKey string `env:"FILES_S3_SECRET_KEY"`
}

// ExportConfig bounds export load.
type ExportConfig struct {
	MaxConcurrent int           `env:"EXPORT_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"EXPORT_MAX_WAIT_TIME" default:"30s"`

	// Parallelism is how many submissions the HTML preview fetches at once.
	Parallelism int `env:"EXPORT_PARALLELISM" default:"8"`

	// PreviewRows caps the rows rendered by the HTML preview.
	PreviewRows int `env:"EXPORT_PREVIEW_ROWS" default:"200"`
}

// SubmissionConfig holds submission workflow settings.
type SubmissionConfig struct {
	// LockWait bounds the wait to enter the create critical section.
	LockWait time.Duration `env:"SUBMISSION_LOCK_WAIT" default:"10s"`

	// MaxBodyBytes caps submission request bodies.
	MaxBodyBytes int64 `env:"SUBMISSION_MAX_BODY_BYTES" default:"1048576"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExportLimit is requests per minute for export endpoints.
	ExportLimit int `env:"RATE_LIMIT_EXPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// AuditConfig holds audit trail retention settings.
type AuditConfig struct {
	// RetentionDays is how long audit entries are kept; 0 keeps them forever.
	RetentionDays int           `env:"AUDIT_RETENTION_DAYS" default:"365"`
	BatchSize     int           `env:"AUDIT_RETENTION_BATCH_SIZE" default:"5000"`
	CheckInterval time.Duration `env:"AUDIT_RETENTION_INTERVAL" default:"24h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
