package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects Postgres. When empty the embedded SQLite database at
	// SQLitePath is used.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool
	SQLitePath  string

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// If true, SPENDSYNC_TOKEN_HMAC_KEY must be set (>= 32 bytes) and token
	// digests are HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	SessionSweepInterval time.Duration
	MetricsEnabled       bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SPENDSYNC_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SPENDSYNC_LOG_LEVEL", "info"),
		LogFormat: EnvString("SPENDSYNC_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SPENDSYNC_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SPENDSYNC_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SPENDSYNC_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SPENDSYNC_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("SPENDSYNC_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("SPENDSYNC_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SPENDSYNC_DATABASE_URL", ""),
		DBSchema:    EnvString("SPENDSYNC_DB_SCHEMA", "spendsync"),
		DBMaxConns:  EnvInt32("SPENDSYNC_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SPENDSYNC_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("SPENDSYNC_DB_MIGRATE", true),
		SQLitePath:  EnvString("SPENDSYNC_SQLITE_PATH", "spendsync.db"),

		ReadinessRequireDB: EnvBool("SPENDSYNC_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("SPENDSYNC_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("SPENDSYNC_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("SPENDSYNC_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("SPENDSYNC_CORS_MAX_AGE_SECONDS", 600),

		SessionSweepInterval: EnvDuration("SPENDSYNC_SESSION_SWEEP_INTERVAL", 10*time.Minute),
		MetricsEnabled:       EnvBool("SPENDSYNC_METRICS_ENABLED", true),
	}
}
