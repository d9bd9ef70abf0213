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
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// IdempotencyTTL bounds how long a clientMessageId deduplicates retries. 0 keeps keys forever.
	IdempotencyTTL           time.Duration
	IdempotencySweepInterval time.Duration

	// SendRatePerSec <= 0 disables per-sender send limiting.
	SendRatePerSec float64
	SendBurst      int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COMM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COMM_LOG_LEVEL", "info"),
		LogFormat: EnvString("COMM_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COMM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COMM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COMM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COMM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COMM_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   int64(EnvInt("COMM_MAX_BODY_BYTES", 1<<20)),

		DatabaseURL:   EnvString("COMM_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("COMM_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("COMM_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("COMM_DB_SCHEMA", "communicator"),
		DBAutoMigrate: EnvBool("COMM_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("COMM_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("COMM_CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		CORSAllowCredentials: EnvBool("COMM_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("COMM_CORS_MAX_AGE_SECONDS", 600),

		IdempotencyTTL:           EnvDurationOrZero("COMM_IDEMPOTENCY_TTL", 7*24*time.Hour),
		IdempotencySweepInterval: EnvDuration("COMM_IDEMPOTENCY_SWEEP_INTERVAL", 10*time.Minute),

		SendRatePerSec: EnvFloat("COMM_SEND_RATE_PER_SEC", 5),
		SendBurst:      EnvInt("COMM_SEND_BURST", 50),
	}
}
