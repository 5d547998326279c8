package app

import (
	"time"

	"loyalty/cmd/security/token"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Environment string

	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL    string
	DatabaseSchema string
	DBMaxConns     int32
	DBMinConns     int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Issuer is stamped into identity tokens; scanned tokens carrying a
	// different issuer are rejected.
	Issuer string

	RedemptionTTL time.Duration
	QRImageSize   int

	// JobHour is the UTC hour the in-process expiration job fires at; -1 disables it.
	JobHour int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSAllowedOrigins []string
	WSOriginRequired bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	env := EnvString("LOYALTY_ENV", "development")

	return Config{
		Environment: env,

		HTTPAddr:  EnvString("LOYALTY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LOYALTY_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOYALTY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LOYALTY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOYALTY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LOYALTY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LOYALTY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LOYALTY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:    EnvString("LOYALTY_DATABASE_URL", ""),
		DatabaseSchema: EnvString("LOYALTY_DATABASE_SCHEMA", "public"),
		DBMaxConns:     EnvInt32("LOYALTY_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("LOYALTY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LOYALTY_READINESS_REQUIRE_DB", false),

		Issuer: EnvString("LOYALTY_TOKEN_ISSUER", "sarnies_loyalty"),

		RedemptionTTL: EnvDuration("LOYALTY_REDEMPTION_TTL", 120*time.Second),
		QRImageSize:   EnvInt("LOYALTY_QR_IMAGE_SIZE", 400),

		JobHour: EnvHour("LOYALTY_EXPIRATION_HOUR", -1),

		CORSAllowedOrigins:   EnvList("LOYALTY_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("LOYALTY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("LOYALTY_CORS_MAX_AGE_SECONDS", 600),

		WSAllowedOrigins: EnvList("LOYALTY_WS_ALLOWED_ORIGINS"),
		// Outside production a missing Origin is accepted so non-browser
		// clients can subscribe without extra setup.
		WSOriginRequired: EnvBool("LOYALTY_WS_ORIGIN_REQUIRED", token.IsProduction(env)),
	}
}
