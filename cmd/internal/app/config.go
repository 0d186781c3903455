package app

import (
	"errors"
	"time"

	"bazaar/cmd/internal/auth"
)

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

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	AuthIssuer       string
	AuthPublicKeyHex string
	AuthSecretKeyHex string
	AuthTokenTTL     time.Duration

	PollInterval   time.Duration
	PollMaxWaiters int
	PresenceTTL    time.Duration

	SendRPS   float64
	SendBurst int

	// Empty brokers keep notifications in the log only.
	KafkaBrokers []string
	KafkaTopic   string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BAZAAR_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BAZAAR_LOG_LEVEL", "info"),
		LogFormat: EnvString("BAZAAR_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BAZAAR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BAZAAR_HTTP_READ_TIMEOUT", 15*time.Second),
		// Must outlive the longest long-poll.
		WriteTimeout: EnvDuration("BAZAAR_HTTP_WRITE_TIMEOUT", 75*time.Second),
		IdleTimeout:  EnvDuration("BAZAAR_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BAZAAR_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   int64(EnvInt("BAZAAR_HTTP_MAX_BODY_BYTES", 64<<10)),

		DatabaseURL:   EnvString("BAZAAR_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("BAZAAR_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("BAZAAR_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("BAZAAR_DB_SCHEMA", "bazaar"),
		DBAutoMigrate: EnvBool("BAZAAR_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("BAZAAR_READINESS_REQUIRE_DB", false),

		AuthIssuer:       EnvString("BAZAAR_AUTH_ISSUER", "bazaar"),
		AuthPublicKeyHex: EnvString("BAZAAR_AUTH_PUBLIC_KEY_HEX", ""),
		AuthSecretKeyHex: EnvString("BAZAAR_AUTH_SECRET_KEY_HEX", ""),
		AuthTokenTTL:     EnvDuration("BAZAAR_AUTH_TOKEN_TTL", 24*time.Hour),

		PollInterval:   EnvDuration("BAZAAR_POLL_INTERVAL", time.Second),
		PollMaxWaiters: EnvInt("BAZAAR_POLL_MAX_WAITERS", 1024),
		PresenceTTL:    EnvDuration("BAZAAR_PRESENCE_TTL", 5*time.Minute),

		SendRPS:   EnvFloat("BAZAAR_SEND_RPS", 5),
		SendBurst: EnvInt("BAZAAR_SEND_BURST", 10),

		KafkaBrokers: EnvCSV("BAZAAR_KAFKA_BROKERS", nil),
		KafkaTopic:   EnvString("BAZAAR_KAFKA_TOPIC", "bazaar.message.created"),
	}
}

// AuthConfig projects the token settings.
func (c Config) AuthConfig() auth.Config {
	ac := auth.DefaultConfig()
	if c.AuthIssuer != "" {
		ac.Issuer = c.AuthIssuer
	}
	ac.PublicKeyHex = c.AuthPublicKeyHex
	ac.SecretKeyHex = c.AuthSecretKeyHex
	if c.AuthTokenTTL > 0 {
		ac.TokenTTL = c.AuthTokenTTL
	}
	return ac
}

// ValidateConfig fails fast on settings that would leave the server unable to authenticate anyone.
func ValidateConfig(cfg Config) error {
	if cfg.AuthPublicKeyHex == "" && cfg.AuthSecretKeyHex == "" {
		return errors.New("config: BAZAAR_AUTH_PUBLIC_KEY_HEX or BAZAAR_AUTH_SECRET_KEY_HEX is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return errors.New("config: BAZAAR_KAFKA_TOPIC is required when brokers are set")
	}
	return nil
}
