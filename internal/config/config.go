// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, authentication, the WhatsApp Cloud API
// credentials, background workers, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-wa-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and addresses the relational store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// AuthConfig holds session and token settings.
type AuthConfig struct {
	JWTSecret    string
	SessionTTL   time.Duration
	CookieName   string
	CookieSecure bool
}

// WhatsAppConfig holds Cloud API credentials and webhook secrets.
type WhatsAppConfig struct {
	APIBase           string        // WA_API_BASE
	APIVersion        string        // WA_API_VERSION
	Token             string        // WA_TOKEN (system user access token)
	BusinessAccountID string        // WA_BUSINESS_ACCOUNT_ID, used for template sync
	VerifyToken       string        // WA_VERIFY_TOKEN for GET /webhook
	AppSecret         string        // WA_APP_SECRET for X-Hub-Signature-256
	HTTPTimeout       time.Duration // WA_HTTP_TIMEOUT
}

// BroadcastConfig tunes the broadcast dispatcher.
type BroadcastConfig struct {
	PollInterval time.Duration
	Workers      int
	MaxRetries   int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Auth
	Auth AuthConfig

	// WhatsApp Cloud API
	WhatsApp WhatsAppConfig

	// Workers
	Broadcast BroadcastConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Realtime
	WSAllowedOrigins []string

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Load reads the environment, applies defaults and normalization, and
// validates the result. A malformed value (RATE_RPS=fast) is an error rather
// than a silent fallback to the default; every problem found is reported.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:   e.str("DB_PATH", "app.db"),
			URL:    e.str("DATABASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:    e.str("JWT_SECRET", ""),
			SessionTTL:   e.dur("SESSION_TTL", 7*24*time.Hour),
			CookieName:   e.str("SESSION_COOKIE", "wa_session"),
			CookieSecure: e.bool("COOKIE_SECURE", false),
		},
		WhatsApp: WhatsAppConfig{
			APIBase:           strings.TrimRight(e.str("WA_API_BASE", "https://graph.facebook.com"), "/"),
			APIVersion:        e.str("WA_API_VERSION", "v19.0"),
			Token:             e.str("WA_TOKEN", ""),
			BusinessAccountID: e.str("WA_BUSINESS_ACCOUNT_ID", ""),
			VerifyToken:       e.str("WA_VERIFY_TOKEN", ""),
			AppSecret:         e.str("WA_APP_SECRET", ""),
			HTTPTimeout:       e.dur("WA_HTTP_TIMEOUT", 15*time.Second),
		},
		Broadcast: BroadcastConfig{
			PollInterval: e.dur("BROADCAST_POLL_INTERVAL", 15*time.Second),
			Workers:      e.int("BROADCAST_WORKERS", 8),
			MaxRetries:   e.int("BROADCAST_MAX_RETRIES", 2),
		},

		RateRPS:   e.float("RATE_RPS", 10),
		RateBurst: e.int("RATE_BURST", 20),

		CORS: CORSConfig{AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		WSAllowedOrigins: e.list("WS_ALLOWED_ORIGINS"),
		IdempotencyTTL:   e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-wa-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.Validate())...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DB.Driver {
	case "postgresql", "pg":
		c.DB.Driver = "postgres"
	}
	if len(c.WSAllowedOrigins) == 0 {
		c.WSAllowedOrigins = c.CORS.AllowedOrigins
	}
	// Release builds must bring their own secret.
	if c.JWTSecretMissing() && c.GinMode != "release" {
		c.Auth.JWTSecret = "dev-insecure-secret"
	}
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(false, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	if c.JWTSecretMissing() {
		check(false, "JWT_SECRET must be set in release mode")
	} else {
		check(len(c.Auth.JWTSecret) >= 16, "JWT_SECRET must be at least 16 bytes")
	}
	check(c.Auth.SessionTTL > 0, "SESSION_TTL must be > 0")
	check(strings.TrimSpace(c.Auth.CookieName) != "", "SESSION_COOKIE must not be empty")
	check(c.WhatsApp.HTTPTimeout > 0, "WA_HTTP_TIMEOUT must be > 0")

	check(c.Broadcast.PollInterval > 0, "BROADCAST_POLL_INTERVAL must be > 0")
	check(c.Broadcast.Workers >= 1, "BROADCAST_WORKERS must be >= 1")
	check(c.Broadcast.MaxRetries >= 0, "BROADCAST_MAX_RETRIES must be >= 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// JWTSecretMissing reports whether no signing secret was configured.
func (c Config) JWTSecretMissing() bool {
	return strings.TrimSpace(c.Auth.JWTSecret) == ""
}

// GraphURL returns the versioned Cloud API base, e.g. https://graph.facebook.com/v19.0.
func (w WhatsAppConfig) GraphURL() string {
	return strings.TrimRight(w.APIBase, "/") + "/" + strings.Trim(w.APIVersion, "/")
}

// env reads typed variables, remembering every value that failed to parse.
// Unset and empty variables take the default.
type env struct{ errs []error }

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

// list splits a comma-separated variable, dropping blanks.
func (e *env) list(k string) []string {
	v, ok := e.lookup(k)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones; blank is "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
