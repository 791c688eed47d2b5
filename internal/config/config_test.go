package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testSecret = "0123456789abcdef-test"

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Port:              "8080",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		GinMode:           "release",
		LogLevel:          "info",
		APIBasePath:       "/api/v1",
		DB:                DBConfig{Driver: "sqlite", Path: "app.db"},
		Auth:              AuthConfig{JWTSecret: testSecret, SessionTTL: 7 * 24 * time.Hour, CookieName: "wa_session"},
		WhatsApp: WhatsAppConfig{
			APIBase:     "https://graph.facebook.com",
			APIVersion:  "v19.0",
			HTTPTimeout: 15 * time.Second,
		},
		Broadcast:      BroadcastConfig{PollInterval: 15 * time.Second, Workers: 8, MaxRetries: 2},
		RateRPS:        10,
		RateBurst:      20,
		Security:       SecurityConfig{HSTSMaxAge: 180 * 24 * time.Hour},
		IdempotencyTTL: 24 * time.Hour,
		OTEL:           OTELConfig{Endpoint: "localhost:4317", Insecure: true, ServiceName: "go-wa-backend", SampleRatio: 1},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	setenv(t, map[string]string{
		"JWT_SECRET":                  testSecret,
		"PORT":                        "8088",
		"READ_TIMEOUT":                "2s",
		"GIN_MODE":                    "weird",
		"LOG_LEVEL":                   "WARNING",
		"LOG_PRETTY":                  " yes ",
		"SWAGGER_ENABLED":             "on",
		"API_BASE_PATH":               "api/v2/",
		"DB_DRIVER":                   "PostgreSQL",
		"DATABASE_URL":                "postgres://u:p@db:5432/wa?sslmode=disable",
		"SESSION_TTL":                 "12h",
		"COOKIE_SECURE":               "true",
		"WA_API_BASE":                 "https://graph.example.com/",
		"WA_API_VERSION":              "/v20.0/",
		"BROADCAST_WORKERS":           "3",
		"BROADCAST_MAX_RETRIES":       "0",
		"CORS_ALLOWED_ORIGINS":        " https://a.com , , http://b ",
		"ENABLE_HSTS":                 "TRUE",
		"IDEMPOTENCY_TTL":             "48h",
		"OTEL_EXPORTER_OTLP_INSECURE": "0",
		"OTEL_TRACES_SAMPLER_ARG":     "0.75",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := []any{
		cfg.Port, cfg.ReadTimeout, cfg.GinMode, cfg.LogLevel, cfg.LogPretty, cfg.SwaggerEnabled, cfg.APIBasePath,
		cfg.DB.Driver, cfg.Auth.SessionTTL, cfg.Auth.CookieSecure, cfg.WhatsApp.GraphURL(),
		cfg.Broadcast.Workers, cfg.Broadcast.MaxRetries, cfg.Security.EnableHSTS, cfg.IdempotencyTTL,
		cfg.OTEL.Insecure, cfg.OTEL.SampleRatio,
	}
	want := []any{
		"8088", 2 * time.Second, "release", "warn", true, true, "/api/v2",
		"postgres", 12 * time.Hour, true, "https://graph.example.com/v20.0",
		3, 0, true, 48 * time.Hour,
		false, 0.75,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("overrides (-want +got):\n%s", diff)
	}

	origins := []string{"https://a.com", "http://b"}
	if diff := cmp.Diff(origins, cfg.CORS.AllowedOrigins); diff != "" {
		t.Fatalf("cors origins:\n%s", diff)
	}
	if diff := cmp.Diff(origins, cfg.WSAllowedOrigins); diff != "" {
		t.Fatalf("ws origins should default to the cors list:\n%s", diff)
	}
}

func TestLoad_WebSocketOriginsOverride(t *testing.T) {
	setenv(t, map[string]string{
		"JWT_SECRET":           testSecret,
		"CORS_ALLOWED_ORIGINS": "https://app.example.com",
		"WS_ALLOWED_ORIGINS":   "https://inbox.example.com",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"https://inbox.example.com"}, cfg.WSAllowedOrigins); diff != "" {
		t.Fatalf("ws origins:\n%s", diff)
	}
}

func TestLoad_JWTSecret(t *testing.T) {
	t.Run("dev mode gets a development secret", func(t *testing.T) {
		t.Setenv("GIN_MODE", "debug")
		cfg, err := Load()
		if err != nil || cfg.JWTSecretMissing() {
			t.Fatalf("Load = %v, missing=%v", err, cfg.JWTSecretMissing())
		}
	})
	t.Run("release requires one", func(t *testing.T) {
		t.Setenv("GIN_MODE", "release")
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "JWT_SECRET must be set") {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("short secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "short")
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "at least 16 bytes") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestLoad_MalformedValuesAreErrors(t *testing.T) {
	setenv(t, map[string]string{
		"JWT_SECRET":   testSecret,
		"RATE_RPS":     "fast",
		"RATE_BURST":   "lots",
		"LOG_PRETTY":   "maybe",
		"READ_TIMEOUT": "soon",
	})
	_, err := Load()
	if err == nil {
		t.Fatal("malformed values accepted")
	}
	for _, want := range []string{
		`RATE_RPS="fast" is not a valid number`,
		`RATE_BURST="lots" is not a valid integer`,
		`LOG_PRETTY="maybe" is not a valid boolean`,
		`READ_TIMEOUT="soon" is not a valid duration`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"session ttl", map[string]string{"SESSION_TTL": "0s"}, "SESSION_TTL"},
		{"wa timeout", map[string]string{"WA_HTTP_TIMEOUT": "0s"}, "WA_HTTP_TIMEOUT"},
		{"poll interval", map[string]string{"BROADCAST_POLL_INTERVAL": "0s"}, "BROADCAST_POLL_INTERVAL"},
		{"workers", map[string]string{"BROADCAST_WORKERS": "0"}, "BROADCAST_WORKERS"},
		{"retries", map[string]string{"BROADCAST_MAX_RETRIES": "-1"}, "BROADCAST_MAX_RETRIES"},
		{"rate rps", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", testSecret)
			setenv(t, tc.env)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Config{LogLevel: "info", Port: "1"}.Validate()
	if err == nil {
		t.Fatal("zero config validated")
	}
	for _, want := range []string{"timeouts", "DB_DRIVER", "JWT_SECRET", "SESSION_TTL", "RATE_BURST", "IDEMPOTENCY_TTL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %s in:\n%v", want, err)
		}
	}
}

func TestEnv_BlankMeansUnset(t *testing.T) {
	t.Setenv("X_BLANK", "   ")
	var e env
	if e.str("X_BLANK", "d") != "d" || e.int("X_BLANK", 7) != 7 || !e.bool("X_BLANK", true) || e.list("X_BLANK") != nil {
		t.Fatal("blank variable did not fall back to defaults")
	}
	if len(e.errs) != 0 {
		t.Fatalf("errors for blank variable: %v", e.errs)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/", "//api//": "/api"} {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "JWT_SECRET", "GIN_MODE", "LOG_LEVEL", "DB_DRIVER", "DATABASE_URL", "CORS_ALLOWED_ORIGINS", "WS_ALLOWED_ORIGINS"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
