package app

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"LOYALTY_ENV", "LOYALTY_HTTP_ADDR", "LOYALTY_LOG_FORMAT", "LOYALTY_DATABASE_URL",
		"LOYALTY_REDEMPTION_TTL", "LOYALTY_QR_IMAGE_SIZE", "LOYALTY_EXPIRATION_HOUR",
		"LOYALTY_WS_ALLOWED_ORIGINS", "LOYALTY_WS_ORIGIN_REQUIRED", "LOYALTY_TOKEN_ISSUER",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.Environment != "development" || cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedemptionTTL != 120*time.Second || cfg.QRImageSize != 400 || cfg.Issuer != "sarnies_loyalty" {
		t.Fatalf("unexpected token defaults: %+v", cfg)
	}
	if cfg.JobHour != -1 || cfg.DatabaseURL != "" || cfg.WSAllowedOrigins != nil || cfg.WSOriginRequired {
		t.Fatalf("unexpected optional defaults: %+v", cfg)
	}
}

func TestLoadConfig_WSOriginRequiredDefaultsOnInProduction(t *testing.T) {
	cases := []struct {
		env      string
		override string
		want     bool
	}{
		{env: "production", want: true},
		{env: "prod", want: true},
		{env: "development", want: false},
		{env: "production", override: "false", want: false},
		{env: "staging", override: "true", want: true},
	}

	for _, tc := range cases {
		t.Setenv("LOYALTY_ENV", tc.env)
		t.Setenv("LOYALTY_WS_ORIGIN_REQUIRED", tc.override)

		if got := LoadConfig().WSOriginRequired; got != tc.want {
			t.Fatalf("env=%q override=%q: WSOriginRequired=%v want=%v", tc.env, tc.override, got, tc.want)
		}
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("LOYALTY_ENV", "production")
	t.Setenv("LOYALTY_REDEMPTION_TTL", "90s")
	t.Setenv("LOYALTY_EXPIRATION_HOUR", "3")
	t.Setenv("LOYALTY_WS_ALLOWED_ORIGINS", " https://staff.example.com , ,https://pos.example.com")
	t.Setenv("LOYALTY_DB_MAX_CONNS", "25")

	cfg := LoadConfig()
	if cfg.Environment != "production" || cfg.RedemptionTTL != 90*time.Second || cfg.JobHour != 3 || cfg.DBMaxConns != 25 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	want := []string{"https://staff.example.com", "https://pos.example.com"}
	if !reflect.DeepEqual(cfg.WSAllowedOrigins, want) {
		t.Fatalf("WSAllowedOrigins=%v want=%v", cfg.WSAllowedOrigins, want)
	}
}

func TestEnvHelpers_RejectBadValues(t *testing.T) {
	t.Setenv("LOYALTY_T_HOUR", "24")
	t.Setenv("LOYALTY_T_DUR", "soon")
	t.Setenv("LOYALTY_T_INT", "-4")
	t.Setenv("LOYALTY_T_BOOL", "maybe")

	if got := EnvHour("LOYALTY_T_HOUR", 2); got != 2 {
		t.Fatalf("EnvHour=%d", got)
	}
	if got := EnvDuration("LOYALTY_T_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvInt("LOYALTY_T_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvBool("LOYALTY_T_BOOL", true); !got {
		t.Fatalf("EnvBool=%v", got)
	}
}
