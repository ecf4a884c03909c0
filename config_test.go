package sessionkit

import (
	"testing"
	"time"

	"github.com/sessionkit/sessionkit/strategy"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SK_APP_NAME", "demo")
	t.Setenv("SK_API_DOMAIN", "https://api.demo.example.com")
	t.Setenv("SK_WEBSITE_DOMAIN", "https://demo.example.com")
	t.Setenv("SK_ACCESS_TTL", "10m")
	t.Setenv("SK_REFRESH_TTL", "48h")
	t.Setenv("SK_SIGNING_KEY_VERSION", "v7")
	t.Setenv("SK_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SK_VERIFICATION_MODE", "REQUIRED")
	t.Setenv("SK_PASSWORDLESS_FLOW", "USER_INPUT_CODE")
	t.Setenv("SK_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("SK_GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("SK_CORS_ORIGINS", "https://demo.example.com,https://admin.demo.example.com")
	t.Setenv("SK_TOKEN_COOKIE", "sAccessToken")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.AppName != "demo" || cfg.AccessTTL != 10*time.Minute || cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("basic fields wrong: %+v", cfg)
	}
	if cfg.Verification != VerificationRequired {
		t.Fatalf("verification mode wrong: %q", cfg.Verification)
	}
	if cfg.Passwordless.Flow != strategy.FlowCode {
		t.Fatalf("flow wrong: %q", cfg.Passwordless.Flow)
	}
	if len(cfg.SigningKeys) != 1 || cfg.SigningKeys[0].Version != "v7" {
		t.Fatalf("signing key not loaded: %+v", cfg.SigningKeys)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cors origins wrong: %v", cfg.CORSOrigins)
	}
	if cfg.TokenCookieName != "sAccessToken" {
		t.Fatalf("cookie name wrong: %q", cfg.TokenCookieName)
	}

	if len(cfg.Providers) != 1 {
		t.Fatalf("expected one provider, got %d", len(cfg.Providers))
	}
	google := cfg.Providers[0]
	if google.ID != "google" || google.ClientSecret != "gsecret" || !google.RequireVerifiedEmail {
		t.Fatalf("google provider wrong: %+v", google)
	}
	if cfg.Passwordless.LinkBase != "https://demo.example.com/auth/verify" {
		t.Fatalf("link base wrong: %q", cfg.Passwordless.LinkBase)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no signing keys", func(c *Config) { c.SigningKeys = nil }},
		{"access ttl too long", func(c *Config) { c.AccessTTL = c.RefreshTTL }},
		{"bad verification mode", func(c *Config) { c.Verification = "MAYBE" }},
		{"bad flow", func(c *Config) { c.Passwordless.Flow = "TELEPATHY" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := Config{SigningKeys: testConfig().SigningKeys}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.AppName == "" || cfg.Issuer == "" || cfg.AccessTTL == 0 || cfg.RedisPrefix == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		t.Fatal("default TTL ordering broken")
	}
}
