package sessionkit

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sessionkit/sessionkit/internal/rate"
	"github.com/sessionkit/sessionkit/strategy"
	"github.com/sessionkit/sessionkit/token"
)

// VerificationMode controls whether an unverified email blocks sign-in.
type VerificationMode string

const (
	// VerificationRequired rejects password sign-ins until the address is
	// verified. Passwordless and verified third-party methods satisfy the
	// requirement implicitly.
	VerificationRequired VerificationMode = "REQUIRED"
	// VerificationOptional sends verification mail but never blocks.
	VerificationOptional VerificationMode = "OPTIONAL"
)

// DashboardConfig carries the operator dashboard surface. The bundle itself
// is out of scope; BundleLocation is handed to whatever serves it.
type DashboardConfig struct {
	APIKey         string
	BundleLocation string
}

// Config is the full service configuration. Zero values fall back to
// defaults in Validate; secrets must arrive via the environment or a secret
// store, never as literals in checked-in code.
type Config struct {
	AppName       string
	APIDomain     string
	WebsiteDomain string

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RefreshReuseGrace is how long after a rotation the superseded refresh
	// token is still treated as a lost concurrent-refresh race instead of a
	// replay. Zero revokes the family on any reuse.
	RefreshReuseGrace time.Duration
	// SigningKeys is the HMAC keyring; the newest currently-valid key signs.
	SigningKeys []token.Key

	// RedisPrefix namespaces all Redis keys of this deployment.
	RedisPrefix string
	// PostgresDSN, when set, selects the Postgres credential store.
	PostgresDSN string

	Verification     VerificationMode
	VerificationTTL  time.Duration
	Passwordless     strategy.PasswordlessConfig
	Providers        []strategy.Provider
	CORSOrigins      []string
	TokenCookieName  string
	Dashboard        DashboardConfig
	RateLimit        rate.Config
	EnableRateLimits bool
}

func defaultConfig() Config {
	return Config{
		AppName:           "sessionkit",
		APIDomain:         "http://localhost:3001",
		WebsiteDomain:     "http://localhost:3000",
		Issuer:            "sessionkit",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        72 * time.Hour,
		RefreshReuseGrace: 10 * time.Second,
		RedisPrefix:       "sk",
		Verification:      VerificationOptional,
		VerificationTTL:   24 * time.Hour,
		Passwordless: strategy.PasswordlessConfig{
			Flow:         strategy.FlowCodeAndLink,
			CodeDigits:   6,
			ChallengeTTL: 15 * time.Minute,
			MaxGuesses:   5,
		},
		RateLimit: rate.Config{
			MaxSignInAttempts:      10,
			SignInCooldown:         15 * time.Minute,
			MaxRefreshAttempts:     30,
			RefreshCooldown:        time.Minute,
			MaxPasswordlessGuesses: 10,
			PasswordlessCooldown:   15 * time.Minute,
		},
	}
}

// Validate fills defaulted fields and rejects inconsistent configuration.
func (c *Config) Validate() error {
	defaults := defaultConfig()
	if c.AppName == "" {
		c.AppName = defaults.AppName
	}
	if c.Issuer == "" {
		c.Issuer = defaults.Issuer
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = defaults.AccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = defaults.RefreshTTL
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = defaults.RedisPrefix
	}
	if c.Verification == "" {
		c.Verification = defaults.Verification
	}
	if c.VerificationTTL == 0 {
		c.VerificationTTL = defaults.VerificationTTL
	}
	if c.Passwordless.Flow == "" {
		c.Passwordless = defaults.Passwordless
	}

	if len(c.SigningKeys) == 0 {
		return errors.New("at least one signing key is required")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.RefreshReuseGrace < 0 {
		return errors.New("negative refresh reuse grace")
	}
	if c.Verification != VerificationRequired && c.Verification != VerificationOptional {
		return fmt.Errorf("unknown verification mode %q", c.Verification)
	}
	switch c.Passwordless.Flow {
	case strategy.FlowCode, strategy.FlowLink, strategy.FlowCodeAndLink:
	default:
		return fmt.Errorf("unknown passwordless flow %q", c.Passwordless.Flow)
	}
	return nil
}

// envConfig is the flat environment surface. OAuth client secrets only ever
// enter through here.
type envConfig struct {
	AppName       string        `env:"SK_APP_NAME" envDefault:"sessionkit"`
	APIDomain     string        `env:"SK_API_DOMAIN" envDefault:"http://localhost:3001"`
	WebsiteDomain string        `env:"SK_WEBSITE_DOMAIN" envDefault:"http://localhost:3000"`
	Issuer        string        `env:"SK_ISSUER" envDefault:"sessionkit"`
	AccessTTL     time.Duration `env:"SK_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"SK_REFRESH_TTL" envDefault:"72h"`
	ReuseGrace    time.Duration `env:"SK_REFRESH_REUSE_GRACE" envDefault:"10s"`

	SigningKeyVersion string `env:"SK_SIGNING_KEY_VERSION" envDefault:"v1"`
	SigningKey        string `env:"SK_SIGNING_KEY"`

	RedisPrefix string `env:"SK_REDIS_PREFIX" envDefault:"sk"`
	RedisAddr   string `env:"SK_REDIS_ADDR"`
	PostgresDSN string `env:"SK_POSTGRES_DSN"`

	Verification     string        `env:"SK_VERIFICATION_MODE" envDefault:"OPTIONAL"`
	VerificationTTL  time.Duration `env:"SK_VERIFICATION_TTL" envDefault:"24h"`
	PasswordlessFlow string        `env:"SK_PASSWORDLESS_FLOW" envDefault:"USER_INPUT_CODE_AND_MAGIC_LINK"`

	GoogleClientID     string `env:"SK_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"SK_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"SK_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"SK_GITHUB_CLIENT_SECRET"`

	CORSOrigins     []string `env:"SK_CORS_ORIGINS" envSeparator:","`
	TokenCookieName string   `env:"SK_TOKEN_COOKIE"`

	DashboardAPIKey         string `env:"SK_DASHBOARD_API_KEY"`
	DashboardBundleLocation string `env:"SK_DASHBOARD_BUNDLE_LOCATION"`
}

// ConfigFromEnv builds a Config from SK_* environment variables. Known OAuth
// providers get their endpoints filled in; custom providers are appended to
// Config.Providers by the caller.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	cfg.AppName = ec.AppName
	cfg.APIDomain = ec.APIDomain
	cfg.WebsiteDomain = ec.WebsiteDomain
	cfg.Issuer = ec.Issuer
	cfg.AccessTTL = ec.AccessTTL
	cfg.RefreshTTL = ec.RefreshTTL
	cfg.RefreshReuseGrace = ec.ReuseGrace
	cfg.RedisPrefix = ec.RedisPrefix
	cfg.PostgresDSN = ec.PostgresDSN
	cfg.Verification = VerificationMode(ec.Verification)
	cfg.VerificationTTL = ec.VerificationTTL
	cfg.Passwordless.Flow = strategy.FlowType(ec.PasswordlessFlow)
	cfg.Passwordless.LinkBase = ec.WebsiteDomain + "/auth/verify"
	cfg.CORSOrigins = ec.CORSOrigins
	cfg.TokenCookieName = ec.TokenCookieName
	cfg.Dashboard = DashboardConfig{
		APIKey:         ec.DashboardAPIKey,
		BundleLocation: ec.DashboardBundleLocation,
	}

	if ec.SigningKey != "" {
		cfg.SigningKeys = []token.Key{{
			Version: ec.SigningKeyVersion,
			Secret:  []byte(ec.SigningKey),
		}}
	}

	if ec.GoogleClientID != "" {
		cfg.Providers = append(cfg.Providers, strategy.Provider{
			ID:                   "google",
			ClientID:             ec.GoogleClientID,
			ClientSecret:         ec.GoogleClientSecret,
			AuthURL:              "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:             "https://oauth2.googleapis.com/token",
			UserInfoURL:          "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:               []string{"openid", "email", "profile"},
			RequireVerifiedEmail: true,
		})
	}
	if ec.GitHubClientID != "" {
		cfg.Providers = append(cfg.Providers, strategy.Provider{
			ID:           "github",
			ClientID:     ec.GitHubClientID,
			ClientSecret: ec.GitHubClientSecret,
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			Scopes:       []string{"read:user", "user:email"},
		})
	}

	return cfg, nil
}
