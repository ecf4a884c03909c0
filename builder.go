package sessionkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sessionkit/sessionkit/internal/rate"
	"github.com/sessionkit/sessionkit/password"
	"github.com/sessionkit/sessionkit/session"
	"github.com/sessionkit/sessionkit/store"
	"github.com/sessionkit/sessionkit/strategy"
	"github.com/sessionkit/sessionkit/token"
)

// Builder assembles a [Service]. Configure, inject dependencies, then call
// Build once.
type Builder struct {
	config   Config
	redis    *redis.Client
	users    store.Store
	sender   strategy.Sender
	logger   *slog.Logger
	registry prometheus.Registerer

	built bool
}

// New returns a builder preloaded with defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis injects the Redis client backing sessions, one-time codes, and
// rate limits. Without it everything falls back to in-memory stores, which
// only suit tests and single-process deployments.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore injects a credential store, overriding the
// PostgresDSN/in-memory selection.
func (b *Builder) WithCredentialStore(st store.Store) *Builder {
	b.users = st
	return b
}

// WithSender injects the code/link delivery transport. Required for
// passwordless sign-in and email verification.
func (b *Builder) WithSender(sender strategy.Sender) *Builder {
	b.sender = sender
	return b
}

// WithLogger injects the structured logger; nil means slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegistry overrides the Prometheus registerer; defaults to
// prometheus.DefaultRegisterer.
func (b *Builder) WithMetricsRegistry(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Build validates the configuration and wires the service together.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Verification == VerificationRequired && b.sender == nil {
		return nil, errors.New("verification mode REQUIRED needs a sender")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := b.registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	metrics := NewMetrics(registry)

	svc := &Service{config: cfg, logger: logger, metrics: metrics}

	users := b.users
	if users == nil && cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pg := store.NewPostgres(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		users = pg
		svc.closers = append(svc.closers, db.Close)
	}
	if users == nil {
		users = store.NewMemory()
	}
	svc.users = users

	var sessionStore session.Store
	var codeStore strategy.CodeStore
	if b.redis != nil {
		sessionStore = session.NewRedis(b.redis, cfg.RedisPrefix)
		codeStore = strategy.NewRedisCodes(b.redis, cfg.RedisPrefix)
		if cfg.EnableRateLimits {
			rlCfg := cfg.RateLimit
			rlCfg.Prefix = cfg.RedisPrefix
			svc.limiter = rate.New(b.redis, rlCfg)
		}
	} else {
		sessionStore = session.NewMemory()
		codeStore = strategy.NewMemoryCodes()
	}

	keyring, err := token.NewKeyring(cfg.SigningKeys...)
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(token.Config{Issuer: cfg.Issuer}, keyring)
	if err != nil {
		return nil, err
	}

	svc.sessions, err = session.NewManager(codec, sessionStore, session.Config{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ReuseGrace: cfg.RefreshReuseGrace,
		OnTheft: func(userID, familyID, handle string) {
			metrics.TheftEvents.Inc()
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.DefaultParams())
	if err != nil {
		return nil, err
	}
	svc.password, err = strategy.NewPassword(users, hasher)
	if err != nil {
		return nil, err
	}

	if b.sender != nil {
		pwless := cfg.Passwordless
		if pwless.LinkBase == "" {
			pwless.LinkBase = cfg.WebsiteDomain + "/auth/verify"
		}
		svc.passwordless, err = strategy.NewPasswordless(users, codeStore, b.sender, pwless)
		if err != nil {
			return nil, err
		}
		svc.verification, err = strategy.NewVerification(users, codeStore, b.sender, strategy.VerificationConfig{
			TokenTTL: cfg.VerificationTTL,
			LinkBase: cfg.WebsiteDomain + "/auth/verify-email",
		})
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.Providers) > 0 {
		svc.thirdparty, err = strategy.NewThirdParty(users, cfg.Providers)
		if err != nil {
			return nil, err
		}
	}

	b.built = true
	return svc, nil
}
