package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sessionkit/sessionkit/internal"
	"github.com/sessionkit/sessionkit/token"
)

var (
	// ErrRefreshInvalid covers refresh tokens that do not decode, do not
	// match a live session, or lost a benign rotation race.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrTokenTheftDetected is the replay signal: a superseded refresh
	// token was presented, so the whole family has been revoked. Callers
	// should force re-authentication and alert the user.
	ErrTokenTheftDetected = errors.New("refresh token theft detected")
	// ErrTokenInvalid covers access tokens that verified cryptographically
	// but no longer correspond to a live, current session.
	ErrTokenInvalid = errors.New("invalid access token")
)

// Mode selects how much state VerifyAccessToken consults.
type Mode int

const (
	// ModeJWTOnly verifies signature and expiry only; no store round-trip.
	ModeJWTOnly Mode = iota
	// ModeStrict additionally requires a live session with a matching
	// payload version, so revocation and immediate payload invalidation
	// take effect before token expiry.
	ModeStrict
)

// Claim keys reserved by the manager inside the signed envelope.
const (
	claimHandle  = "sid"
	claimUserID  = "uid"
	claimVersion = "pv"
	claimApp     = "app"
)

// Config holds session manager tuning parameters.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Clock overrides the time source; nil means time.Now.
	Clock func() time.Time
	// ReuseGrace bounds the window after a rotation in which presenting
	// the just-superseded refresh token is treated as a lost race rather
	// than a replay. Zero means every reuse revokes the family.
	ReuseGrace time.Duration
	// OnTheft, when set, observes every detected refresh-token replay
	// after the family has been revoked.
	OnTheft func(userID, familyID, handle string)
}

// TokenPair is the credential set handed to a client.
type TokenPair struct {
	Handle           string
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthInfo is the verified view of a session injected into request context.
type AuthInfo struct {
	Handle         string
	UserID         string
	Payload        map[string]any
	PayloadVersion uint32
}

// Manager owns session lifecycle against a [Store] and a token codec.
type Manager struct {
	codec  *token.Codec
	store  Store
	config Config
	logger *slog.Logger
}

// NewManager validates cfg and builds a manager.
func NewManager(codec *token.Codec, store Store, cfg Config, logger *slog.Logger) (*Manager, error) {
	if codec == nil || store == nil {
		return nil, errors.New("manager requires a codec and a store")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	if cfg.ReuseGrace < 0 {
		return nil, errors.New("negative reuse grace")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{codec: codec, store: store, config: cfg, logger: logger}, nil
}

// Create starts a new session for userID and issues its first token pair.
// The session gets a fresh handle and a fresh refresh-token family.
func (m *Manager) Create(ctx context.Context, userID string, payload map[string]any) (*TokenPair, error) {
	if userID == "" {
		return nil, errors.New("empty user id")
	}

	handle, err := internal.NewHandle()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := m.config.Clock()
	if payload == nil {
		payload = map[string]any{}
	}
	sess := &Session{
		Handle:      handle.String(),
		UserID:      userID,
		FamilyID:    uuid.NewString(),
		Payload:     payload,
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(m.config.RefreshTTL).Unix(),
	}

	if err := m.store.Save(ctx, sess, m.config.RefreshTTL); err != nil {
		return nil, err
	}
	return m.issuePair(sess, secret)
}

// Refresh rotates the refresh token and issues a new token pair. Exactly
// one of N concurrent calls with the same token succeeds; replay of a
// superseded token revokes the family and returns ErrTokenTheftDetected.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	handle, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := m.store.RotateRefresh(ctx,
		handle,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
		m.config.RefreshTTL,
	)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshReuse):
		return nil, m.classifyReuse(ctx, handle)
	case errors.Is(err, ErrRefreshMismatch), errors.Is(err, ErrNotFound):
		return nil, ErrRefreshInvalid
	default:
		return nil, err
	}

	return m.issuePair(sess, nextSecret)
}

// VerifyAccessToken checks an access token and returns the session view.
func (m *Manager) VerifyAccessToken(ctx context.Context, accessToken string, mode Mode) (*AuthInfo, error) {
	claims, err := m.codec.Verify(accessToken)
	if err != nil {
		return nil, err
	}

	info := &AuthInfo{Payload: map[string]any{}}
	info.Handle, _ = claims[claimHandle].(string)
	info.UserID, _ = claims[claimUserID].(string)
	if app, ok := claims[claimApp].(map[string]any); ok {
		info.Payload = app
	}
	if pv, ok := claims[claimVersion].(float64); ok {
		info.PayloadVersion = uint32(pv)
	}
	if info.Handle == "" || info.UserID == "" {
		return nil, ErrTokenInvalid
	}

	if mode == ModeStrict {
		sess, err := m.store.Get(ctx, info.Handle)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: session revoked or expired", ErrTokenInvalid)
		}
		if err != nil {
			return nil, err
		}
		if sess.UserID != info.UserID {
			return nil, ErrTokenInvalid
		}
		if sess.PayloadVersion != info.PayloadVersion {
			return nil, fmt.Errorf("%w: stale payload version", ErrTokenInvalid)
		}
	}
	return info, nil
}

// Revoke destroys a single session. Idempotent.
func (m *Manager) Revoke(ctx context.Context, handle string) error {
	return m.store.Delete(ctx, handle)
}

// RevokeAllForUser destroys every session owned by userID and reports how
// many were removed.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return m.store.DeleteAllForUser(ctx, userID)
}

// UpdatePayload merges patch into the session's access-token payload. The
// change rides on the next issued access token; with immediate set, the
// payload version advances so outstanding tokens fail strict verification
// right away.
func (m *Manager) UpdatePayload(ctx context.Context, handle string, patch map[string]any, immediate bool) error {
	_, err := m.store.UpdatePayload(ctx, handle, patch, immediate)
	return err
}

// Get returns the stored session for handle.
func (m *Manager) Get(ctx context.Context, handle string) (*Session, error) {
	return m.store.Get(ctx, handle)
}

// classifyReuse decides what a previous-generation refresh hash means.
// Within ReuseGrace of the last rotation it is the loser of a concurrent
// refresh and gets ErrRefreshInvalid; past the window it is a replay and
// the family dies.
func (m *Manager) classifyReuse(ctx context.Context, handle string) error {
	sess, err := m.store.Get(ctx, handle)
	if err != nil {
		// Session vanished between rotate and lookup; the replayed token
		// is dead either way.
		m.logger.Warn("refresh reuse detected, session already gone", "handle", handle)
		return ErrTokenTheftDetected
	}

	if m.config.ReuseGrace > 0 && sess.RotatedAt > 0 {
		age := m.config.Clock().Sub(time.Unix(sess.RotatedAt, 0))
		if age <= m.config.ReuseGrace {
			m.logger.Debug("refresh rotation race lost within grace",
				"handle", handle, "age", age)
			return ErrRefreshInvalid
		}
	}
	return m.revokeFamily(ctx, sess, handle)
}

func (m *Manager) revokeFamily(ctx context.Context, sess *Session, handle string) error {
	if _, err := m.store.DeleteFamily(ctx, sess.FamilyID); err != nil {
		m.logger.Error("family revocation failed after refresh reuse",
			"handle", handle, "family", sess.FamilyID, "err", err)
	}
	m.logger.Warn("refresh token reuse detected, family revoked",
		"handle", handle, "family", sess.FamilyID, "user", sess.UserID)

	if m.config.OnTheft != nil {
		m.config.OnTheft(sess.UserID, sess.FamilyID, handle)
	}
	return ErrTokenTheftDetected
}

func (m *Manager) issuePair(sess *Session, secret [32]byte) (*TokenPair, error) {
	now := m.config.Clock()
	accessExpiry := now.Add(m.config.AccessTTL)

	access, err := m.codec.Issue(map[string]any{
		claimHandle:  sess.Handle,
		claimUserID:  sess.UserID,
		claimVersion: sess.PayloadVersion,
		claimApp:     sess.Payload,
	}, accessExpiry, "")
	if err != nil {
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sess.Handle, secret)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		Handle:           sess.Handle,
		UserID:           sess.UserID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}
