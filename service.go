package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sessionkit/sessionkit/internal"
	"github.com/sessionkit/sessionkit/internal/rate"
	"github.com/sessionkit/sessionkit/session"
	"github.com/sessionkit/sessionkit/store"
	"github.com/sessionkit/sessionkit/strategy"
)

// Service is the assembled facade over the credential store, the session
// manager, and the identity strategies. Build one with [Builder]; all
// methods are safe for concurrent use.
type Service struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics

	users        store.Store
	sessions     *session.Manager
	password     *strategy.Password
	passwordless *strategy.Passwordless
	thirdparty   *strategy.ThirdParty
	verification *strategy.Verification
	limiter      *rate.Limiter

	closers []func() error
}

// Config returns a copy of the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Sessions exposes the session manager, mainly for wiring the request gate.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Metrics returns the service's Prometheus instruments.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// SignUp registers a new password user. Under VerificationRequired a
// verification link is sent and no session is issued; the caller gets the
// record and signs the user in after they verify. Otherwise a session is
// created right away.
func (s *Service) SignUp(ctx context.Context, email, plaintext string) (*store.IdentityRecord, *session.TokenPair, error) {
	rec, err := s.password.SignUp(ctx, email, plaintext)
	if err != nil {
		return nil, nil, err
	}

	if s.verification != nil {
		if err := s.verification.Send(ctx, rec.UserID, email); err != nil {
			// The account exists; verification mail can be re-triggered.
			s.logger.Warn("verification mail failed after signup", "user", rec.UserID, "err", err)
		}
	}

	if s.config.Verification == VerificationRequired {
		return rec, nil, nil
	}

	pair, err := s.createSession(ctx, rec.UserID, "password")
	if err != nil {
		return nil, nil, err
	}
	return rec, pair, nil
}

// SignIn verifies a password proof and issues a session.
func (s *Service) SignIn(ctx context.Context, email, plaintext, ip string) (*session.TokenPair, error) {
	if err := s.limiter.CheckSignIn(ctx, email, ip); err != nil {
		return nil, err
	}

	userID, err := s.password.Verify(ctx, email, plaintext)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidProof) {
			s.metrics.SignInFailures.WithLabelValues("password").Inc()
			if lerr := s.limiter.RecordSignInFailure(ctx, email, ip); lerr != nil {
				return nil, lerr
			}
		}
		return nil, err
	}

	if s.config.Verification == VerificationRequired {
		rec, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !rec.HasVerifiedMethod() {
			return nil, strategy.ErrEmailNotVerified
		}
	}

	if err := s.limiter.ResetSignIn(ctx, email, ip); err != nil {
		s.logger.Warn("signin limiter reset failed", "err", err)
	}
	return s.createSession(ctx, userID, "password")
}

// BeginPasswordless starts a one-time-code flow for the contact.
func (s *Service) BeginPasswordless(ctx context.Context, contact strategy.Contact) (*strategy.PendingChallenge, error) {
	if s.passwordless == nil {
		return nil, errors.New("passwordless sign-in is not configured")
	}
	return s.passwordless.Begin(ctx, contact)
}

// ConsumePasswordlessCode redeems a typed code and issues a session.
func (s *Service) ConsumePasswordlessCode(ctx context.Context, deviceID, code string) (*session.TokenPair, error) {
	if s.passwordless == nil {
		return nil, errors.New("passwordless sign-in is not configured")
	}
	if err := s.limiter.CheckPasswordlessGuess(ctx, deviceID); err != nil {
		return nil, err
	}
	userID, err := s.passwordless.VerifyCode(ctx, deviceID, code)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidProof) {
			s.metrics.SignInFailures.WithLabelValues("passwordless").Inc()
		}
		return nil, err
	}
	return s.createSession(ctx, userID, "passwordless")
}

// ConsumePasswordlessLink redeems a magic-link secret and issues a session.
func (s *Service) ConsumePasswordlessLink(ctx context.Context, deviceID, secret string) (*session.TokenPair, error) {
	if s.passwordless == nil {
		return nil, errors.New("passwordless sign-in is not configured")
	}
	userID, err := s.passwordless.VerifyLink(ctx, deviceID, secret)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidProof) {
			s.metrics.SignInFailures.WithLabelValues("passwordless").Inc()
		}
		return nil, err
	}
	return s.createSession(ctx, userID, "passwordless")
}

// ThirdPartyAuthURL returns the provider's authorization URL for state.
func (s *Service) ThirdPartyAuthURL(providerID, redirectURL, state string) (string, error) {
	if s.thirdparty == nil {
		return "", errors.New("no third-party providers configured")
	}
	return s.thirdparty.AuthURL(providerID, redirectURL, state)
}

// SignInThirdParty exchanges an OAuth authorization code and issues a
// session for the resolved user.
func (s *Service) SignInThirdParty(ctx context.Context, providerID, redirectURL, code string) (*session.TokenPair, error) {
	if s.thirdparty == nil {
		return nil, errors.New("no third-party providers configured")
	}
	userID, err := s.thirdparty.Verify(ctx, providerID, redirectURL, code)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidProof) {
			s.metrics.SignInFailures.WithLabelValues("thirdparty").Inc()
		}
		return nil, err
	}
	return s.createSession(ctx, userID, "thirdparty")
}

// Verify checks an access token. ModeStrict additionally requires a live
// session with a current payload version.
func (s *Service) Verify(ctx context.Context, accessToken string, mode session.Mode) (*session.AuthInfo, error) {
	info, err := s.sessions.VerifyAccessToken(ctx, accessToken, mode)
	if err != nil {
		s.metrics.VerifyFailures.Inc()
		return nil, err
	}
	return info, nil
}

// Refresh rotates a refresh token. A replayed token revokes its whole
// family and surfaces ErrTokenTheftDetected. Refreshes are throttled per
// session handle.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	handle, _, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		s.metrics.RefreshFailures.Inc()
		return nil, fmt.Errorf("%w: %v", session.ErrRefreshInvalid, err)
	}
	if err := s.limiter.CheckRefresh(ctx, handle); err != nil {
		return nil, err
	}

	pair, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.RefreshFailures.Inc()
		return nil, err
	}
	s.metrics.RefreshRotations.Inc()
	return pair, nil
}

// RevokeSession destroys one session. Idempotent.
func (s *Service) RevokeSession(ctx context.Context, handle string) error {
	return s.sessions.Revoke(ctx, handle)
}

// RevokeAllSessions destroys every session of the user and reports the
// count.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeAllForUser(ctx, userID)
}

// UpdateSessionPayload merges patch into the session's access-token
// payload. With immediate set, outstanding access tokens fail strict
// verification until refreshed.
func (s *Service) UpdateSessionPayload(ctx context.Context, handle string, patch map[string]any, immediate bool) error {
	return s.sessions.UpdatePayload(ctx, handle, patch, immediate)
}

// SendEmailVerification issues a fresh verification link for the address.
func (s *Service) SendEmailVerification(ctx context.Context, userID, email string) error {
	if s.verification == nil {
		return errors.New("email verification is not configured")
	}
	return s.verification.Send(ctx, userID, email)
}

// VerifyEmail redeems a verification link and returns the verified user id.
func (s *Service) VerifyEmail(ctx context.Context, deviceID, secret string) (string, error) {
	if s.verification == nil {
		return "", errors.New("email verification is not configured")
	}
	return s.verification.Verify(ctx, deviceID, secret)
}

// GetUser returns the identity record for userID.
func (s *Service) GetUser(ctx context.Context, userID string) (*store.IdentityRecord, error) {
	return s.users.FindByID(ctx, userID)
}

// UpdateMetadata merges patch into the user's metadata. A nil value deletes
// its key.
func (s *Service) UpdateMetadata(ctx context.Context, userID string, patch map[string]any) (*store.IdentityRecord, error) {
	return s.users.UpdateMetadata(ctx, userID, patch)
}

// SetPassword replaces the user's password. Existing sessions stay alive;
// call RevokeAllSessions for a hard reset.
func (s *Service) SetPassword(ctx context.Context, userID, plaintext string) error {
	return s.password.SetPassword(ctx, userID, plaintext)
}

// DeleteUser removes the identity record and revokes all of its sessions.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	return s.users.DeleteUser(ctx, userID)
}

// Close releases connections owned by the service. Clients injected by the
// caller are the caller's to close.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) createSession(ctx context.Context, userID, strategyName string) (*session.TokenPair, error) {
	pair, err := s.sessions.Create(ctx, userID, map[string]any{})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsCreated.WithLabelValues(strategyName).Inc()
	return pair, nil
}
