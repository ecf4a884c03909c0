package sessionkit

import (
	"github.com/sessionkit/sessionkit/internal/rate"
	"github.com/sessionkit/sessionkit/session"
	"github.com/sessionkit/sessionkit/store"
	"github.com/sessionkit/sessionkit/strategy"
	"github.com/sessionkit/sessionkit/token"
)

// Sentinel errors re-exported from the subpackages so callers holding only a
// *Service can match with errors.Is without extra imports.
var (
	// Credential and proof failures.
	ErrInvalidProof     = strategy.ErrInvalidProof
	ErrWrongCredentials = strategy.ErrWrongCredentials
	ErrCodeExpired      = strategy.ErrCodeExpired
	ErrCodeConsumed     = strategy.ErrCodeConsumed
	ErrCodeMismatch     = strategy.ErrCodeMismatch
	ErrProviderError    = strategy.ErrProviderError
	ErrEmailNotVerified = strategy.ErrEmailNotVerified

	// Token and session failures.
	ErrTokenExpired       = token.ErrExpired
	ErrTokenMalformed     = token.ErrMalformed
	ErrSignatureMismatch  = token.ErrSignatureMismatch
	ErrUnknownKeyVersion  = token.ErrUnknownKeyVersion
	ErrTokenInvalid       = session.ErrTokenInvalid
	ErrRefreshInvalid     = session.ErrRefreshInvalid
	ErrTokenTheftDetected = session.ErrTokenTheftDetected
	ErrSessionNotFound    = session.ErrNotFound

	// Identity store failures.
	ErrDuplicateIdentifier = store.ErrDuplicateIdentifier
	ErrUserNotFound        = store.ErrUserNotFound

	// Throttling.
	ErrRateLimited = rate.ErrRateLimited
)
