// Package strategy implements the pluggable identity verifiers: password,
// passwordless one-time codes, and third-party OAuth. A strategy maps a
// proof of identity to a user id in the credential store; session issuance
// stays with the session manager.
//
// # Error taxonomy
//
// Every user-facing verification failure wraps [ErrInvalidProof], so callers
// can map the whole class to one response without inspecting variants. The
// variants exist for logging and tests, not for leaking to clients.
package strategy

import (
	"errors"
	"fmt"
)

// ErrInvalidProof is the base class for all verification failures caused by
// bad credentials, codes, or OAuth exchanges. Non-retryable without new
// proof.
var ErrInvalidProof = errors.New("invalid proof")

// ErrStoreUnavailable wraps backend transport failures. Unlike proof
// failures these are retryable and must never be reported as a bad
// credential.
var ErrStoreUnavailable = errors.New("strategy store unavailable")

var (
	// ErrWrongCredentials is returned for both unknown identifiers and
	// wrong passwords — deliberately indistinguishable to prevent user
	// enumeration.
	ErrWrongCredentials = fmt.Errorf("%w: wrong credentials", ErrInvalidProof)
	// ErrCodeExpired is returned when a one-time code's TTL or attempt
	// budget is exhausted.
	ErrCodeExpired = fmt.Errorf("%w: code expired", ErrInvalidProof)
	// ErrCodeConsumed is returned when a one-time code is presented after
	// it was already redeemed.
	ErrCodeConsumed = fmt.Errorf("%w: code consumed", ErrInvalidProof)
	// ErrCodeMismatch is returned for a wrong guess at a live code.
	ErrCodeMismatch = fmt.Errorf("%w: code mismatch", ErrInvalidProof)
	// ErrProviderError is returned when the OAuth code exchange or the
	// claims fetch fails at the provider.
	ErrProviderError = fmt.Errorf("%w: provider error", ErrInvalidProof)
	// ErrEmailNotVerified is returned when provider policy requires a
	// verified email and the provider reports none.
	ErrEmailNotVerified = fmt.Errorf("%w: email not verified by provider", ErrInvalidProof)
)
