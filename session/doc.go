// Package session owns the session lifecycle: creation, refresh-token
// rotation, verification, payload mutation, and revocation.
//
// # Lifecycle
//
//	CREATED -> ACTIVE -> (REFRESHED)* -> REVOKED | EXPIRED
//
// Access tokens are signed envelopes issued by the token package. Refresh
// tokens are opaque: base64url(handle || secret); the store persists only
// sha256(secret) plus the hash of the previous generation, which is what
// makes replay of a superseded token detectable.
//
// # Rotation policy
//
// Rotation is a compare-and-swap on the stored refresh hash, serialized per
// session by the backing store. Of N concurrent refreshes with the same
// token exactly one wins. The store reports every previous-generation hash
// as reuse; the manager then separates the two cases by time: within
// Config.ReuseGrace of the rotation the presenter is a race loser and gets
// ErrRefreshInvalid, past the window it is a replayed token, the whole
// refresh-token family is revoked, and the failure is reported as
// ErrTokenTheftDetected so callers can force re-authentication.
//
// # What this package must NOT do
//
//   - Verify identity proofs (strategies do that).
//   - Touch the credential store.
package session
