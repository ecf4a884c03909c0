// Package token signs and verifies the compact access-token envelope used
// by the session manager.
//
// # Token format
//
// JWS (HS256) with the signing-key version in the "kid" header and the
// app-defined payload under the "data" claim. Verification is performed by
// golang-jwt, whose HMAC comparison is constant-time.
//
// # Key rotation
//
// A [Keyring] holds an ordered list of versioned keys, each with a validity
// window. Issuance always picks the newest currently-valid key; verification
// accepts any key whose window covers the token's kid at verification time.
// The key list is swapped through an atomic pointer so the hot verify path
// never takes a lock.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Know about sessions, users, or refresh tokens.
package token
