// Package sessionkit issues, verifies, refreshes, and revokes session
// tokens for a multi-user service.
//
// A session pairs a short-lived signed access token (JWT, versioned signing
// keys) with a long-lived opaque refresh token that rotates on every use.
// Replaying a superseded refresh token is treated as theft: the whole token
// family is revoked and the caller gets ErrTokenTheftDetected.
//
// Identity proofs are pluggable: password (argon2id), passwordless one-time
// codes and magic links, and third-party OAuth. All strategies resolve to a
// user id in the credential store; session issuance stays with the session
// manager.
//
// # Assembly
//
//	cfg, err := sessionkit.ConfigFromEnv()
//	...
//	svc, err := sessionkit.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithSender(mailer).
//		Build()
//
// Protect routes with middleware.Gate(svc.Sessions(), ...) and read the
// verified session via middleware.SessionFromContext.
package sessionkit
