// Package middleware exposes the HTTP request gate and CORS support.
//
// [Gate] extracts the access token from the Authorization header or a
// cookie, verifies it through the session manager, and injects the verified
// [session.AuthInfo] into the request context for handlers to read via
// [SessionFromContext].
//
// The gate translates HTTP into verifier calls and status codes; it makes no
// authorization decisions of its own.
package middleware
