// Package internal contains helper utilities that are intentionally private
// to sessionkit: secure random generation, opaque refresh-token encoding,
// and one-time-code generation.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed-window rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionkit API.
//   - Be imported by any package outside the sessionkit module.
package internal
