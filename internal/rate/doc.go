// Package rate provides Redis-backed fixed-window counters used to throttle
// security-sensitive authentication operations.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - si:  — sign-in per-identifier
//   - sip: — sign-in per-IP
//   - rf:  — refresh per-session-handle
//   - pl:  — passwordless consume per-device
//
// # What this package must NOT do
//
//   - Implement domain policies (which operations are throttled lives with
//     the caller).
//   - Be imported outside the sessionkit module.
package rate
