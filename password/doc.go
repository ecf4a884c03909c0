// Package password implements password hashing and verification with
// Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy and the
// uniform-error rule for unknown identifiers are enforced by the password
// identity strategy, which uses [Argon2.Decoy] to keep the unknown-user path
// on the same cost profile as a real verification.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive
//     hashes.
//   - Import any other sessionkit package.
//   - Log plaintext passwords.
package password
