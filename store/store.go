// Package store persists identity records: user ids, linked login methods,
// password hashes, verification state, and metadata.
//
// # Invariants
//
//   - A method identifier is unique within its kind across the whole store.
//   - All operations are atomic per user id; no partial write is observable.
//   - Records are never deleted implicitly — only DeleteUser removes one.
//
// Two implementations ship with the module: an in-memory store for tests and
// single-process deployments, and a Postgres store.
package store

import (
	"context"
	"errors"
	"time"
)

// MethodKind enumerates the supported login method kinds.
type MethodKind string

const (
	MethodPassword     MethodKind = "password"
	MethodPasswordless MethodKind = "passwordless"
	MethodThirdParty   MethodKind = "thirdparty"
)

// LoginMethod is one way a user can prove their identity. Identifier is an
// email or phone number, or "provider|subject" for third-party methods.
type LoginMethod struct {
	Kind         MethodKind
	Identifier   string
	Verified     bool
	PasswordHash string
}

// IdentityRecord is the stored identity of one user. UserID is opaque and
// immutable for the record's lifetime.
type IdentityRecord struct {
	UserID    string
	Methods   []LoginMethod
	Metadata  map[string]any
	CreatedAt time.Time
}

// Method returns the first linked method of the given kind, if any.
func (r *IdentityRecord) Method(kind MethodKind) (LoginMethod, bool) {
	for _, m := range r.Methods {
		if m.Kind == kind {
			return m, true
		}
	}
	return LoginMethod{}, false
}

// HasVerifiedMethod reports whether any linked method is verified.
func (r *IdentityRecord) HasVerifiedMethod() bool {
	for _, m := range r.Methods {
		if m.Verified {
			return true
		}
	}
	return false
}

var (
	// ErrDuplicateIdentifier is returned when a method identifier is
	// already linked to another user within the same kind.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrUserNotFound is returned for lookups that match no record.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable wraps backend transport failures; callers may retry
	// with backoff.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the credential store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateUser creates a record with the given methods and a fresh
	// opaque user id.
	CreateUser(ctx context.Context, methods []LoginMethod) (*IdentityRecord, error)
	// FindByMethod resolves a record by method kind and identifier.
	FindByMethod(ctx context.Context, kind MethodKind, identifier string) (*IdentityRecord, error)
	FindByID(ctx context.Context, userID string) (*IdentityRecord, error)
	// AddMethod links an additional method to an existing user.
	AddMethod(ctx context.Context, userID string, method LoginMethod) error
	// UpdateMetadata merges patch into the record's metadata. A nil value
	// deletes the key. Returns the record after the merge.
	UpdateMetadata(ctx context.Context, userID string, patch map[string]any) (*IdentityRecord, error)
	// MarkVerified flips the verified flag on the identified method.
	MarkVerified(ctx context.Context, userID string, kind MethodKind, identifier string) error
	// SetPasswordHash replaces the stored hash of the user's password
	// method.
	SetPasswordHash(ctx context.Context, userID string, hash string) error
	DeleteUser(ctx context.Context, userID string) error
}
