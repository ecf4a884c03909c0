package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live session exists for a handle.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshMismatch is returned when the presented refresh hash
	// matches neither the current nor the previous generation. Includes
	// the benign CAS-loser case.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")
	// ErrRefreshReuse is returned when the presented refresh hash matches
	// the superseded previous generation — the replay signal.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store is the session persistence contract. Implementations must make
// RotateRefresh atomic per handle: of N concurrent calls with the same
// provided hash exactly one may succeed.
type Store interface {
	// Save persists a new session with the given time-to-live.
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	// Get returns the live session for handle, or ErrNotFound.
	Get(ctx context.Context, handle string) (*Session, error)
	// RotateRefresh compares provided against the stored refresh hash.
	// On match it installs next, remembers the old hash as the previous
	// generation, bumps Generation, extends the TTL, and returns the
	// updated session. A match on the previous generation returns
	// ErrRefreshReuse; any other value returns ErrRefreshMismatch.
	RotateRefresh(ctx context.Context, handle string, provided, next [32]byte, ttl time.Duration) (*Session, error)
	// UpdatePayload merges patch into the session payload (nil value
	// deletes the key). When bumpVersion is set, PayloadVersion advances
	// so outstanding access tokens fail strict verification.
	UpdatePayload(ctx context.Context, handle string, patch map[string]any, bumpVersion bool) (*Session, error)
	// Delete revokes a single session. Deleting an absent handle is not
	// an error.
	Delete(ctx context.Context, handle string) error
	// DeleteFamily revokes every session in a refresh-token family and
	// reports how many were removed.
	DeleteFamily(ctx context.Context, familyID string) (int, error)
	// DeleteAllForUser revokes every session owned by userID.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
