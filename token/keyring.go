package token

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const minSecretSize = 32

// ErrNoActiveKey is returned when no key in the ring is valid for signing.
var ErrNoActiveKey = errors.New("no active signing key")

// ErrUnknownKeyVersion is returned when a token names a key version that is
// absent from the ring or outside its validity window. Revoked versions and
// never-issued versions are indistinguishable to callers.
var ErrUnknownKeyVersion = errors.New("unknown key version")

// Key is one versioned entry of signing material. A zero ValidUntil means
// the key has no upper validity bound.
type Key struct {
	Version    string
	Secret     []byte
	ValidFrom  time.Time
	ValidUntil time.Time
}

func (k Key) validAt(now time.Time) bool {
	if now.Before(k.ValidFrom) {
		return false
	}
	if !k.ValidUntil.IsZero() && !now.Before(k.ValidUntil) {
		return false
	}
	return true
}

// Keyring holds the ordered set of signing keys. Reads go through an atomic
// pointer; Add and Revoke copy-on-write under a mutex, so verification never
// blocks on rotation.
type Keyring struct {
	mu   sync.Mutex
	keys atomic.Pointer[[]Key]
}

// NewKeyring builds a ring from the given keys, oldest first.
func NewKeyring(keys ...Key) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring requires at least one key")
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return nil, err
		}
		if _, dup := seen[k.Version]; dup {
			return nil, fmt.Errorf("duplicate key version %q", k.Version)
		}
		seen[k.Version] = struct{}{}
	}

	r := &Keyring{}
	snapshot := append([]Key(nil), keys...)
	r.keys.Store(&snapshot)
	return r, nil
}

// Add appends a new key to the ring. Existing keys keep verifying tokens
// they signed until their windows close.
func (r *Keyring) Add(k Key) error {
	if err := validateKey(k); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.keys.Load()
	for _, existing := range current {
		if existing.Version == k.Version {
			return fmt.Errorf("duplicate key version %q", k.Version)
		}
	}

	next := make([]Key, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, k)
	r.keys.Store(&next)
	return nil
}

// Revoke removes a key version. Tokens signed with it fail verification
// with [ErrUnknownKeyVersion] from that point on.
func (r *Keyring) Revoke(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.keys.Load()
	next := make([]Key, 0, len(current))
	for _, k := range current {
		if k.Version != version {
			next = append(next, k)
		}
	}
	r.keys.Store(&next)
}

// signingKey returns the newest key valid at now.
func (r *Keyring) signingKey(now time.Time) (Key, error) {
	keys := *r.keys.Load()

	var (
		best  Key
		found bool
	)
	for _, k := range keys {
		if !k.validAt(now) {
			continue
		}
		if !found || k.ValidFrom.After(best.ValidFrom) {
			best = k
			found = true
		}
	}
	if !found {
		return Key{}, ErrNoActiveKey
	}
	return best, nil
}

// verifyKey resolves a version for verification at now.
func (r *Keyring) verifyKey(version string, now time.Time) (Key, error) {
	keys := *r.keys.Load()
	for _, k := range keys {
		if k.Version != version {
			continue
		}
		if !k.validAt(now) {
			return Key{}, ErrUnknownKeyVersion
		}
		return k, nil
	}
	return Key{}, ErrUnknownKeyVersion
}

func validateKey(k Key) error {
	if k.Version == "" {
		return errors.New("key version must not be empty")
	}
	if len(k.Secret) < minSecretSize {
		return fmt.Errorf("key %q secret below %d bytes", k.Version, minSecretSize)
	}
	return nil
}
