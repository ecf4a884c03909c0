package strategy

import (
	"context"
	"errors"

	"github.com/sessionkit/sessionkit/password"
	"github.com/sessionkit/sessionkit/store"
)

const minPasswordBytes = 10

// Password verifies identifier+password proofs against the credential
// store.
type Password struct {
	store  store.Store
	hasher password.Hasher
}

// NewPassword binds the strategy to its store and hasher.
func NewPassword(st store.Store, hasher password.Hasher) (*Password, error) {
	if st == nil || hasher == nil {
		return nil, errors.New("password strategy requires a store and a hasher")
	}
	return &Password{store: st, hasher: hasher}, nil
}

// SignUp creates a new user with a password login method. The identifier
// starts unverified; email verification flips the flag.
func (p *Password) SignUp(ctx context.Context, identifier, plaintext string) (*store.IdentityRecord, error) {
	if len(plaintext) < minPasswordBytes {
		return nil, errors.New("password must be at least 10 bytes")
	}

	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	return p.store.CreateUser(ctx, []store.LoginMethod{{
		Kind:         store.MethodPassword,
		Identifier:   identifier,
		PasswordHash: hash,
	}})
}

// Verify resolves the identifier and compares the password. Unknown
// identifiers burn a hash comparison against the decoy so the two failure
// paths cost the same, and both return ErrWrongCredentials.
func (p *Password) Verify(ctx context.Context, identifier, plaintext string) (string, error) {
	rec, err := p.store.FindByMethod(ctx, store.MethodPassword, identifier)
	if errors.Is(err, store.ErrUserNotFound) {
		_, _ = p.hasher.Verify(plaintext, p.hasher.Decoy())
		return "", ErrWrongCredentials
	}
	if err != nil {
		return "", err
	}

	method, ok := rec.Method(store.MethodPassword)
	if !ok || method.PasswordHash == "" {
		_, _ = p.hasher.Verify(plaintext, p.hasher.Decoy())
		return "", ErrWrongCredentials
	}

	match, err := p.hasher.Verify(plaintext, method.PasswordHash)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrWrongCredentials
	}
	return rec.UserID, nil
}

// SetPassword replaces the user's password hash. Used by password change
// and reset flows; the caller is responsible for having authenticated the
// request.
func (p *Password) SetPassword(ctx context.Context, userID, plaintext string) error {
	if len(plaintext) < minPasswordBytes {
		return errors.New("password must be at least 10 bytes")
	}
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	return p.store.SetPasswordHash(ctx, userID, hash)
}
