package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-memory [Store]. All returned records are
// deep copies; mutating them does not affect stored state.
type Memory struct {
	mu    sync.Mutex
	users map[string]*IdentityRecord
	index map[methodKey]string
}

type methodKey struct {
	kind       MethodKind
	identifier string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*IdentityRecord),
		index: make(map[methodKey]string),
	}
}

func (s *Memory) CreateUser(_ context.Context, methods []LoginMethod) (*IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range methods {
		if _, taken := s.index[methodKey{m.Kind, m.Identifier}]; taken {
			return nil, ErrDuplicateIdentifier
		}
	}

	rec := &IdentityRecord{
		UserID:    uuid.NewString(),
		Methods:   append([]LoginMethod(nil), methods...),
		Metadata:  map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
	s.users[rec.UserID] = rec
	for _, m := range methods {
		s.index[methodKey{m.Kind, m.Identifier}] = rec.UserID
	}

	return cloneRecord(rec), nil
}

func (s *Memory) FindByMethod(_ context.Context, kind MethodKind, identifier string) (*IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.index[methodKey{kind, identifier}]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneRecord(s.users[userID]), nil
}

func (s *Memory) FindByID(_ context.Context, userID string) (*IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Memory) AddMethod(_ context.Context, userID string, method LoginMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if _, taken := s.index[methodKey{method.Kind, method.Identifier}]; taken {
		return ErrDuplicateIdentifier
	}

	rec.Methods = append(rec.Methods, method)
	s.index[methodKey{method.Kind, method.Identifier}] = userID
	return nil
}

func (s *Memory) UpdateMetadata(_ context.Context, userID string, patch map[string]any) (*IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	for k, v := range patch {
		if v == nil {
			delete(rec.Metadata, k)
			continue
		}
		rec.Metadata[k] = v
	}
	return cloneRecord(rec), nil
}

func (s *Memory) MarkVerified(_ context.Context, userID string, kind MethodKind, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for i, m := range rec.Methods {
		if m.Kind == kind && m.Identifier == identifier {
			rec.Methods[i].Verified = true
			return nil
		}
	}
	return ErrUserNotFound
}

func (s *Memory) SetPasswordHash(_ context.Context, userID string, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for i, m := range rec.Methods {
		if m.Kind == MethodPassword {
			rec.Methods[i].PasswordHash = hash
			return nil
		}
	}
	return ErrUserNotFound
}

func (s *Memory) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for _, m := range rec.Methods {
		delete(s.index, methodKey{m.Kind, m.Identifier})
	}
	delete(s.users, userID)
	return nil
}

func cloneRecord(rec *IdentityRecord) *IdentityRecord {
	out := &IdentityRecord{
		UserID:    rec.UserID,
		Methods:   append([]LoginMethod(nil), rec.Methods...),
		Metadata:  maps.Clone(rec.Metadata),
		CreatedAt: rec.CreatedAt,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

var _ Store = (*Memory)(nil)
