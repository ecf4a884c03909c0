package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory [Store]. Rotation runs under the
// store lock, which gives the per-handle CAS guarantee directly.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	families map[string]map[string]struct{}
	users    map[string]map[string]struct{}
	now      func() time.Time
}

type memoryEntry struct {
	session  Session
	deadline time.Time
}

// NewMemory returns an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*memoryEntry),
		families: make(map[string]map[string]struct{}),
		users:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (s *Memory) Save(_ context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{session: cloneSession(sess), deadline: s.now().Add(ttl)}
	s.sessions[sess.Handle] = entry
	addIndex(s.families, sess.FamilyID, sess.Handle)
	addIndex(s.users, sess.UserID, sess.Handle)
	return nil
}

func (s *Memory) Get(_ context.Context, handle string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(handle)
	if err != nil {
		return nil, err
	}
	out := cloneSession(&entry.session)
	return &out, nil
}

func (s *Memory) RotateRefresh(_ context.Context, handle string, provided, next [32]byte, ttl time.Duration) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(handle)
	if err != nil {
		return nil, err
	}

	sess := &entry.session
	switch provided {
	case sess.RefreshHash:
		now := s.now()
		sess.PrevRefreshHash = sess.RefreshHash
		sess.RefreshHash = next
		sess.Generation++
		sess.RotatedAt = now.Unix()
		sess.ExpiresAt = now.Add(ttl).Unix()
		entry.deadline = now.Add(ttl)
		out := cloneSession(sess)
		return &out, nil
	case sess.PrevRefreshHash:
		if sess.Generation > 0 {
			return nil, ErrRefreshReuse
		}
		return nil, ErrRefreshMismatch
	default:
		return nil, ErrRefreshMismatch
	}
}

func (s *Memory) UpdatePayload(_ context.Context, handle string, patch map[string]any, bumpVersion bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(handle)
	if err != nil {
		return nil, err
	}

	sess := &entry.session
	if sess.Payload == nil {
		sess.Payload = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(sess.Payload, k)
			continue
		}
		sess.Payload[k] = v
	}
	if bumpVersion {
		sess.PayloadVersion++
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *Memory) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(handle)
	return nil
}

func (s *Memory) DeleteFamily(_ context.Context, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for handle := range s.families[familyID] {
		s.deleteLocked(handle)
		count++
	}
	return count, nil
}

func (s *Memory) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for handle := range s.users[userID] {
		s.deleteLocked(handle)
		count++
	}
	return count, nil
}

// live returns the entry for handle, reaping it first if expired.
func (s *Memory) live(handle string) (*memoryEntry, error) {
	entry, ok := s.sessions[handle]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.deadline) {
		s.deleteLocked(handle)
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *Memory) deleteLocked(handle string) {
	entry, ok := s.sessions[handle]
	if !ok {
		return
	}
	delete(s.sessions, handle)
	dropIndex(s.families, entry.session.FamilyID, handle)
	dropIndex(s.users, entry.session.UserID, handle)
}

func addIndex(index map[string]map[string]struct{}, key, handle string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[handle] = struct{}{}
}

func dropIndex(index map[string]map[string]struct{}, key, handle string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(index, key)
	}
}

func cloneSession(s *Session) Session {
	out := *s
	out.Payload = maps.Clone(s.Payload)
	if out.Payload == nil {
		out.Payload = map[string]any{}
	}
	return out
}

var _ Store = (*Memory)(nil)
