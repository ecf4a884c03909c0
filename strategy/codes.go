package strategy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrChallengeNotFound is returned for one-time-code lookups that match no
// live challenge; expired challenges are indistinguishable from absent ones.
var ErrChallengeNotFound = errors.New("challenge not found")

// ContactKind enumerates passwordless delivery channels.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Contact identifies where a one-time code is delivered.
type Contact struct {
	Kind  ContactKind
	Value string
}

// Challenge is one pending one-time-code flow: a passwordless sign-in or an
// email verification. Only hashes of the code and link secret are stored.
type Challenge struct {
	DeviceID string
	Purpose  string
	Contact  Contact
	UserID   string
	CodeHash [32]byte
	LinkHash [32]byte
	Attempts int
	Consumed bool
}

// CodeStore persists challenges. Consume must be atomic: of N concurrent
// calls for the same device exactly one succeeds.
type CodeStore interface {
	Save(ctx context.Context, ch *Challenge, ttl time.Duration) error
	Get(ctx context.Context, deviceID string) (*Challenge, error)
	// Consume marks the challenge redeemed. A second call returns
	// ErrCodeConsumed.
	Consume(ctx context.Context, deviceID string) error
	// RecordAttempt bumps and returns the failed-guess counter.
	RecordAttempt(ctx context.Context, deviceID string) (int, error)
	Delete(ctx context.Context, deviceID string) error
}

// MemoryCodes is a mutex-guarded in-memory [CodeStore].
type MemoryCodes struct {
	mu         sync.Mutex
	challenges map[string]*memoryChallenge
	now        func() time.Time
}

type memoryChallenge struct {
	challenge Challenge
	deadline  time.Time
}

// NewMemoryCodes returns an empty in-memory code store.
func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{
		challenges: make(map[string]*memoryChallenge),
		now:        time.Now,
	}
}

func (s *MemoryCodes) Save(_ context.Context, ch *Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("non-positive ttl")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.DeviceID] = &memoryChallenge{challenge: *ch, deadline: s.now().Add(ttl)}
	return nil
}

func (s *MemoryCodes) Get(_ context.Context, deviceID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(deviceID)
	if err != nil {
		return nil, err
	}
	out := entry.challenge
	return &out, nil
}

func (s *MemoryCodes) Consume(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(deviceID)
	if err != nil {
		return err
	}
	if entry.challenge.Consumed {
		return ErrCodeConsumed
	}
	entry.challenge.Consumed = true
	return nil
}

func (s *MemoryCodes) RecordAttempt(_ context.Context, deviceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(deviceID)
	if err != nil {
		return 0, err
	}
	entry.challenge.Attempts++
	return entry.challenge.Attempts, nil
}

func (s *MemoryCodes) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, deviceID)
	return nil
}

func (s *MemoryCodes) live(deviceID string) (*memoryChallenge, error) {
	entry, ok := s.challenges[deviceID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if !s.now().Before(entry.deadline) {
		delete(s.challenges, deviceID)
		return nil, ErrChallengeNotFound
	}
	return entry, nil
}

var _ CodeStore = (*MemoryCodes)(nil)
