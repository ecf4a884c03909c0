package password

import (
	"strings"
	"testing"
)

// fastParams keeps hashing cheap in tests while staying above the
// validation floor.
func fastParams() Params {
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	a, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	hash, err := a.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash prefix: %s", hash)
	}

	ok, err := a.Verify("correct-horse", hash)
	if err != nil || !ok {
		t.Fatalf("Verify correct password: ok=%v err=%v", ok, err)
	}

	ok, err = a.Verify("wrong", hash)
	if err != nil {
		t.Fatalf("Verify wrong password: %v", err)
	}
	if ok {
		t.Fatal("wrong password must not verify")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	h1, _ := a.Hash("same-password")
	h2, _ := a.Hash("same-password")
	if h1 == h2 {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestDecoyIsValidHash(t *testing.T) {
	a, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	ok, err := a.Verify("any-guess", a.Decoy())
	if err != nil {
		t.Fatalf("Verify against decoy: %v", err)
	}
	if ok {
		t.Fatal("decoy must never verify a real guess")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	a, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	bad := []string{
		"",
		"$argon2id$v=19$m=8192,t=1,p=1$short",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
	}
	for _, h := range bad {
		if _, err := a.Verify("x", h); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
}

func TestParamsValidation(t *testing.T) {
	cases := []Params{
		{Memory: 1, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 16},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, p := range cases {
		if _, err := NewArgon2(p); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
