package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCodes(t *testing.T) (*RedisCodes, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisCodes(rdb, "sk-test"), mr
}

func sampleChallenge(deviceID string) *Challenge {
	return &Challenge{
		DeviceID: deviceID,
		Purpose:  purposeSignIn,
		Contact:  Contact{Kind: ContactEmail, Value: "ada@example.com"},
		CodeHash: fillHash(1),
		LinkHash: fillHash(2),
	}
}

func fillHash(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestRedisCodesRoundTrip(t *testing.T) {
	ctx := context.Background()
	codes, _ := newRedisCodes(t)

	if err := codes.Save(ctx, sampleChallenge("d1"), time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := codes.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Contact.Value != "ada@example.com" || got.Purpose != purposeSignIn {
		t.Fatalf("fields lost: %+v", got)
	}
	if got.CodeHash != fillHash(1) || got.LinkHash != fillHash(2) {
		t.Fatal("hashes lost in round trip")
	}

	if _, err := codes.Get(ctx, "missing"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestRedisCodesExpiry(t *testing.T) {
	ctx := context.Background()
	codes, mr := newRedisCodes(t)

	if err := codes.Save(ctx, sampleChallenge("d1"), time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := codes.Get(ctx, "d1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := codes.RecordAttempt(ctx, "d1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("attempt on expired challenge must not resurrect it, got %v", err)
	}
}

func TestRedisCodesConsumeOnce(t *testing.T) {
	ctx := context.Background()
	codes, _ := newRedisCodes(t)

	if err := codes.Save(ctx, sampleChallenge("d1"), time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := codes.Consume(ctx, "d1"); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := codes.Consume(ctx, "d1"); !errors.Is(err, ErrCodeConsumed) {
		t.Fatalf("expected ErrCodeConsumed, got %v", err)
	}
	if err := codes.Consume(ctx, "missing"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestRedisCodesConsumeRaceSingleWinner(t *testing.T) {
	ctx := context.Background()
	codes, _ := newRedisCodes(t)

	if err := codes.Save(ctx, sampleChallenge("d-race"), time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			results <- codes.Consume(ctx, "d-race")
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrCodeConsumed):
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestMemoryCodesSemantics(t *testing.T) {
	ctx := context.Background()
	codes := NewMemoryCodes()

	base := time.Unix(1700000000, 0)
	codes.now = func() time.Time { return base }

	if err := codes.Save(ctx, sampleChallenge("d1"), time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for want := 1; want <= 3; want++ {
		n, err := codes.RecordAttempt(ctx, "d1")
		if err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
		if n != want {
			t.Fatalf("expected attempt count %d, got %d", want, n)
		}
	}

	if err := codes.Consume(ctx, "d1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := codes.Consume(ctx, "d1"); !errors.Is(err, ErrCodeConsumed) {
		t.Fatalf("expected ErrCodeConsumed, got %v", err)
	}

	base = base.Add(2 * time.Minute)
	if _, err := codes.Get(ctx, "d1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
