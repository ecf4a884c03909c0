package strategy

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCodes is a Redis-backed [CodeStore]. Challenges live in hashes under
// <prefix>:c:<deviceID> with the TTL doing expiry.
type RedisCodes struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCodes wraps a Redis client as a code store.
func NewRedisCodes(client redis.UniversalClient, prefix string) *RedisCodes {
	return &RedisCodes{client: client, prefix: prefix}
}

func (s *RedisCodes) key(deviceID string) string {
	return s.prefix + ":c:" + deviceID
}

// consumeScript flips consumed exactly once.
// Returns -1 missing, 0 already consumed, 1 consumed now.
var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("HGET", KEYS[1], "consumed") == "1" then
	return 0
end
redis.call("HSET", KEYS[1], "consumed", "1")
return 1
`)

// attemptScript bumps the guess counter only if the challenge still exists,
// so a racing expiry never resurrects the key.
var attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

func (s *RedisCodes) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("non-positive ttl")
	}

	consumed := "0"
	if ch.Consumed {
		consumed = "1"
	}
	fields := map[string]any{
		"purpose":  ch.Purpose,
		"ckind":    string(ch.Contact.Kind),
		"cvalue":   ch.Contact.Value,
		"uid":      ch.UserID,
		"code":     hex.EncodeToString(ch.CodeHash[:]),
		"link":     hex.EncodeToString(ch.LinkHash[:]),
		"attempts": strconv.Itoa(ch.Attempts),
		"consumed": consumed,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(ch.DeviceID), fields)
	pipe.Expire(ctx, s.key(ch.DeviceID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisCodes) Get(ctx context.Context, deviceID string) (*Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}
	return parseChallenge(deviceID, fields)
}

func (s *RedisCodes) Consume(ctx context.Context, deviceID string) error {
	status, err := consumeScript.Run(ctx, s.client, []string{s.key(deviceID)}).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch status {
	case -1:
		return ErrChallengeNotFound
	case 0:
		return ErrCodeConsumed
	default:
		return nil
	}
}

func (s *RedisCodes) RecordAttempt(ctx context.Context, deviceID string) (int, error) {
	count, err := attemptScript.Run(ctx, s.client, []string{s.key(deviceID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == -1 {
		return 0, ErrChallengeNotFound
	}
	return count, nil
}

func (s *RedisCodes) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, s.key(deviceID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func parseChallenge(deviceID string, fields map[string]string) (*Challenge, error) {
	ch := &Challenge{
		DeviceID: deviceID,
		Purpose:  fields["purpose"],
		Contact:  Contact{Kind: ContactKind(fields["ckind"]), Value: fields["cvalue"]},
		UserID:   fields["uid"],
		Consumed: fields["consumed"] == "1",
	}

	for dst, field := range map[*[32]byte]string{&ch.CodeHash: "code", &ch.LinkHash: "link"} {
		raw, err := hex.DecodeString(fields[field])
		if err != nil || len(raw) != len(dst) {
			return nil, fmt.Errorf("corrupt challenge field %q", field)
		}
		copy(dst[:], raw)
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge field \"attempts\"")
	}
	ch.Attempts = attempts

	return ch, nil
}

var _ CodeStore = (*RedisCodes)(nil)
