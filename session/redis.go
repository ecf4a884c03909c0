package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusReuse    int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateScript performs the refresh CAS server-side so that concurrent
// rotations of the same session are serialized by Redis. Status codes:
// 0 missing, 1 mismatch, 2 previous-generation reuse, 3 rotated (followed
// by the flattened HGETALL of the updated session).
const rotateScript = `
local rh = redis.call("HGET", KEYS[1], "rh")
if not rh then
  return {0}
end
local ph = redis.call("HGET", KEYS[1], "ph")
if rh == ARGV[1] then
  redis.call("HSET", KEYS[1], "ph", rh, "rh", ARGV[2], "expires", ARGV[4], "rotated", ARGV[5])
  redis.call("HINCRBY", KEYS[1], "gen", 1)
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
  local s = redis.call("HGETALL", KEYS[1])
  local out = {3}
  for i = 1, #s do
    out[i + 1] = s[i]
  end
  return out
end
if ph and ph == ARGV[1] then
  return {2}
end
return {1}
`

const updatePayloadScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[1])
if ARGV[2] == "1" then
  redis.call("HINCRBY", KEYS[1], "pv", 1)
end
return 1
`

const deleteScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var (
	rotateLua        = redis.NewScript(rotateScript)
	updatePayloadLua = redis.NewScript(updatePayloadScript)
	deleteLua        = redis.NewScript(deleteScript)
)

// Redis is a [Store] backed by Redis. Each session is a hash; per-user and
// per-family sets index handles for bulk revocation.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps a Redis client. prefix namespaces every key; empty means
// "sk".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "sk"
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) sessionKey(handle string) string { return s.prefix + ":s:" + handle }
func (s *Redis) userKey(userID string) string    { return s.prefix + ":u:" + userID }
func (s *Redis) familyKey(familyID string) string {
	return s.prefix + ":f:" + familyID
}

func (s *Redis) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrUnavailable)
	}

	data, err := json.Marshal(sess.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	// An all-zero previous hash means "no previous generation"; store it
	// as empty so the rotate script cannot match against it.
	prev := ""
	if sess.PrevRefreshHash != [32]byte{} {
		prev = hex.EncodeToString(sess.PrevRefreshHash[:])
	}

	pipe := s.client.TxPipeline()
	key := s.sessionKey(sess.Handle)
	pipe.HSet(ctx, key,
		"uid", sess.UserID,
		"fid", sess.FamilyID,
		"data", string(data),
		"pv", sess.PayloadVersion,
		"gen", sess.Generation,
		"rh", hex.EncodeToString(sess.RefreshHash[:]),
		"ph", prev,
		"rotated", sess.RotatedAt,
		"created", sess.CreatedAt,
		"expires", sess.ExpiresAt,
	)
	pipe.PExpire(ctx, key, ttl)
	pipe.SAdd(ctx, s.userKey(sess.UserID), sess.Handle)
	pipe.SAdd(ctx, s.familyKey(sess.FamilyID), sess.Handle)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, handle string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(handle, fields)
}

func (s *Redis) RotateRefresh(ctx context.Context, handle string, provided, next [32]byte, ttl time.Duration) (*Session, error) {
	now := time.Now()
	raw, err := rotateLua.Run(ctx, s.client,
		[]string{s.sessionKey(handle)},
		hex.EncodeToString(provided[:]),
		hex.EncodeToString(next[:]),
		ttl.Milliseconds(),
		now.Add(ttl).Unix(),
		now.Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply", ErrUnavailable)
	}
	status, _ := reply[0].(int64)

	switch status {
	case rotateStatusRotated:
		fields := make(map[string]string, (len(reply)-1)/2)
		for i := 1; i+1 < len(reply); i += 2 {
			k, _ := reply[i].(string)
			v, _ := reply[i+1].(string)
			fields[k] = v
		}
		return decodeFields(handle, fields)
	case rotateStatusReuse:
		return nil, ErrRefreshReuse
	case rotateStatusMismatch:
		return nil, ErrRefreshMismatch
	default:
		return nil, ErrNotFound
	}
}

func (s *Redis) UpdatePayload(ctx context.Context, handle string, patch map[string]any, bumpVersion bool) (*Session, error) {
	// Merge happens client-side; concurrent patches to the same session
	// are last-writer-wins. Rotation state is untouched by this path.
	current, err := s.Get(ctx, handle)
	if err != nil {
		return nil, err
	}

	merged := current.Payload
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	bump := "0"
	if bumpVersion {
		bump = "1"
	}
	status, err := updatePayloadLua.Run(ctx, s.client,
		[]string{s.sessionKey(handle)}, string(data), bump,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, handle)
}

func (s *Redis) Delete(ctx context.Context, handle string) error {
	sess, err := s.Get(ctx, handle)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.deleteOne(ctx, handle, sess.UserID, sess.FamilyID)
}

func (s *Redis) DeleteFamily(ctx context.Context, familyID string) (int, error) {
	return s.deleteSet(ctx, s.familyKey(familyID))
}

func (s *Redis) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	return s.deleteSet(ctx, s.userKey(userID))
}

func (s *Redis) deleteSet(ctx context.Context, setKey string) (int, error) {
	handles, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count := 0
	for _, handle := range handles {
		sess, err := s.Get(ctx, handle)
		if err != nil {
			// Stale index entry for an expired session; reap it.
			_ = s.client.SRem(ctx, setKey, handle).Err()
			continue
		}
		if err := s.deleteOne(ctx, handle, sess.UserID, sess.FamilyID); err != nil {
			return count, err
		}
		count++
	}
	_ = s.client.Del(ctx, setKey).Err()
	return count, nil
}

func (s *Redis) deleteOne(ctx context.Context, handle, userID, familyID string) error {
	err := deleteLua.Run(ctx, s.client,
		[]string{s.sessionKey(handle), s.userKey(userID), s.familyKey(familyID)},
		handle,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func decodeFields(handle string, fields map[string]string) (*Session, error) {
	sess := &Session{Handle: handle, Payload: map[string]any{}}
	sess.UserID = fields["uid"]
	sess.FamilyID = fields["fid"]

	if data := fields["data"]; data != "" {
		if err := json.Unmarshal([]byte(data), &sess.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if v, err := strconv.ParseUint(fields["pv"], 10, 32); err == nil {
		sess.PayloadVersion = uint32(v)
	}
	if v, err := strconv.ParseUint(fields["gen"], 10, 64); err == nil {
		sess.Generation = v
	}
	if v, err := strconv.ParseInt(fields["rotated"], 10, 64); err == nil {
		sess.RotatedAt = v
	}
	if v, err := strconv.ParseInt(fields["created"], 10, 64); err == nil {
		sess.CreatedAt = v
	}
	if v, err := strconv.ParseInt(fields["expires"], 10, 64); err == nil {
		sess.ExpiresAt = v
	}

	rh, err := hex.DecodeString(fields["rh"])
	if err != nil || len(rh) != len(sess.RefreshHash) {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrUnavailable)
	}
	copy(sess.RefreshHash[:], rh)

	if ph := fields["ph"]; ph != "" {
		decoded, err := hex.DecodeString(ph)
		if err != nil || len(decoded) != len(sess.PrevRefreshHash) {
			return nil, fmt.Errorf("%w: corrupt previous refresh hash", ErrUnavailable)
		}
		copy(sess.PrevRefreshHash[:], decoded)
	}

	return sess, nil
}

var _ Store = (*Redis)(nil)
