package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure returned by RedisSnapshots.
var ErrRedisUnavailable = errors.New("redis unavailable")

const releaseClaimScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseClaimLua = redis.NewScript(releaseClaimScript)

// RedisSnapshots mirrors session states into Redis and arbitrates the
// restore between replicas sharing the same Redis.
//
// Keys:
//
//	<prefix>:snap:{<sessionID>}   encoded State, TTL bounded by the credential
//	<prefix>:claim:{<sessionID>}  restore claim owned by one replica
//
// The session ID is a hash tag so both keys of a session share a cluster slot.
type RedisSnapshots struct {
	redis  redis.UniversalClient
	prefix string
	owner  string
}

// NewRedisSnapshots returns a snapshot store. owner identifies this replica
// in restore claims.
func NewRedisSnapshots(client redis.UniversalClient, prefix, owner string) *RedisSnapshots {
	if prefix == "" {
		prefix = "crmgate"
	}
	return &RedisSnapshots{
		redis:  client,
		prefix: prefix,
		owner:  owner,
	}
}

// Save writes st under sessionID. A non-positive ttl removes the snapshot
// instead, since an expired credential must not be restored.
func (s *RedisSnapshots) Save(ctx context.Context, sessionID string, st State, ttl time.Duration) error {
	if ttl <= 0 {
		return s.deleteSnapshot(ctx, sessionID)
	}
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.snapKey(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load returns the stored state for sessionID. The boolean is false when no
// snapshot exists.
func (s *RedisSnapshots) Load(ctx context.Context, sessionID string) (State, bool, error) {
	data, err := s.redis.Get(ctx, s.snapKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	st, err := Decode(data)
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// Delete removes the snapshot and any restore claim for sessionID. Deleting a
// missing session is not an error.
func (s *RedisSnapshots) Delete(ctx context.Context, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.snapKey(sessionID))
		pipe.Del(ctx, s.claimKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClaimRestore tries to become the single replica restoring sessionID. The
// claim expires after ttl so a crashed owner cannot block the session.
func (s *RedisSnapshots) ClaimRestore(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.claimKey(sessionID), s.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// ReleaseRestore drops the claim if this replica still owns it.
func (s *RedisSnapshots) ReleaseRestore(ctx context.Context, sessionID string) error {
	if err := releaseClaimLua.Run(ctx, s.redis, []string{s.claimKey(sessionID)}, s.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DropClaim removes the restore claim regardless of its owner. Logout uses it
// so the next activation on any replica may restore again.
func (s *RedisSnapshots) DropClaim(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.claimKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisSnapshots) deleteSnapshot(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.snapKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisSnapshots) snapKey(sessionID string) string {
	return s.prefix + ":snap:{" + sessionID + "}"
}

func (s *RedisSnapshots) claimKey(sessionID string) string {
	return s.prefix + ":claim:{" + sessionID + "}"
}
