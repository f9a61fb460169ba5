package locking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dorch-network/dorch/pkg/util"
)

// DefaultLockTTL bounds how long a crashed holder can leave a switch
// locked.
const DefaultLockTTL = 120 * time.Second

// defaultKeyPrefix namespaces the lock keys when no prefix is configured.
const defaultKeyPrefix = "dorch"

// acquireLockScript atomically takes a switch lock. Returns 1 on success,
// 0 if the switch is locked by another holder. Reacquiring an own lock
// refreshes its TTL.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	if redis.call("HGET", key, "holder") == ARGV[1] then
		redis.call("EXPIRE", key, tonumber(ARGV[3]))
		return 1
	end
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript releases a lock after verifying the holder. Returns 1
// on success, 0 on holder mismatch, -1 if the lock is already gone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
local current = redis.call("HGET", key, "holder")
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// Redis is the multi-instance lock backend. Locks expire after the TTL so
// a crashed orchestrator cannot wedge the data plane.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing Redis connection as a lock backend. The
// prefix namespaces the lock keys so several domains can share a server.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(switchID string) string {
	return r.prefix + "|LOCK|" + switchID
}

// Acquire implements Locker. On any failure the switches acquired so far
// are released again.
func (r *Redis) Acquire(ctx context.Context, holder string, switches []string) error {
	var acquired []string
	for _, sw := range sortedUnique(switches) {
		ok, err := r.acquireOne(ctx, sw, holder)
		if err != nil {
			r.Release(ctx, holder, acquired)
			return fmt.Errorf("acquiring lock for %s: %w", sw, err)
		}
		if !ok {
			r.Release(ctx, holder, acquired)
			return fmt.Errorf("%w: %s", util.ErrSwitchLocked, sw)
		}
		acquired = append(acquired, sw)
	}
	return nil
}

func (r *Redis) acquireOne(ctx context.Context, switchID, holder string) (bool, error) {
	ttlSeconds := int(r.ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := acquireLockScript.Run(ctx, r.client,
		[]string{r.key(switchID)},
		holder, now, strconv.Itoa(ttlSeconds)).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// Release implements Locker.
func (r *Redis) Release(ctx context.Context, holder string, switches []string) {
	for _, sw := range switches {
		result, err := releaseLockScript.Run(ctx, r.client,
			[]string{r.key(sw)}, holder).Int()
		if err != nil {
			util.WithSwitch(sw).Warnf("releasing switch lock: %v", err)
			continue
		}
		if result == 0 {
			util.WithSwitch(sw).Warn("switch lock held by someone else, not releasing")
		}
	}
}
