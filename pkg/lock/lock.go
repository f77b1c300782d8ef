// Package lock keeps two invocations from reconciling the same devices at
// the same time. Locks live in Redis as CCINV_LOCK|<key> hashes holding the
// holder id, the acquisition time and the TTL.
package lock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ccinv/ccinv/pkg/util"
)

// DefaultTTL bounds how long a crashed invocation can hold its devices.
const DefaultTTL = 30 * time.Minute

// Key returns the Redis key of a lock.
func Key(name string) string {
	return "CCINV_LOCK|" + name
}

// Backend stores lock records.
type Backend interface {
	// Acquire creates key for holder unless it exists. It reports whether
	// the lock was taken.
	Acquire(ctx context.Context, key, holder, acquired string, ttlSeconds int) (bool, error)
	// Release deletes key if holder owns it.
	Release(ctx context.Context, key, holder string) error
	// Holder returns the current holder of key, or "".
	Holder(ctx context.Context, key string) (string, time.Time, error)
}

// Locker acquires sets of locks all-or-nothing.
type Locker struct {
	backend Backend
	// Holder identifies this invocation in lock records.
	Holder string
	TTL    time.Duration
}

// New creates a locker with a random holder id.
func New(b Backend) *Locker {
	return &Locker{backend: b, Holder: uuid.NewString(), TTL: DefaultTTL}
}

// Acquire locks every name or none of them. The returned function releases
// the locks; release errors are logged.
func (l *Locker) Acquire(ctx context.Context, names []string) (func(), error) {
	keys := util.Dedup(names)
	// Fixed order keeps two lockers from deadlocking on overlapping sets.
	sort.Strings(keys)

	ttl := int(l.TTL / time.Second)
	if ttl <= 0 {
		ttl = int(DefaultTTL / time.Second)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var held []string
	release := func() {
		for _, k := range held {
			if err := l.backend.Release(context.Background(), Key(k), l.Holder); err != nil {
				util.WithField("lock", k).Warnf("Releasing lock: %v", err)
			}
		}
	}
	for _, k := range keys {
		ok, err := l.backend.Acquire(ctx, Key(k), l.Holder, now, ttl)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquiring lock for %s: %w", k, err)
		}
		if !ok {
			release()
			holder, since, _ := l.backend.Holder(ctx, Key(k))
			return nil, fmt.Errorf("%s held by %s since %s: %w", k, holder, since.Format(time.RFC3339), util.ErrLocked)
		}
		held = append(held, k)
	}
	util.WithField("holder", l.Holder).Debugf("Locked %d target(s)", len(held))
	return release, nil
}

// Noop is a locker that never blocks.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(context.Context, []string) (func(), error) {
	return func() {}, nil
}

// ============================================================================
// Redis backend
// ============================================================================

// acquireScript returns 1 on success, 0 if another holder has the key.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseScript returns 1 on success, 0 on holder mismatch, -1 if the key
// is gone.
var releaseScript = redis.NewScript(`
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

// Redis stores locks in a Redis database.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis server at addr.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Acquire(ctx context.Context, key, holder, acquired string, ttlSeconds int) (bool, error) {
	n, err := acquireScript.Run(ctx, r.client, []string{key}, holder, acquired, strconv.Itoa(ttlSeconds)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Release(ctx context.Context, key, holder string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, holder).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("lock holder mismatch for %s", key)
	}
	return nil
}

func (r *Redis) Holder(ctx context.Context, key string) (string, time.Time, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}
	acquired, _ := time.Parse(time.RFC3339, vals["acquired"])
	return vals["holder"], acquired, nil
}
