package lock

import (
	"context"
	"time"

	"github.com/ignatij/coachflow/pkg/lock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "coachflow:lock:"

var (
	// Sets the lease or refreshes it for the same owner. Returns 1 on success.
	acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	redis.call('PSETEX', KEYS[1], tonumber(ARGV[2]), ARGV[1])
	return 1
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
	return 1
end
return 0
`)

	// Deletes the lease when owned. Returns 1 if deleted, 0 if missing, -1 if
	// held by someone else.
	releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
if cur == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return -1
`)
)

// RedisLocker is a lock.Locker shared by every process talking to the same
// Redis. Leases expire on their own if the holder dies.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

var _ lock.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", addr)
	}
	return NewRedisLocker(client, ""), nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	n, err := acquireScript.Run(ctx, l.client, []string{l.prefix + key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "acquire %s", key)
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, owner string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Int64()
	if err != nil {
		return errors.Wrapf(err, "release %s", key)
	}
	if n < 0 {
		return lock.ErrLocked
	}
	return nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
