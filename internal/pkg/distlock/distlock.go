// Package distlock provides cross-process mutual exclusion for periodic
// maintenance work, so a fleet of worker processes runs each sweep once.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a non-blocking, single-goroutine lock. Concurrent use across
// goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to take the lock, returning true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is provided,
// otherwise PostgreSQL advisory locks on the job store's connection.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if rdb != nil {
		return NewRedisLock(rdb, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// RedisLock locks via SET NX with a TTL. A random ownership token and a Lua
// release script keep one process from releasing another's lock.
type RedisLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewRedisLock creates a Redis-backed lock. The TTL bounds how long a
// crashed holder can block other processes.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		rdb:   rdb,
		key:   "lock:" + key,
		token: hex.EncodeToString(b),
		ttl:   ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.rdb, []string{l.key}, l.token).Result()
	return err
}

// AdvisoryLock locks via pg_try_advisory_lock. Session scoped: the lock
// drops with the connection, which stands in for a TTL.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock derives a deterministic lock id from the key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
