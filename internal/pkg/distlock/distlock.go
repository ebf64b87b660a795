package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. The dispatch engine
// holds one per campaign so only a single dispatch run is active at a time,
// even with several server processes behind a load balancer.
//
// Implementations must be safe for use from a single goroutine; concurrent
// use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks, and with neither
// configured to a process-local lock.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key)
	}
	return NewLocalLock(key)
}

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
// pg_try_advisory_lock / pg_advisory_unlock are session-scoped; the lock is
// released automatically if the DB connection drops, giving crash-safety
// similar to Redis TTL expiration.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

var (
	localMu   sync.Mutex
	localHeld = map[string]bool{}
)

// LocalLock implements DistLock with process-local state. It is the fallback
// when neither Redis nor Postgres is configured, such as deployments on the
// in-memory storage driver. It cannot guard against other processes.
type LocalLock struct {
	key  string
	held bool
}

// NewLocalLock creates a process-local lock for the given key.
func NewLocalLock(key string) *LocalLock { return &LocalLock{key: key} }

// Acquire takes the lock if no other holder has it.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	localMu.Lock()
	defer localMu.Unlock()
	if localHeld[l.key] {
		return false, nil
	}
	localHeld[l.key] = true
	l.held = true
	return true, nil
}

// Release frees the lock if this instance holds it.
func (l *LocalLock) Release(ctx context.Context) error {
	localMu.Lock()
	defer localMu.Unlock()
	if l.held {
		delete(localHeld, l.key)
		l.held = false
	}
	return nil
}
