package schema_migrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/PrimeRin/schema-migrator/schema"
	"gorm.io/gorm"
)

// Locker serializes migration runs against one database. Acquire is called on
// the pinned connection the run uses, so session scoped locks are released on
// the session that took them.
type Locker interface {
	Acquire(ctx context.Context, conn *gorm.DB, key string) (release func(), err error)
}

// PostgresLocker takes a session level advisory lock.
type PostgresLocker struct{}

func (PostgresLocker) Acquire(ctx context.Context, conn *gorm.DB, key string) (func(), error) {
	lockID := hashLockKey(key)
	if err := conn.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", lockID).Error; err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}
	return func() {
		_ = conn.WithContext(context.Background()).Exec("SELECT pg_advisory_unlock(?)", lockID).Error
	}, nil
}

var ErrLockNotAcquired = errors.New("migration lock not acquired")

// MySQLLocker takes a named lock with GET_LOCK, waiting without a timeout.
type MySQLLocker struct{}

func (MySQLLocker) Acquire(ctx context.Context, conn *gorm.DB, key string) (func(), error) {
	var acquired int
	if err := conn.WithContext(ctx).Raw("SELECT GET_LOCK(?, -1)", key).Scan(&acquired).Error; err != nil {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", key, err)
	}
	if acquired != 1 {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", key, ErrLockNotAcquired)
	}
	return func() {
		_ = conn.WithContext(context.Background()).Exec("SELECT RELEASE_LOCK(?)", key).Error
	}, nil
}

// LocalLocker is a process local mutex. SQLite has a single writer and its
// file locking covers other processes.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) Acquire(ctx context.Context, _ *gorm.DB, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, *gorm.DB, string) (func(), error) {
	return func() {}, nil
}

func lockerFor(dialect schema.Dialect) Locker {
	switch dialect.Name() {
	case schema.Postgres.Name():
		return PostgresLocker{}
	case schema.MySQL.Name():
		return MySQLLocker{}
	default:
		return &LocalLocker{}
	}
}

// hashLockKey maps key to a non-negative advisory lock identifier.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
