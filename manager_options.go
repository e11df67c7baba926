package schema_migrator

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ManagerOption func(*MigrationManager)

// WithLogger replaces the default stderr logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *MigrationManager) {
		m.logger = logger
	}
}

// WithLogWriter keeps the default console logger but writes it to w.
func WithLogWriter(w io.Writer) ManagerOption {
	return func(m *MigrationManager) {
		m.logWriter = w
	}
}

func WithLogLevel(level zapcore.Level) ManagerOption {
	return func(m *MigrationManager) {
		m.logLevel = level
	}
}

// WithLedgerTable stores the ledger in table instead of schema_migrations.
func WithLedgerTable(table string) ManagerOption {
	return func(m *MigrationManager) {
		m.ledgerTable = table
	}
}

// WithLocker overrides the lock chosen for the database dialect.
func WithLocker(locker Locker) ManagerOption {
	return func(m *MigrationManager) {
		m.locker = locker
	}
}

// WithoutLock runs without cross-process mutual exclusion.
func WithoutLock() ManagerOption {
	return func(m *MigrationManager) {
		m.locker = noopLocker{}
	}
}

// WithLockKey names the lock shared by every process migrating the same
// database.
func WithLockKey(key string) ManagerOption {
	return func(m *MigrationManager) {
		m.lockKey = key
	}
}
