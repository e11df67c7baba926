package schema_migrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/PrimeRin/schema-migrator/internal/logging"
	"github.com/PrimeRin/schema-migrator/internal/models"
	"github.com/PrimeRin/schema-migrator/schema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const defaultLockKey = "schema_migrator"

// NewMigrationsManager creates the migration manager for db. The dialect used
// to render operations follows the gorm dialector of db.
func NewMigrationsManager(db *gorm.DB, opts ...ManagerOption) (*MigrationManager, error) {
	dialect, err := schema.LookupDialect(db.Dialector.Name())
	if err != nil {
		return nil, err
	}

	manager := MigrationManager{
		db:                      db,
		dialect:                 dialect,
		logWriter:               os.Stderr,
		logLevel:                zapcore.InfoLevel,
		ledgerTable:             models.DefaultLedgerTable,
		locker:                  lockerFor(dialect),
		lockKey:                 defaultLockKey,
		now:                     func() time.Time { return time.Now().UTC() },
		registeredMigrations:    make([]Unit, 0),
		registeredMigrationsSet: make(map[ID]struct{}),
	}
	for _, opt := range opts {
		opt(&manager)
	}
	if manager.logger == nil {
		manager.logger = logging.New(manager.logWriter, manager.logLevel, logging.FormatConsole)
	}
	manager.logger = manager.logger.With(zap.String("dialect", dialect.Name()))

	if !dialect.TransactionalDDL() {
		manager.logger.Warn("Dialect does not roll back DDL, a failed migration may be partially applied")
	}
	return &manager, nil
}

type MigrationManager struct {
	db        *gorm.DB
	dialect   schema.Dialect
	logger    *zap.Logger
	logWriter io.Writer
	logLevel  zapcore.Level

	ledgerTable string
	locker      Locker
	lockKey     string
	now         func() time.Time

	registeredMigrations    []Unit
	registeredMigrationsSet map[ID]struct{}
}

// Register adds units to the known definition set, kept ordered by ID.
//
// Panics on a zero ID or when an ID is registered twice.
func (m *MigrationManager) Register(units ...Unit) {
	for _, unit := range units {
		if unit.ID == 0 {
			panic(fmt.Sprintf("migration %q has no id", unit.Description))
		}
		if _, ok := m.registeredMigrationsSet[unit.ID]; ok {
			panic(fmt.Sprintf("migration with same id registered twice: %s", unit.ID))
		}

		m.registeredMigrationsSet[unit.ID] = struct{}{}
		m.registeredMigrations = append(m.registeredMigrations, unit)
	}

	sort.SliceStable(m.registeredMigrations, func(i, j int) bool {
		return m.registeredMigrations[i].ID < m.registeredMigrations[j].ID
	})
}

// Units returns the registered units ascending by ID.
func (m *MigrationManager) Units() []Unit {
	units := make([]Unit, len(m.registeredMigrations))
	copy(units, m.registeredMigrations)
	return units
}

func (m *MigrationManager) Dialect() schema.Dialect {
	return m.dialect
}

func (m *MigrationManager) findMigration(id ID) (Unit, bool) {
	i := sort.Search(len(m.registeredMigrations), func(i int) bool {
		return m.registeredMigrations[i].ID >= id
	})
	if i < len(m.registeredMigrations) && m.registeredMigrations[i].ID == id {
		return m.registeredMigrations[i], true
	}
	return Unit{}, false
}

// withLock runs fn on one pinned connection while holding the migration lock.
func (m *MigrationManager) withLock(ctx context.Context, fn func(conn *gorm.DB) error) error {
	return m.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		conn = conn.Session(&gorm.Session{})

		release, err := m.locker.Acquire(ctx, conn, m.lockKey)
		if err != nil {
			return err
		}
		defer release()

		return fn(conn)
	})
}

// inTransaction runs fn in a transaction on conn. The transaction commits only
// when fn succeeds and is rolled back on every other path, panics included.
func (m *MigrationManager) inTransaction(conn *gorm.DB, id ID, fn func(tx *gorm.DB) error) (err error) {
	tx := conn.Begin()
	if tx.Error != nil {
		return transactionError(id, fmt.Errorf("begin transaction: %w", tx.Error))
	}

	committed := false
	defer func() {
		if !committed && err == nil {
			// fn panicked
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			m.logger.Error("Rollback failed", zap.Stringer("id", id), zap.Error(rbErr))
			err = withRollbackError(id, err, rbErr)
		}
		return err
	}

	if err = tx.Commit().Error; err != nil {
		return transactionError(id, fmt.Errorf("commit transaction: %w", err))
	}
	committed = true
	return nil
}

func withRollbackError(id ID, err, rbErr error) error {
	rbErr = fmt.Errorf("rollback transaction: %w", rbErr)
	if schemaErr, ok := err.(*SchemaError); ok {
		schemaErr.Err = fmt.Errorf("%w; %w", schemaErr.Err, rbErr)
		return schemaErr
	}
	return transactionError(id, fmt.Errorf("%w; %w", err, rbErr))
}
