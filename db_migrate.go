package schema_migrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/PrimeRin/schema-migrator/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run applies every pending registered unit in ascending ID order and returns
// how many were applied. The run stops at the first failure; units applied
// before it stay applied, so the ledger always holds a prefix of the plan.
func (m *MigrationManager) Run(ctx context.Context) (int, error) {
	return m.RunTo(ctx, latestID)
}

// RunTo is Run limited to units with an ID up to and including target.
func (m *MigrationManager) RunTo(ctx context.Context, target ID) (applied int, err error) {
	m.logger.Info("Preparing migrations execution")

	err = m.withLock(ctx, func(conn *gorm.DB) error {
		if err := m.initLedgerTable(conn); err != nil {
			return err
		}

		ledger, err := m.readLedger(conn)
		if err != nil {
			return err
		}
		m.warnOrphans(ledger)

		planner := migratePlanner{
			units:  m.registeredMigrations,
			ledger: ledger,
			target: target,
		}
		plan := planner.MakePlan()
		if plan.IsEmpty() {
			m.logger.Info("No pending migrations")
			return nil
		}

		newest := newestApplied(ledger)
		for !plan.IsEmpty() {
			unit := plan.PopFirst()
			if unit.ID < newest {
				m.logger.Warn("Applying migration older than the newest applied one",
					zap.Stringer("id", unit.ID), zap.Stringer("newest", newest))
			}

			if err := m.executeMigration(conn, unit); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return applied, err
	}

	m.logger.Info("Migrations completed, schema is up to date", zap.Int("applied", applied))
	return applied, nil
}

// Apply applies one unit whether or not it is registered. Applying a unit
// that already has a ledger entry is a LedgerInconsistency.
func (m *MigrationManager) Apply(ctx context.Context, unit Unit) error {
	return m.withLock(ctx, func(conn *gorm.DB) error {
		if err := m.initLedgerTable(conn); err != nil {
			return transactionError(unit.ID, err)
		}

		_, err := repository.FindEntry(conn, m.ledgerTable, unit.ID.String())
		switch {
		case err == nil:
			return ledgerError(unit.ID, ErrAlreadyApplied)
		case !errors.Is(err, repository.ErrNotFound):
			return transactionError(unit.ID, fmt.Errorf("read ledger: %w", err))
		}

		return m.executeMigration(conn, unit)
	})
}

// executeMigration runs the unit's statements and its ledger insert in one
// transaction.
func (m *MigrationManager) executeMigration(conn *gorm.DB, unit Unit) error {
	logger := m.logger.With(zap.Stringer("id", unit.ID), zap.String("description", unit.Description))
	logger.Info("Executing migration")

	statements, err := m.dialect.RenderAll(unit.Operations)
	if err != nil {
		return operationError(unit.ID, "", err)
	}

	err = m.inTransaction(conn, unit.ID, func(tx *gorm.DB) error {
		for _, statement := range statements {
			logger.Debug("Executing statement", zap.String("statement", statement))
			if err := tx.Exec(statement).Error; err != nil {
				return operationError(unit.ID, statement, err)
			}
		}

		if err := repository.InsertEntry(tx, m.ledgerTable, newLedgerEntry(unit, m.now())); err != nil {
			return transactionError(unit.ID, fmt.Errorf("record ledger entry: %w", err))
		}
		return nil
	})
	if err != nil {
		logger.Error("Migration failed", zap.Error(err))
		return err
	}

	logger.Info("Migration complete")
	return nil
}

func (m *MigrationManager) warnOrphans(ledger []LedgerEntry) {
	for _, entry := range ledger {
		if _, ok := m.registeredMigrationsSet[entry.MigrationID]; !ok {
			m.logger.Warn("Ledger entry has no registered migration",
				zap.Stringer("id", entry.MigrationID), zap.String("description", entry.Description))
		}
	}
}

func newestApplied(ledger []LedgerEntry) ID {
	var newest ID
	for _, entry := range ledger {
		if entry.MigrationID > newest {
			newest = entry.MigrationID
		}
	}
	return newest
}
