package schema_migrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/PrimeRin/schema-migrator/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Revert undoes one applied unit and deletes its ledger entry in a single
// transaction.
func (m *MigrationManager) Revert(ctx context.Context, unit Unit) error {
	return m.withLock(ctx, func(conn *gorm.DB) error {
		if err := m.initLedgerTable(conn); err != nil {
			return transactionError(unit.ID, err)
		}

		_, err := repository.FindEntry(conn, m.ledgerTable, unit.ID.String())
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ledgerError(unit.ID, ErrNotApplied)
		case err != nil:
			return transactionError(unit.ID, fmt.Errorf("read ledger: %w", err))
		}

		return m.executeDowngrade(conn, unit)
	})
}

// Rollback reverts the steps most recently applied units, newest first.
func (m *MigrationManager) Rollback(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return 0, nil
	}
	return m.downgrade(ctx, downgradePlanner{steps: steps})
}

// Downgrade reverts every applied unit with an ID above target, newest first.
// A zero target reverts everything.
func (m *MigrationManager) Downgrade(ctx context.Context, target ID) (int, error) {
	return m.downgrade(ctx, downgradePlanner{target: target})
}

func (m *MigrationManager) downgrade(ctx context.Context, planner downgradePlanner) (reverted int, err error) {
	m.logger.Info("Preparing downgrade execution")

	err = m.withLock(ctx, func(conn *gorm.DB) error {
		if err := m.initLedgerTable(conn); err != nil {
			return err
		}

		ledger, err := m.readLedger(conn)
		if err != nil {
			return err
		}
		planner.ledger = ledger

		plan := planner.MakePlan()
		for !plan.IsEmpty() {
			entry := plan.PopFirst()

			unit, ok := m.findMigration(entry.MigrationID)
			if !ok {
				return ledgerError(entry.MigrationID, ErrUnknownMigration)
			}

			if err := m.executeDowngrade(conn, unit); err != nil {
				return err
			}
			reverted++
		}
		return nil
	})
	if err != nil {
		return reverted, err
	}

	m.logger.Info("Downgrade completed", zap.Int("reverted", reverted))
	return reverted, nil
}

func (m *MigrationManager) executeDowngrade(conn *gorm.DB, unit Unit) error {
	logger := m.logger.With(zap.Stringer("id", unit.ID), zap.String("description", unit.Description))
	logger.Info("Downgrading migration")

	down, err := unit.DownOperations()
	if err != nil {
		return operationError(unit.ID, "", err)
	}

	statements := make([]string, 0, len(down))
	for i := len(down) - 1; i >= 0; i-- {
		rendered, err := m.dialect.Render(down[i])
		if err != nil {
			return operationError(unit.ID, "", err)
		}
		statements = append(statements, rendered...)
	}

	err = m.inTransaction(conn, unit.ID, func(tx *gorm.DB) error {
		for _, statement := range statements {
			logger.Debug("Executing statement", zap.String("statement", statement))
			if err := tx.Exec(statement).Error; err != nil {
				return operationError(unit.ID, statement, err)
			}
		}

		deleted, err := repository.DeleteEntry(tx, m.ledgerTable, unit.ID.String())
		if err != nil {
			return transactionError(unit.ID, fmt.Errorf("delete ledger entry: %w", err))
		}
		if deleted == 0 {
			return ledgerError(unit.ID, ErrNotApplied)
		}
		return nil
	})
	if err != nil {
		logger.Error("Downgrade failed", zap.Error(err))
		return err
	}

	logger.Info("Downgrade complete")
	return nil
}
