package schema_migrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/PrimeRin/schema-migrator/schema"
)

type State string

const (
	StateApplied State = "applied"
	StatePending State = "pending"
	// StateMissing marks a ledger entry whose unit is no longer registered.
	StateMissing State = "missing"
)

type UnitStatus struct {
	ID          ID
	Description string
	State       State
	AppliedAt   time.Time
	// Modified is set when the registered operations no longer match the
	// checksum recorded when the unit was applied.
	Modified bool
}

// PlannedUnit is a pending unit together with the statements Run would
// execute for it.
type PlannedUnit struct {
	Unit       Unit
	Statements []string
}

// Pending lists the registered units without a ledger entry.
func (m *MigrationManager) Pending(ctx context.Context) ([]Unit, error) {
	ledger, err := m.loadLedger(m.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return Pending(m.registeredMigrations, ledger), nil
}

// Status merges registered units and ledger entries, ascending by ID.
func (m *MigrationManager) Status(ctx context.Context) ([]UnitStatus, error) {
	ledger, err := m.loadLedger(m.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	applied := make(map[ID]LedgerEntry, len(ledger))
	for _, entry := range ledger {
		applied[entry.MigrationID] = entry
	}

	statuses := make([]UnitStatus, 0, len(m.registeredMigrations)+len(ledger))
	for _, unit := range m.registeredMigrations {
		status := UnitStatus{ID: unit.ID, Description: unit.Description, State: StatePending}
		if entry, ok := applied[unit.ID]; ok {
			status.State = StateApplied
			status.AppliedAt = entry.AppliedAt
			status.Modified = entry.Checksum != "" && entry.Checksum != unit.Checksum()
		}
		statuses = append(statuses, status)
	}
	for _, entry := range ledger {
		if _, ok := m.registeredMigrationsSet[entry.MigrationID]; !ok {
			statuses = append(statuses, UnitStatus{
				ID:          entry.MigrationID,
				Description: entry.Description,
				State:       StateMissing,
				AppliedAt:   entry.AppliedAt,
			})
		}
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses, nil
}

// Check verifies the ledger against the registered units. Orphan entries and
// checksum drift are reported as LedgerInconsistency errors; pending units as
// ErrHasPendingMigrations. All problems found are joined.
func (m *MigrationManager) Check(ctx context.Context) error {
	ledger, err := m.loadLedger(m.db.WithContext(ctx))
	if err != nil {
		return err
	}

	var problems []error
	for _, entry := range ledger {
		unit, ok := m.findMigration(entry.MigrationID)
		if !ok {
			problems = append(problems, ledgerError(entry.MigrationID, ErrUnknownMigration))
			continue
		}
		if entry.Checksum != "" && entry.Checksum != unit.Checksum() {
			problems = append(problems, ledgerError(entry.MigrationID, ErrChecksumMismatch))
		}
	}

	if pending := Pending(m.registeredMigrations, ledger); len(pending) > 0 {
		problems = append(problems, fmt.Errorf("%d pending: %w", len(pending), ErrHasPendingMigrations))
	}
	return errors.Join(problems...)
}

// Version returns the newest applied ID, zero on an empty ledger.
func (m *MigrationManager) Version(ctx context.Context) (ID, error) {
	ledger, err := m.loadLedger(m.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	return newestApplied(ledger), nil
}

// Snapshot folds the operations of every applied unit, in ID order, into an
// in-memory schema. The snapshot version is the newest applied ID.
func (m *MigrationManager) Snapshot(ctx context.Context) (*schema.Snapshot, error) {
	ledger, err := m.loadLedger(m.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	snapshot := schema.NewSnapshot()
	for _, entry := range ledger {
		unit, ok := m.findMigration(entry.MigrationID)
		if !ok {
			return nil, ledgerError(entry.MigrationID, ErrUnknownMigration)
		}
		if err := snapshot.ApplyAll(unit.Operations); err != nil {
			return nil, operationError(unit.ID, "", err)
		}
		snapshot.Version = uint64(unit.ID)
	}
	return snapshot, nil
}

// Plan renders the statements of every pending unit without executing them.
func (m *MigrationManager) Plan(ctx context.Context) ([]PlannedUnit, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}

	planned := make([]PlannedUnit, 0, len(pending))
	for _, unit := range pending {
		statements, err := m.dialect.RenderAll(unit.Operations)
		if err != nil {
			return nil, operationError(unit.ID, "", err)
		}
		planned = append(planned, PlannedUnit{Unit: unit, Statements: statements})
	}
	return planned, nil
}
