package schema_migrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/PrimeRin/schema-migrator/internal/models"
	"github.com/PrimeRin/schema-migrator/internal/repository"
	"gorm.io/gorm"
)

// LedgerEntry records that a unit has been applied. There is at most one
// entry per unit.
type LedgerEntry struct {
	MigrationID ID
	Description string
	Checksum    string
	AppliedAt   time.Time
}

func newLedgerEntry(unit Unit, appliedAt time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		MigrationID: unit.ID.String(),
		Description: unit.Description,
		Checksum:    unit.Checksum(),
		AppliedAt:   appliedAt,
	}
}

// loadLedger reads the ledger ordered ascending by ID. A missing ledger table
// reads as an empty ledger.
func (m *MigrationManager) loadLedger(db *gorm.DB) ([]LedgerEntry, error) {
	if !repository.HasLedgerTable(db, m.ledgerTable) {
		return nil, nil
	}
	return m.readLedger(db)
}

// readLedger is loadLedger for callers that ensured the table exists.
func (m *MigrationManager) readLedger(db *gorm.DB) ([]LedgerEntry, error) {
	rows, err := repository.GetLedgerSorted(db, m.ledgerTable, repository.OrderASC)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", m.ledgerTable, err)
	}

	ledger := make([]LedgerEntry, 0, len(rows))
	for _, row := range rows {
		id, err := ParseID(row.MigrationID)
		if err != nil {
			return nil, ledgerError(0, fmt.Errorf("ledger row %q: %w", row.MigrationID, err))
		}
		ledger = append(ledger, LedgerEntry{
			MigrationID: id,
			Description: row.Description,
			Checksum:    row.Checksum,
			AppliedAt:   row.AppliedAt,
		})
	}
	sort.SliceStable(ledger, func(i, j int) bool {
		return ledger[i].MigrationID < ledger[j].MigrationID
	})
	return ledger, nil
}

func (m *MigrationManager) initLedgerTable(db *gorm.DB) error {
	if err := repository.CreateLedgerTable(db, m.dialect, m.ledgerTable); err != nil {
		return fmt.Errorf("create ledger %s: %w", m.ledgerTable, err)
	}
	return nil
}
