package repository

import (
	"errors"

	"github.com/PrimeRin/schema-migrator/internal/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("ledger entry not found")

// FindEntry returns the ledger entry of one migration.
func FindEntry(db *gorm.DB, table string, migrationID string) (models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := db.Table(table).Where("migration_id = ?", migrationID).Limit(1).Find(&entries).Error
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if len(entries) == 0 {
		return models.LedgerEntry{}, ErrNotFound
	}
	return entries[0], nil
}
