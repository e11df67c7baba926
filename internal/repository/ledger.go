package repository

import (
	"github.com/PrimeRin/schema-migrator/internal/models"
	"github.com/PrimeRin/schema-migrator/schema"
	"gorm.io/gorm"
)

type Order string

const (
	OrderASC  Order = "ASC"
	OrderDESC Order = "DESC"
)

// LedgerDefinition describes the ledger table.
func LedgerDefinition(table string) schema.CreateTable {
	return schema.CreateTable{
		Name:        table,
		PrimaryKey:  "migration_id",
		IfNotExists: true,
		Columns: []schema.Column{
			{Name: "migration_id", Type: schema.String, NotNull: true, Limit: 255},
			{Name: "description", Type: schema.Text},
			{Name: "checksum", Type: schema.String, Limit: 64},
			{Name: "applied_at", Type: schema.DateTime, NotNull: true},
		},
	}
}

func HasLedgerTable(db *gorm.DB, table string) bool {
	return db.Migrator().HasTable(table)
}

func CreateLedgerTable(db *gorm.DB, dialect schema.Dialect, table string) error {
	statements, err := dialect.Render(LedgerDefinition(table))
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetLedgerSorted orders entries by their textual identifier; callers needing
// numeric order sort again.
func GetLedgerSorted(db *gorm.DB, table string, order Order) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := db.Table(table).Order("migration_id " + string(order)).Find(&entries).Error
	return entries, err
}

func InsertEntry(db *gorm.DB, table string, entry models.LedgerEntry) error {
	return db.Table(table).Create(&entry).Error
}

// DeleteEntry removes the entry and reports how many rows were deleted.
func DeleteEntry(db *gorm.DB, table string, migrationID string) (int64, error) {
	result := db.Table(table).Where("migration_id = ?", migrationID).Delete(&models.LedgerEntry{})
	return result.RowsAffected, result.Error
}
