package models

import "time"

// DefaultLedgerTable is the table holding one row per applied migration.
const DefaultLedgerTable = "schema_migrations"

type LedgerEntry struct {
	MigrationID string `gorm:"column:migration_id;primaryKey"`
	Description string
	Checksum    string
	AppliedAt   time.Time
}

func (LedgerEntry) TableName() string {
	return DefaultLedgerTable
}
