package schema_migrator

import (
	"fmt"

	"github.com/PrimeRin/schema-migrator/schema"
)

// Unit is one migration: an ordered list of schema operations applied as a
// single step. Units are immutable once committed; edits are detected through
// their checksum.
type Unit struct {
	ID          ID
	Description string
	Operations  []schema.Operation

	// Down undoes Operations; Down[i] reverses Operations[i] and revert walks
	// the list backwards. nil means the unit cannot be reverted unless it is
	// reversible.
	Down []schema.Operation

	reversible bool
}

type UnitOption func(*Unit)

// WithDown sets explicit down operations.
func WithDown(ops ...schema.Operation) UnitOption {
	return func(u *Unit) {
		u.Down = ops
	}
}

// Reversible derives the down operations from Operations when none were set
// explicitly.
func Reversible() UnitOption {
	return func(u *Unit) {
		u.reversible = true
	}
}

func NewUnit(id ID, description string, ops []schema.Operation, opts ...UnitOption) Unit {
	unit := Unit{
		ID:          id,
		Description: description,
		Operations:  ops,
	}
	for _, opt := range opts {
		opt(&unit)
	}
	return unit
}

// DownOperations returns the operations undoing the unit, in the same order as
// Operations.
func (u Unit) DownOperations() ([]schema.Operation, error) {
	if u.Down != nil {
		return u.Down, nil
	}
	if !u.reversible {
		return nil, fmt.Errorf("migration %s has no down operations: %w", u.ID, schema.ErrIrreversible)
	}
	return schema.InvertAll(u.Operations)
}

// Checksum digests Operations.
func (u Unit) Checksum() string {
	return schema.Checksum(u.Operations)
}
