package schema_migrator

import (
	"container/list"
	"sort"
)

// Pending returns the units whose ID has no ledger entry, ascending by ID.
func Pending(units []Unit, ledger []LedgerEntry) []Unit {
	applied := make(map[ID]struct{}, len(ledger))
	for _, entry := range ledger {
		applied[entry.MigrationID] = struct{}{}
	}

	pending := make([]Unit, 0, len(units))
	for _, unit := range units {
		if _, ok := applied[unit.ID]; !ok {
			pending = append(pending, unit)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].ID < pending[j].ID
	})
	return pending
}

type migrationsPlan[T any] struct {
	migrationsToRun *list.List
}

func newMigrationsPlan[T any]() migrationsPlan[T] {
	return migrationsPlan[T]{
		migrationsToRun: list.New(),
	}
}

func (p migrationsPlan[T]) IsEmpty() bool {
	return p.migrationsToRun.Len() == 0
}

func (p migrationsPlan[T]) Len() int {
	return p.migrationsToRun.Len()
}

func (p migrationsPlan[T]) PopFirst() T {
	first := p.migrationsToRun.Front()
	p.migrationsToRun.Remove(first)
	return first.Value.(T)
}

type migratePlanner struct {
	units  []Unit
	ledger []LedgerEntry
	target ID
}

// MakePlan queues pending units up to and including target.
func (p *migratePlanner) MakePlan() migrationsPlan[Unit] {
	plan := newMigrationsPlan[Unit]()
	for _, unit := range Pending(p.units, p.ledger) {
		if unit.ID > p.target {
			break
		}
		plan.migrationsToRun.PushBack(unit)
	}
	return plan
}

// downgradePlanner queues applied entries newest first: at most steps of them
// when steps > 0, otherwise every entry above target.
type downgradePlanner struct {
	ledger []LedgerEntry
	steps  int
	target ID
}

func (p *downgradePlanner) MakePlan() migrationsPlan[LedgerEntry] {
	plan := newMigrationsPlan[LedgerEntry]()

	applied := make([]LedgerEntry, len(p.ledger))
	copy(applied, p.ledger)
	sort.SliceStable(applied, func(i, j int) bool {
		return applied[i].MigrationID > applied[j].MigrationID
	})

	for _, entry := range applied {
		if p.steps > 0 && plan.Len() == p.steps {
			break
		}
		if p.steps <= 0 && entry.MigrationID <= p.target {
			break
		}
		plan.migrationsToRun.PushBack(entry)
	}
	return plan
}
