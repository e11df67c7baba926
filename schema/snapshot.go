package schema

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
)

var ErrConflict = errors.New("schema conflict")

// Table is the modelled state of one table.
type Table struct {
	Name       string   `yaml:"name"`
	PrimaryKey string   `yaml:"primary_key,omitempty"`
	Columns    []Column `yaml:"columns"`
	Indexes    []Index  `yaml:"indexes,omitempty"`
}

// Snapshot is the schema produced by folding operations in order. Version is
// the identifier of the last unit folded in; RawSQL operations cannot be
// modelled and are only recorded.
type Snapshot struct {
	Version uint64            `yaml:"version"`
	Tables  map[string]*Table `yaml:"tables"`
	Raw     []string          `yaml:"raw,omitempty"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Tables: make(map[string]*Table)}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Version: s.Version,
		Tables:  make(map[string]*Table, len(s.Tables)),
		Raw:     slices.Clone(s.Raw),
	}
	for name, table := range s.Tables {
		t := &Table{
			Name:       table.Name,
			PrimaryKey: table.PrimaryKey,
			Columns:    slices.Clone(table.Columns),
			Indexes:    make([]Index, len(table.Indexes)),
		}
		for i, index := range table.Indexes {
			index.Columns = slices.Clone(index.Columns)
			t.Indexes[i] = index
		}
		clone.Tables[name] = t
	}
	return clone
}

// Equal reports whether both snapshots describe the same tables, ignoring
// Version.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if len(s.Tables) != len(other.Tables) {
		return false
	}
	for name, table := range s.Tables {
		o, ok := other.Tables[name]
		if !ok || !reflect.DeepEqual(normalize(table), normalize(o)) {
			return false
		}
	}
	return slices.Equal(s.Raw, other.Raw)
}

// TableNames returns the table names in lexical order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyAll folds ops in order and stops at the first conflict.
func (s *Snapshot) ApplyAll(ops []Operation) error {
	for i, op := range ops {
		if err := s.Apply(op); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
	}
	return nil
}

// Apply folds op into s. It fails with ErrConflict when op cannot apply to the
// modelled schema, e.g. creating a table twice, and leaves s unchanged.
func (s *Snapshot) Apply(op Operation) error {
	switch op := op.(type) {
	case CreateTable:
		if _, ok := s.Tables[op.Name]; ok {
			if op.IfNotExists {
				return nil
			}
			return fmt.Errorf("%w: table %s already exists", ErrConflict, op.Name)
		}
		table := &Table{Name: op.Name, PrimaryKey: op.primaryKey(), Columns: op.definedColumns()}
		for _, index := range op.Indexes {
			if err := table.addIndex(index); err != nil {
				return err
			}
		}
		s.Tables[op.Name] = table
	case DropTable:
		if _, ok := s.Tables[op.Name]; !ok {
			return fmt.Errorf("%w: table %s does not exist", ErrConflict, op.Name)
		}
		delete(s.Tables, op.Name)
	case CreateJoinTable:
		name := op.Table()
		if _, ok := s.Tables[name]; ok {
			return fmt.Errorf("%w: table %s already exists", ErrConflict, name)
		}
		table := &Table{Name: name, Columns: op.Columns()}
		for _, index := range op.Indexes {
			if err := table.addIndex(index); err != nil {
				return err
			}
		}
		s.Tables[name] = table
	case DropJoinTable:
		name := CreateJoinTable(op).Table()
		if _, ok := s.Tables[name]; !ok {
			return fmt.Errorf("%w: table %s does not exist", ErrConflict, name)
		}
		delete(s.Tables, name)
	case AddIndex:
		table, err := s.table(op.Table)
		if err != nil {
			return err
		}
		updated := table.clone()
		if err := updated.addIndex(op.Index); err != nil {
			return err
		}
		s.Tables[op.Table] = updated
	case RemoveIndex:
		table, err := s.table(op.Table)
		if err != nil {
			return err
		}
		name := op.Index.NameFor(op.Table)
		i := slices.IndexFunc(table.Indexes, func(index Index) bool { return index.Name == name })
		if i < 0 {
			return fmt.Errorf("%w: index %s does not exist on %s", ErrConflict, name, op.Table)
		}
		updated := table.clone()
		updated.Indexes = slices.Delete(updated.Indexes, i, i+1)
		s.Tables[op.Table] = updated
	case AddColumn:
		return s.addColumns(op.Table, op.Column)
	case RemoveColumn:
		return s.removeColumns(op.Table, op.Column.Name)
	case AddTimestamps:
		return s.addColumns(op.Table, TimestampColumns()...)
	case RemoveTimestamps:
		return s.removeColumns(op.Table, CreatedAtColumn, UpdatedAtColumn)
	case RawSQL:
		if op.Up != "" {
			s.Raw = append(s.Raw, op.Up)
		}
	default:
		return fmt.Errorf("%w: %T", ErrInvalidOperation, op)
	}
	return nil
}

func (s *Snapshot) table(name string) (*Table, error) {
	table, ok := s.Tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %s does not exist", ErrConflict, name)
	}
	return table, nil
}

func (s *Snapshot) addColumns(tableName string, columns ...Column) error {
	table, err := s.table(tableName)
	if err != nil {
		return err
	}
	updated := table.clone()
	for _, column := range columns {
		if updated.hasColumn(column.Name) {
			return fmt.Errorf("%w: column %s.%s already exists", ErrConflict, tableName, column.Name)
		}
		updated.Columns = append(updated.Columns, column)
	}
	s.Tables[tableName] = updated
	return nil
}

// removeColumns drops columns and every index that covers one of them.
func (s *Snapshot) removeColumns(tableName string, names ...string) error {
	table, err := s.table(tableName)
	if err != nil {
		return err
	}
	updated := table.clone()
	for _, name := range names {
		if !updated.hasColumn(name) {
			return fmt.Errorf("%w: column %s.%s does not exist", ErrConflict, tableName, name)
		}
		updated.Columns = slices.DeleteFunc(updated.Columns, func(c Column) bool { return c.Name == name })
		updated.Indexes = slices.DeleteFunc(updated.Indexes, func(index Index) bool {
			return slices.Contains(index.Columns, name)
		})
	}
	s.Tables[tableName] = updated
	return nil
}

func (t *Table) clone() *Table {
	return &Table{
		Name:       t.Name,
		PrimaryKey: t.PrimaryKey,
		Columns:    slices.Clone(t.Columns),
		Indexes:    slices.Clone(t.Indexes),
	}
}

func (t *Table) hasColumn(name string) bool {
	return slices.ContainsFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

func (t *Table) addIndex(index Index) error {
	if len(index.Columns) == 0 {
		return fmt.Errorf("%w: index on %s without columns", ErrInvalidOperation, t.Name)
	}
	for _, column := range index.Columns {
		if !t.hasColumn(column) {
			return fmt.Errorf("%w: index column %s.%s does not exist", ErrConflict, t.Name, column)
		}
	}
	index.Name = index.NameFor(t.Name)
	if slices.ContainsFunc(t.Indexes, func(i Index) bool { return i.Name == index.Name }) {
		return fmt.Errorf("%w: index %s already exists", ErrConflict, index.Name)
	}
	index.Columns = slices.Clone(index.Columns)
	t.Indexes = append(t.Indexes, index)
	return nil
}

// normalize orders indexes by name; column order is significant and kept.
func normalize(t *Table) Table {
	n := Table{Name: t.Name, PrimaryKey: t.PrimaryKey, Columns: t.Columns, Indexes: slices.Clone(t.Indexes)}
	sort.Slice(n.Indexes, func(i, j int) bool { return n.Indexes[i].Name < n.Indexes[j].Name })
	if len(n.Columns) == 0 {
		n.Columns = nil
	}
	if len(n.Indexes) == 0 {
		n.Indexes = nil
	}
	return n
}
