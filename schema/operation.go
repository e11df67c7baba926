// Package schema describes schema changes as plain data and renders them into
// dialect specific DDL.
//
// Every change is one of the Operation variants declared in this file. An
// Operation carries only the data needed to express the change; it is turned
// into SQL by a Dialect, folded into an in-memory Snapshot, or inverted with
// Invert.
package schema

import (
	"strings"

	"github.com/jinzhu/inflection"
)

type Kind string

const (
	KindCreateTable      Kind = "create_table"
	KindDropTable        Kind = "drop_table"
	KindCreateJoinTable  Kind = "create_join_table"
	KindDropJoinTable    Kind = "drop_join_table"
	KindAddIndex         Kind = "add_index"
	KindRemoveIndex      Kind = "remove_index"
	KindAddColumn        Kind = "add_column"
	KindRemoveColumn     Kind = "remove_column"
	KindAddTimestamps    Kind = "add_timestamps"
	KindRemoveTimestamps Kind = "remove_timestamps"
	KindRawSQL           Kind = "raw_sql"
)

// Operation is a single schema change. The set of implementations is closed.
type Operation interface {
	Kind() Kind
	operation()
}

type ColumnType string

const (
	Integer    ColumnType = "integer"
	BigInteger ColumnType = "bigint"
	String     ColumnType = "string"
	Text       ColumnType = "text"
	Boolean    ColumnType = "boolean"
	Float      ColumnType = "float"
	Decimal    ColumnType = "decimal"
	DateTime   ColumnType = "datetime"
	Date       ColumnType = "date"
	Binary     ColumnType = "binary"
)

const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
	IDColumn        = "id"
)

// Column describes a table column. Columns are nullable unless NotNull is set.
// Default is a raw SQL expression rendered verbatim, e.g. "0" or "'draft'".
type Column struct {
	Name    string     `yaml:"name"`
	Type    ColumnType `yaml:"type"`
	NotNull bool       `yaml:"not_null,omitempty"`
	Default string     `yaml:"default,omitempty"`
	Limit   int        `yaml:"limit,omitempty"`
}

// Index is an ordered tuple of columns. An empty Name is derived from the
// table and the columns.
type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

// NameFor returns the explicit index name or index_<table>_on_<a>_and_<b>.
func (i Index) NameFor(table string) string {
	if i.Name != "" {
		return i.Name
	}
	return "index_" + table + "_on_" + strings.Join(i.Columns, "_and_")
}

// CreateTable creates a table. Unless WithoutID or PrimaryKey is set the table
// gets an auto-incrementing bigint "id" primary key. Timestamps appends the
// created_at/updated_at pair.
type CreateTable struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	Timestamps  bool
	WithoutID   bool
	PrimaryKey  string
	IfNotExists bool
}

// DropTable drops a table. It is reversible only when it carries the full
// definition of the table it drops.
type DropTable CreateTable

// CreateJoinTable creates a many-to-many table between TableA and TableB with
// two non-null integer reference columns, no primary key and no timestamps.
type CreateJoinTable struct {
	TableA    string
	TableB    string
	TableName string
	Indexes   []Index
}

type DropJoinTable CreateJoinTable

type AddIndex struct {
	Table string
	Index Index
}

type RemoveIndex AddIndex

type AddColumn struct {
	Table  string
	Column Column
}

// RemoveColumn drops Column.Name. It is reversible when Column.Type is set.
type RemoveColumn AddColumn

type AddTimestamps struct {
	Table string
}

type RemoveTimestamps AddTimestamps

// RawSQL runs hand written statements. Down is optional; without it the
// operation cannot be inverted.
type RawSQL struct {
	Up   string
	Down string
}

func (CreateTable) Kind() Kind      { return KindCreateTable }
func (DropTable) Kind() Kind        { return KindDropTable }
func (CreateJoinTable) Kind() Kind  { return KindCreateJoinTable }
func (DropJoinTable) Kind() Kind    { return KindDropJoinTable }
func (AddIndex) Kind() Kind         { return KindAddIndex }
func (RemoveIndex) Kind() Kind      { return KindRemoveIndex }
func (AddColumn) Kind() Kind        { return KindAddColumn }
func (RemoveColumn) Kind() Kind     { return KindRemoveColumn }
func (AddTimestamps) Kind() Kind    { return KindAddTimestamps }
func (RemoveTimestamps) Kind() Kind { return KindRemoveTimestamps }
func (RawSQL) Kind() Kind           { return KindRawSQL }

func (CreateTable) operation()      {}
func (DropTable) operation()        {}
func (CreateJoinTable) operation()  {}
func (DropJoinTable) operation()    {}
func (AddIndex) operation()         {}
func (RemoveIndex) operation()      {}
func (AddColumn) operation()        {}
func (RemoveColumn) operation()     {}
func (AddTimestamps) operation()    {}
func (RemoveTimestamps) operation() {}
func (RawSQL) operation()           {}

// Table returns the join table name: TableName when set, otherwise the
// pluralized names of TableA and TableB joined in argument order.
func (op CreateJoinTable) Table() string {
	if op.TableName != "" {
		return op.TableName
	}
	return inflection.Plural(op.TableA) + "_" + inflection.Plural(op.TableB)
}

// Columns returns the two reference columns, singular(A)_id then singular(B)_id.
func (op CreateJoinTable) Columns() []Column {
	return []Column{
		{Name: ReferenceColumn(op.TableA), Type: Integer, NotNull: true},
		{Name: ReferenceColumn(op.TableB), Type: Integer, NotNull: true},
	}
}

// ReferenceColumn returns the conventional foreign key column for table,
// e.g. "students" -> "student_id".
func ReferenceColumn(table string) string {
	return inflection.Singular(table) + "_id"
}

// TimestampColumns returns the created_at/updated_at pair. Both are non-null
// and default to the current time.
func TimestampColumns() []Column {
	return []Column{
		{Name: CreatedAtColumn, Type: DateTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		{Name: UpdatedAtColumn, Type: DateTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
	}
}

// primaryKey returns the primary key column name, or "" for none.
func (op CreateTable) primaryKey() string {
	if op.PrimaryKey != "" {
		return op.PrimaryKey
	}
	if op.WithoutID {
		return ""
	}
	return IDColumn
}

// definedColumns returns every column of the table in creation order,
// including the implicit id and timestamps.
func (op CreateTable) definedColumns() []Column {
	columns := make([]Column, 0, len(op.Columns)+3)
	if op.PrimaryKey == "" && !op.WithoutID {
		columns = append(columns, Column{Name: IDColumn, Type: BigInteger, NotNull: true})
	}
	columns = append(columns, op.Columns...)
	if op.Timestamps {
		columns = append(columns, TimestampColumns()...)
	}
	return columns
}
