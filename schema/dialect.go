package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedDialect    = errors.New("unsupported dialect")
	ErrUnsupportedColumnType = errors.New("unsupported column type")
	ErrInvalidOperation      = errors.New("invalid operation")
)

// Dialect renders operations into DDL for one database engine.
type Dialect struct {
	name               string
	openQuote          string
	closeQuote         string
	idDefinition       string
	types              map[ColumnType]string
	defaultStringLimit int
	transactionalDDL   bool
}

var (
	Postgres = Dialect{
		name:         "postgres",
		openQuote:    `"`,
		closeQuote:   `"`,
		idDefinition: "bigserial PRIMARY KEY",
		types: map[ColumnType]string{
			Integer:    "integer",
			BigInteger: "bigint",
			String:     "varchar",
			Text:       "text",
			Boolean:    "boolean",
			Float:      "float",
			Decimal:    "decimal",
			DateTime:   "timestamp(6)",
			Date:       "date",
			Binary:     "bytea",
		},
		transactionalDDL: true,
	}

	// MySQL commits implicitly around every DDL statement, so a failed unit may
	// leave earlier statements of the same unit behind.
	MySQL = Dialect{
		name:         "mysql",
		openQuote:    "`",
		closeQuote:   "`",
		idDefinition: "bigint NOT NULL AUTO_INCREMENT PRIMARY KEY",
		types: map[ColumnType]string{
			Integer:    "int",
			BigInteger: "bigint",
			String:     "varchar",
			Text:       "text",
			Boolean:    "tinyint(1)",
			Float:      "float",
			Decimal:    "decimal",
			DateTime:   "datetime(6)",
			Date:       "date",
			Binary:     "blob",
		},
		defaultStringLimit: 255,
	}

	SQLite = Dialect{
		name:         "sqlite",
		openQuote:    `"`,
		closeQuote:   `"`,
		idDefinition: "integer PRIMARY KEY AUTOINCREMENT NOT NULL",
		types: map[ColumnType]string{
			Integer:    "integer",
			BigInteger: "bigint",
			String:     "varchar",
			Text:       "text",
			Boolean:    "boolean",
			Float:      "float",
			Decimal:    "decimal",
			// go-sqlite3 only scans columns declared exactly datetime into time.Time.
			DateTime:   "datetime",
			Date:       "date",
			Binary:     "blob",
		},
		transactionalDDL: true,
	}
)

// LookupDialect returns the dialect for a gorm dialector name.
func LookupDialect(name string) (Dialect, error) {
	switch name {
	case "postgres", "pgx", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

func (d Dialect) Name() string { return d.name }

// TransactionalDDL reports whether DDL statements roll back with their
// enclosing transaction.
func (d Dialect) TransactionalDDL() bool { return d.transactionalDDL }

// Quote quotes an identifier, doubling any embedded quote character.
func (d Dialect) Quote(identifier string) string {
	return d.openQuote + strings.ReplaceAll(identifier, d.closeQuote, d.closeQuote+d.closeQuote) + d.closeQuote
}

// RenderAll renders ops in order into a flat statement list.
func (d Dialect) RenderAll(ops []Operation) ([]string, error) {
	var statements []string
	for i, op := range ops {
		rendered, err := d.Render(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
		statements = append(statements, rendered...)
	}
	return statements, nil
}

// Render returns the statements executing op, in execution order.
func (d Dialect) Render(op Operation) ([]string, error) {
	switch op := op.(type) {
	case CreateTable:
		return d.createTable(op)
	case DropTable:
		return d.dropTable(op)
	case CreateJoinTable:
		return d.createJoinTable(op)
	case DropJoinTable:
		if op.TableA == "" && op.TableName == "" {
			return nil, fmt.Errorf("%w: drop_join_table without tables", ErrInvalidOperation)
		}
		return []string{"DROP TABLE " + d.Quote(CreateJoinTable(op).Table())}, nil
	case AddIndex:
		if op.Table == "" {
			return nil, fmt.Errorf("%w: add_index without table", ErrInvalidOperation)
		}
		stmt, err := d.createIndex(op.Table, op.Index)
		if err != nil {
			return nil, err
		}
		return []string{stmt}, nil
	case RemoveIndex:
		return d.removeIndex(op)
	case AddColumn:
		if op.Table == "" {
			return nil, fmt.Errorf("%w: add_column without table", ErrInvalidOperation)
		}
		def, err := d.columnDefinition(op.Column)
		if err != nil {
			return nil, err
		}
		return []string{"ALTER TABLE " + d.Quote(op.Table) + " ADD COLUMN " + def}, nil
	case RemoveColumn:
		if op.Table == "" || op.Column.Name == "" {
			return nil, fmt.Errorf("%w: remove_column needs a table and a column", ErrInvalidOperation)
		}
		return []string{"ALTER TABLE " + d.Quote(op.Table) + " DROP COLUMN " + d.Quote(op.Column.Name)}, nil
	case AddTimestamps:
		return d.addTimestamps(op.Table)
	case RemoveTimestamps:
		return d.removeTimestamps(op.Table)
	case RawSQL:
		if strings.TrimSpace(op.Up) == "" {
			return nil, nil
		}
		return []string{op.Up}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidOperation, op)
	}
}

func (d Dialect) createTable(op CreateTable) ([]string, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("%w: create_table without name", ErrInvalidOperation)
	}

	definitions := make([]string, 0, len(op.Columns)+4)
	if op.PrimaryKey == "" && !op.WithoutID {
		definitions = append(definitions, d.Quote(IDColumn)+" "+d.idDefinition)
	}
	for _, column := range op.Columns {
		def, err := d.columnDefinition(column)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, def)
	}
	if op.Timestamps {
		definitions = append(definitions, d.timestampDefinitions()...)
	}
	if op.PrimaryKey != "" {
		definitions = append(definitions, "PRIMARY KEY ("+d.Quote(op.PrimaryKey)+")")
	}

	create := "CREATE TABLE "
	if op.IfNotExists {
		create += "IF NOT EXISTS "
	}
	statements := []string{create + d.Quote(op.Name) + " (" + strings.Join(definitions, ", ") + ")"}

	for _, index := range op.Indexes {
		stmt, err := d.createIndex(op.Name, index)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	if op.Timestamps {
		statements = append(statements, d.refreshTriggers(op.Name)...)
	}
	return statements, nil
}

func (d Dialect) dropTable(op DropTable) ([]string, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("%w: drop_table without name", ErrInvalidOperation)
	}
	statements := []string{"DROP TABLE " + d.Quote(op.Name)}
	if op.Timestamps && d.name == Postgres.name {
		statements = append(statements, "DROP FUNCTION IF EXISTS "+d.Quote(refreshTrigger(op.Name))+"()")
	}
	return statements, nil
}

func (d Dialect) createJoinTable(op CreateJoinTable) ([]string, error) {
	if op.TableA == "" || op.TableB == "" {
		return nil, fmt.Errorf("%w: create_join_table needs two tables", ErrInvalidOperation)
	}
	table := op.Table()

	columns := op.Columns()
	definitions := make([]string, 0, len(columns))
	for _, column := range columns {
		def, err := d.columnDefinition(column)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, def)
	}

	statements := []string{"CREATE TABLE " + d.Quote(table) + " (" + strings.Join(definitions, ", ") + ")"}
	for _, index := range op.Indexes {
		stmt, err := d.createIndex(table, index)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func (d Dialect) createIndex(table string, index Index) (string, error) {
	if len(index.Columns) == 0 {
		return "", fmt.Errorf("%w: index on %s without columns", ErrInvalidOperation, table)
	}
	quoted := make([]string, len(index.Columns))
	for i, column := range index.Columns {
		quoted[i] = d.Quote(column)
	}

	create := "CREATE INDEX "
	if index.Unique {
		create = "CREATE UNIQUE INDEX "
	}
	return create + d.Quote(index.NameFor(table)) + " ON " + d.Quote(table) + " (" + strings.Join(quoted, ", ") + ")", nil
}

func (d Dialect) removeIndex(op RemoveIndex) ([]string, error) {
	if op.Table == "" || (op.Index.Name == "" && len(op.Index.Columns) == 0) {
		return nil, fmt.Errorf("%w: remove_index needs a table and a name or columns", ErrInvalidOperation)
	}
	name := d.Quote(op.Index.NameFor(op.Table))
	if d.name == MySQL.name {
		return []string{"DROP INDEX " + name + " ON " + d.Quote(op.Table)}, nil
	}
	return []string{"DROP INDEX " + name}, nil
}

func (d Dialect) columnDefinition(column Column) (string, error) {
	if column.Name == "" {
		return "", fmt.Errorf("%w: column without name", ErrInvalidOperation)
	}
	typ, err := d.columnType(column)
	if err != nil {
		return "", err
	}

	def := d.Quote(column.Name) + " " + typ
	if column.NotNull {
		def += " NOT NULL"
	}
	if column.Default != "" {
		def += " DEFAULT " + column.Default
	}
	return def, nil
}

func (d Dialect) columnType(column Column) (string, error) {
	typ, ok := d.types[column.Type]
	if !ok {
		return "", fmt.Errorf("%w: %q for column %s", ErrUnsupportedColumnType, column.Type, column.Name)
	}
	if column.Type != String {
		return typ, nil
	}

	limit := column.Limit
	if limit == 0 {
		limit = d.defaultStringLimit
	}
	if limit > 0 {
		return typ + "(" + strconv.Itoa(limit) + ")", nil
	}
	return typ, nil
}

// timestampDefinitions returns created_at and updated_at as they appear inside
// CREATE TABLE.
func (d Dialect) timestampDefinitions() []string {
	typ := d.types[DateTime]
	switch d.name {
	case MySQL.name:
		return []string{
			d.Quote(CreatedAtColumn) + " " + typ + " NOT NULL DEFAULT CURRENT_TIMESTAMP(6)",
			d.Quote(UpdatedAtColumn) + " " + typ + " NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)",
		}
	default:
		return []string{
			d.Quote(CreatedAtColumn) + " " + typ + " NOT NULL DEFAULT CURRENT_TIMESTAMP",
			d.Quote(UpdatedAtColumn) + " " + typ + " NOT NULL DEFAULT CURRENT_TIMESTAMP",
		}
	}
}

// refreshTriggers keeps updated_at current on every row update. MySQL does it
// with ON UPDATE in the column definition.
func (d Dialect) refreshTriggers(table string) []string {
	name := d.Quote(refreshTrigger(table))
	switch d.name {
	case Postgres.name:
		return []string{
			"CREATE OR REPLACE FUNCTION " + name + "() RETURNS trigger AS $$ BEGIN NEW." +
				d.Quote(UpdatedAtColumn) + " = CURRENT_TIMESTAMP; RETURN NEW; END; $$ LANGUAGE plpgsql",
			"CREATE TRIGGER " + name + " BEFORE UPDATE ON " + d.Quote(table) +
				" FOR EACH ROW EXECUTE FUNCTION " + name + "()",
		}
	case SQLite.name:
		updatedAt := d.Quote(UpdatedAtColumn)
		return []string{
			"CREATE TRIGGER " + name + " AFTER UPDATE ON " + d.Quote(table) +
				" FOR EACH ROW WHEN NEW." + updatedAt + " = OLD." + updatedAt +
				" BEGIN UPDATE " + d.Quote(table) + " SET " + updatedAt +
				" = CURRENT_TIMESTAMP WHERE rowid = NEW.rowid; END",
		}
	default:
		return nil
	}
}

func (d Dialect) addTimestamps(table string) ([]string, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: add_timestamps without table", ErrInvalidOperation)
	}
	alter := "ALTER TABLE " + d.Quote(table) + " ADD COLUMN "

	if d.name != SQLite.name {
		definitions := d.timestampDefinitions()
		statements := []string{alter + definitions[0] + ", ADD COLUMN " + definitions[1]}
		return append(statements, d.refreshTriggers(table)...), nil
	}

	// SQLite refuses non-constant defaults in ADD COLUMN; existing and new rows
	// start at the epoch and an insert trigger stamps new rows.
	typ := d.types[DateTime]
	const epoch = "'1970-01-01 00:00:00'"
	createdAt, updatedAt := d.Quote(CreatedAtColumn), d.Quote(UpdatedAtColumn)
	statements := []string{
		alter + createdAt + " " + typ + " NOT NULL DEFAULT " + epoch,
		alter + updatedAt + " " + typ + " NOT NULL DEFAULT " + epoch,
		"CREATE TRIGGER " + d.Quote(stampTrigger(table)) + " AFTER INSERT ON " + d.Quote(table) +
			" FOR EACH ROW WHEN NEW." + createdAt + " = " + epoch +
			" BEGIN UPDATE " + d.Quote(table) + " SET " + createdAt + " = CURRENT_TIMESTAMP, " +
			updatedAt + " = CURRENT_TIMESTAMP WHERE rowid = NEW.rowid; END",
	}
	return append(statements, d.refreshTriggers(table)...), nil
}

func (d Dialect) removeTimestamps(table string) ([]string, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: remove_timestamps without table", ErrInvalidOperation)
	}
	quotedTable := d.Quote(table)
	trigger := d.Quote(refreshTrigger(table))
	createdAt, updatedAt := d.Quote(CreatedAtColumn), d.Quote(UpdatedAtColumn)

	switch d.name {
	case Postgres.name:
		return []string{
			"DROP TRIGGER IF EXISTS " + trigger + " ON " + quotedTable,
			"DROP FUNCTION IF EXISTS " + trigger + "()",
			"ALTER TABLE " + quotedTable + " DROP COLUMN " + createdAt + ", DROP COLUMN " + updatedAt,
		}, nil
	case SQLite.name:
		return []string{
			"DROP TRIGGER IF EXISTS " + trigger,
			"DROP TRIGGER IF EXISTS " + d.Quote(stampTrigger(table)),
			"ALTER TABLE " + quotedTable + " DROP COLUMN " + createdAt,
			"ALTER TABLE " + quotedTable + " DROP COLUMN " + updatedAt,
		}, nil
	default:
		return []string{
			"ALTER TABLE " + quotedTable + " DROP COLUMN " + createdAt + ", DROP COLUMN " + updatedAt,
		}, nil
	}
}

func refreshTrigger(table string) string { return table + "_refresh_updated_at" }

func stampTrigger(table string) string { return table + "_stamp_timestamps" }
