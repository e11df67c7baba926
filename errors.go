package schema_migrator

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyApplied       = errors.New("migration already applied")
	ErrNotApplied           = errors.New("migration not applied")
	ErrUnknownMigration     = errors.New("ledger entry without registered migration")
	ErrChecksumMismatch     = errors.New("migration changed after it was applied")
	ErrHasPendingMigrations = errors.New("found pending migrations, consider migrating")
)

type ErrorKind string

const (
	// OperationError: a schema operation failed or could not be rendered.
	OperationError ErrorKind = "operation"
	// TransactionError: begin, commit or rollback failed, or the ledger row
	// could not be written.
	TransactionError ErrorKind = "transaction"
	// LedgerInconsistency: the ledger disagrees with the registered units.
	LedgerInconsistency ErrorKind = "ledger"
)

// SchemaError reports which unit failed and why.
type SchemaError struct {
	UnitID ID
	Kind   ErrorKind
	// Statement is the SQL statement being executed, if any.
	Statement string
	Err       error
}

func (e *SchemaError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("migration %s: %s error: %v (statement: %s)", e.UnitID, e.Kind, e.Err, e.Statement)
	}
	return fmt.Sprintf("migration %s: %s error: %v", e.UnitID, e.Kind, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a SchemaError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr) && schemaErr.Kind == kind
}

func operationError(id ID, statement string, err error) *SchemaError {
	return &SchemaError{UnitID: id, Kind: OperationError, Statement: statement, Err: err}
}

func transactionError(id ID, err error) *SchemaError {
	return &SchemaError{UnitID: id, Kind: TransactionError, Err: err}
}

func ledgerError(id ID, err error) *SchemaError {
	return &SchemaError{UnitID: id, Kind: LedgerInconsistency, Err: err}
}
