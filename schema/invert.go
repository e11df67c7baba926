package schema

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
)

var ErrIrreversible = errors.New("operation is irreversible")

// Invert returns the operation that undoes op.
func Invert(op Operation) (Operation, error) {
	switch op := op.(type) {
	case CreateTable:
		return DropTable(op), nil
	case DropTable:
		if len(op.Columns) == 0 && !op.Timestamps {
			return nil, fmt.Errorf("drop_table %s without definition: %w", op.Name, ErrIrreversible)
		}
		return CreateTable(op), nil
	case CreateJoinTable:
		return DropJoinTable(op), nil
	case DropJoinTable:
		return CreateJoinTable(op), nil
	case AddIndex:
		return RemoveIndex(op), nil
	case RemoveIndex:
		if len(op.Index.Columns) == 0 {
			return nil, fmt.Errorf("remove_index %s without columns: %w", op.Index.Name, ErrIrreversible)
		}
		return AddIndex(op), nil
	case AddColumn:
		return RemoveColumn(op), nil
	case RemoveColumn:
		if op.Column.Type == "" {
			return nil, fmt.Errorf("remove_column %s.%s without type: %w", op.Table, op.Column.Name, ErrIrreversible)
		}
		return AddColumn(op), nil
	case AddTimestamps:
		return RemoveTimestamps(op), nil
	case RemoveTimestamps:
		return AddTimestamps(op), nil
	case RawSQL:
		if op.Down == "" {
			return nil, fmt.Errorf("raw sql without down statement: %w", ErrIrreversible)
		}
		return RawSQL{Up: op.Down, Down: op.Up}, nil
	default:
		return nil, fmt.Errorf("unknown operation %T: %w", op, ErrIrreversible)
	}
}

// InvertAll inverts ops. The result keeps the input order, result[i] undoes
// ops[i]; callers executing a reversal must walk it backwards.
func InvertAll(ops []Operation) ([]Operation, error) {
	inverted := make([]Operation, 0, len(ops))
	for i, op := range ops {
		inv, err := Invert(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
		inverted = append(inverted, inv)
	}
	return inverted, nil
}

// Checksum returns a stable digest of ops. Any change to an operation's data
// changes the checksum.
func Checksum(ops []Operation) string {
	h := fnv.New64a()
	for _, op := range ops {
		// hash.Hash never returns an error on write
		_, _ = fmt.Fprintf(h, "%T%+v\n", op, op)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
