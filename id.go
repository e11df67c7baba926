package schema_migrator

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// IDLayout is the time layout of timestamp derived migration identifiers.
const IDLayout = "20060102150405"

var ErrInvalidID = errors.New("invalid migration id")

// ID identifies a migration unit. Identifiers are derived from the creation
// time of the unit (YYYYMMDDhhmmss) and order units numerically.
type ID uint64

// latestID is greater than any identifier a unit can carry.
const latestID = ID(math.MaxUint64)

// NewID returns the identifier for a unit created at t.
func NewID(t time.Time) ID {
	return mustParseID(t.UTC().Format(IDLayout))
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Time returns the creation time encoded in id. ok is false when id is not a
// timestamp identifier.
func (id ID) Time() (t time.Time, ok bool) {
	s := id.String()
	if len(s) != len(IDLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(IDLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseID extracts the identifier from s. Both the bare identifier and a file
// style name such as "20240202102018_create_comments" are accepted.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return 0, ErrInvalidID
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 || ID(v) == latestID {
		return 0, errors.Join(ErrInvalidID, err)
	}
	return ID(v), nil
}

func mustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}
