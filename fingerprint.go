package laraplate

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DefaultVersionColumn is the fingerprint column used when a model does not set one.
const DefaultVersionColumn = "lock_version"

// FingerprintKind selects how a resource's state is summarized.
type FingerprintKind int

const (
	// FingerprintVersion is a monotonic integer counter incremented on every locked
	// write. Detection is exact.
	FingerprintVersion FingerprintKind = iota

	// FingerprintTimestamp is a timestamp column set on every locked write, truncated
	// to microseconds. Writes made outside the locker within the same microsecond as the
	// captured value are indistinguishable from no write.
	FingerprintTimestamp
)

// String implements fmt.Stringer.
func (k FingerprintKind) String() string {
	switch k {
	case FingerprintVersion:
		return "version"
	case FingerprintTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("FingerprintKind(%d)", int(k))
	}
}

// FingerprintColumn ties a column to a fingerprint kind.
type FingerprintColumn struct {
	Column string
	Kind   FingerprintKind
}

// Fingerprint is a comparable snapshot of a resource's state.
type Fingerprint struct {
	Kind    FingerprintKind
	Version int64
	Stamp   time.Time
}

// Equal reports whether two fingerprints describe the same state.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Kind != other.Kind {
		return false
	}
	if f.Kind == FingerprintTimestamp {
		return f.Stamp.Equal(other.Stamp)
	}
	return f.Version == other.Version
}

// Value returns the value to compare against in SQL.
func (f Fingerprint) Value() any {
	if f.Kind == FingerprintTimestamp {
		return f.Stamp
	}
	return f.Version
}

// Next returns the fingerprint a locked write stores.
func (f Fingerprint) Next(now time.Time) Fingerprint {
	if f.Kind == FingerprintTimestamp {
		next := now.UTC().Truncate(time.Microsecond)
		if !next.After(f.Stamp) {
			next = f.Stamp.Add(time.Microsecond)
		}
		return Fingerprint{Kind: FingerprintTimestamp, Stamp: next}
	}
	return Fingerprint{Kind: FingerprintVersion, Version: f.Version + 1}
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	if f.Kind == FingerprintTimestamp {
		return f.Stamp.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("v%d", f.Version)
}

// readFingerprint loads the current fingerprint of a resource row.
func readFingerprint(ctx context.Context, db bun.IDB, def *ModelDefinition, id any) (Fingerprint, error) {
	fp := def.fingerprint
	q := db.NewSelect().
		TableExpr("?", bun.Ident(def.table)).
		ColumnExpr("?", bun.Ident(fp.Column)).
		Where("? = ?", bun.Ident(def.key), id).
		Limit(1)

	switch fp.Kind {
	case FingerprintTimestamp:
		var stamp time.Time
		if err := q.Scan(ctx, &stamp); err != nil {
			return Fingerprint{}, err
		}
		return Fingerprint{Kind: FingerprintTimestamp, Stamp: stamp.UTC().Truncate(time.Microsecond)}, nil
	default:
		var version int64
		if err := q.Scan(ctx, &version); err != nil {
			return Fingerprint{}, err
		}
		return Fingerprint{Kind: FingerprintVersion, Version: version}, nil
	}
}
