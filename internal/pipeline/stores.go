package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrDimensionConflict is returned by DimensionStore.CloseAndCreate when
// the version being closed is no longer current, i.e. another writer won
// the race. The DimensionManager retries on it.
var ErrDimensionConflict = errors.New("dimension version no longer current")

// ValidationError marks a bronze record that cannot be promoted. It is
// handled locally (quarantine), never escalated.
type ValidationError struct {
	RequestID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q: %s", e.RequestID, e.Reason)
}

// BronzeStore is the append-only raw-capture log. Implementations must
// assign Seq monotonically in insert order per store instance.
type BronzeStore interface {
	// Insert appends a record. Inserting an already-seen RequestID is a
	// no-op and returns ok=false with a nil error.
	Insert(rec *BronzeRecord) (ok bool, err error)

	// ScanAfter returns up to limit records with Seq > after, in Seq order.
	ScanAfter(after uint64, limit int) ([]BronzeRecord, error)

	// DeleteOlderThan evicts records with Timestamp before cutoff and
	// returns how many were removed. Seq numbering is unaffected.
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// SilverStore holds validated records plus the processor cursor and the
// quarantine. CommitBatch is the only write path for promotion and must
// be atomic: either all records, all quarantine rows and the cursor
// advance commit, or none do.
type SilverStore interface {
	Cursor() (uint64, error)

	// ExistingIDs reports which of the given request ids already have a
	// silver record.
	ExistingIDs(requestIDs []string) (map[string]struct{}, error)

	CommitBatch(records []SilverRecord, quarantined []QuarantineRecord, cursor uint64) error

	// ScanRange visits records for one domain version with timestamps in
	// [from, to), in no particular order.
	ScanRange(domainKey uint64, from, to time.Time, fn func(SilverRecord) error) error

	// ScanAll visits every silver record, for export and audits.
	ScanAll(fn func(SilverRecord) error) error

	DeleteOlderThan(cutoff time.Time) (int64, error)

	// Quarantined returns the current quarantine contents, newest last.
	Quarantined(limit int) ([]QuarantineRecord, error)
}

// DimensionStore persists the slowly-changing domain dimension. Version
// rows are closed, never deleted.
type DimensionStore interface {
	// Current returns the current version for naturalKey, or nil when the
	// key has never been seen.
	Current(naturalKey string) (*DomainVersion, error)

	// Create inserts a brand-new current version and fills in its
	// surrogate key.
	Create(v *DomainVersion) error

	// CloseAndCreate atomically closes the version identified by prevKey
	// (sets ValidTo, clears IsCurrent) and inserts next as the new
	// current version. Returns ErrDimensionConflict when prevKey is not
	// current anymore.
	CloseAndCreate(prevKey uint64, closeAt time.Time, next *DomainVersion) error

	// History returns all versions for naturalKey ordered by ValidFrom.
	History(naturalKey string) ([]DomainVersion, error)
}

// GoldStore persists the aggregate facts. Increment must be atomic per
// (domainKey, bucket) row under concurrent callers.
type GoldStore interface {
	Increment(domainKey uint64, bucket time.Time, delta FactDelta) error

	// Get returns the fact row, or nil when the bucket has no data.
	Get(domainKey uint64, bucket time.Time) (*GoldFact, error)

	// Query returns facts with BucketStart in [from, to), ordered by
	// bucket. domainKey 0 means all domains.
	Query(domainKey uint64, from, to time.Time) ([]GoldFact, error)

	// Replace overwrites the fact row with a rebuilt one (or creates it).
	Replace(fact *GoldFact) error

	ScanAll(fn func(GoldFact) error) error
}

// Stores bundles the four persistence surfaces a pipeline instance runs
// on. The host picks the implementation (Postgres via internal/db, or the
// in-memory one below).
type Stores struct {
	Bronze     BronzeStore
	Silver     SilverStore
	Dimensions DimensionStore
	Gold       GoldStore
}
