package pipeline

import (
	"time"

	"gorm.io/datatypes"
)

// BronzeRecord is one raw captured request in the append-only bronze log.
// Seq is the log position (assigned by the store); RequestID is the
// dedupe key — a second insert with a seen RequestID is a no-op.
type BronzeRecord struct {
	Seq uint64 `gorm:"primaryKey;autoIncrement" json:"seq"`

	RequestID string `gorm:"uniqueIndex;not null" json:"request_id"`

	URL            string    `json:"url"`
	Method         string    `json:"method"`
	Domain         string    `gorm:"index" json:"domain"`
	Status         int       `json:"status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`

	RawHeaders datatypes.JSONMap `gorm:"type:json" json:"raw_headers,omitempty"`

	// DomainAttrs carries the capture side's view of the domain
	// (classification tags and the like). Consumed during promotion to
	// version the domain dimension; not part of the silver record itself.
	DomainAttrs datatypes.JSONMap `gorm:"type:json" json:"domain_attrs,omitempty"`
}

// SilverRecord is a validated, deduplicated request record. Exactly one
// exists per bronze RequestID; never mutated after creation.
type SilverRecord struct {
	ID uint `gorm:"primaryKey" json:"id"`

	RequestID string `gorm:"uniqueIndex;not null" json:"request_id"`

	URL    string `json:"url"`
	Method string `json:"method"`

	// DomainKey references the domain dimension version that was current
	// when this record was promoted.
	DomainKey uint64 `gorm:"index;not null" json:"domain_key"`

	Status         int       `json:"status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`

	Validated bool `gorm:"not null" json:"validated"`
}

// DomainVersion is one version row of the slowly-changing domain
// dimension (Type 2): an attribute change closes the current row and
// creates a new one, history is never overwritten or deleted.
type DomainVersion struct {
	SurrogateKey uint64 `gorm:"primaryKey;autoIncrement" json:"surrogate_key"`

	NaturalKey string            `gorm:"index;not null" json:"natural_key"`
	Attributes datatypes.JSONMap `gorm:"type:json" json:"attributes,omitempty"`

	ValidFrom time.Time  `gorm:"not null" json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	IsCurrent bool       `gorm:"index;not null" json:"is_current"`
}

// GoldFact is the pre-aggregated analytics row for one
// (domain version, time bucket) pair. Mutated in place by incremental
// aggregation; rebuildable from silver. TotalRequests always equals
// SuccessCount + ErrorCount + OtherCount.
type GoldFact struct {
	ID uint `gorm:"primaryKey" json:"-"`

	DomainKey   uint64    `gorm:"uniqueIndex:idx_gold_fact_unique,priority:1;not null" json:"domain_key"`
	BucketStart time.Time `gorm:"uniqueIndex:idx_gold_fact_unique,priority:2;not null" json:"bucket_start"`

	TotalRequests     int64 `gorm:"not null" json:"total_requests"`
	SuccessCount      int64 `gorm:"not null" json:"success_count"`
	ErrorCount        int64 `gorm:"not null" json:"error_count"`
	OtherCount        int64 `gorm:"not null" json:"other_count"`
	SumResponseTimeMs int64 `gorm:"not null" json:"sum_response_time_ms"`
}

// AvgResponseTimeMs is always derived from the stored sum and count so it
// cannot drift from them.
func (f GoldFact) AvgResponseTimeMs() float64 {
	if f.TotalRequests == 0 {
		return 0
	}
	return float64(f.SumResponseTimeMs) / float64(f.TotalRequests)
}

// QuarantineRecord holds a bronze record that failed validation, with the
// reason. Quarantined records are excluded from promotion and are not
// retried automatically.
type QuarantineRecord struct {
	ID string `gorm:"primaryKey" json:"id"`

	BronzeSeq uint64    `json:"bronze_seq"`
	RequestID string    `json:"request_id"`
	Reason    string    `gorm:"not null" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineCursor is the silver processor's high-water mark into the
// bronze log, persisted so replays after a restart are idempotent.
type PipelineCursor struct {
	Name      string `gorm:"primaryKey"`
	Position  uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// SilverCursorName is the cursor row used by the silver processor.
const SilverCursorName = "silver"

// FactDelta is one silver record's contribution to a gold fact.
type FactDelta struct {
	Total             int64
	Success           int64
	Error             int64
	Other             int64
	SumResponseTimeMs int64
}

// DeltaFor classifies a silver record's status into the gold counters.
// Status >= 400 counts as error, any other non-zero status as success,
// and status 0 (aborted or failed requests) as other.
func DeltaFor(status int, responseTimeMs int64) FactDelta {
	d := FactDelta{Total: 1, SumResponseTimeMs: responseTimeMs}
	switch {
	case status >= 400:
		d.Error = 1
	case status > 0:
		d.Success = 1
	default:
		d.Other = 1
	}
	return d
}
