package pipeline

import (
	"log"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// SilverProcessor promotes bronze records to silver in bounded batches.
// The cursor (high-water mark into the bronze log) only advances when the
// whole batch commits, so a failed or interrupted run replays the same
// batch and the request-id dedupe makes the replay a no-op. One batch is
// in flight at a time per processor.
type SilverProcessor struct {
	bronze    BronzeStore
	silver    SilverStore
	dims      *DimensionManager
	gold      *GoldAggregator
	batchSize int

	mu  sync.Mutex
	now func() time.Time
}

func NewSilverProcessor(stores *Stores, dims *DimensionManager, gold *GoldAggregator, batchSize int) *SilverProcessor {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &SilverProcessor{
		bronze:    stores.Bronze,
		silver:    stores.Silver,
		dims:      dims,
		gold:      gold,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ProcessOnce reads and promotes at most one batch past the cursor.
// Returns the number of records promoted (0 when the log is drained).
// Storage failures roll the whole batch back and are retried a bounded
// number of times; on exhaustion the cursor is unchanged and the error is
// returned, so a later run retries the same batch. Malformed records are
// quarantined with a reason and do not block the rest of the batch.
func (p *SilverProcessor) ProcessOnce() (int, error) {
	promoted, _, err := p.processOnce()
	return promoted, err
}

// processOnce additionally reports how many bronze records the batch
// consumed (promoted, quarantined or skipped), which Drain uses to keep
// going past batches that promote nothing.
func (p *SilverProcessor) processOnce() (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runID := uuid.NewString()
	var promoted []SilverRecord
	var quarantined []QuarantineRecord
	var duplicates, consumed int

	err := retry.Do(
		func() error {
			promoted = promoted[:0]
			quarantined = quarantined[:0]
			duplicates = 0
			consumed = 0

			cursor, err := p.silver.Cursor()
			if err != nil {
				return err
			}
			batch, err := p.bronze.ScanAfter(cursor, p.batchSize)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			consumed = len(batch)

			ids := make([]string, 0, len(batch))
			for _, b := range batch {
				if b.RequestID != "" {
					ids = append(ids, b.RequestID)
				}
			}
			existing, err := p.silver.ExistingIDs(ids)
			if err != nil {
				return err
			}

			var verrs *multierror.Error
			seen := make(map[string]struct{}, len(batch))
			newCursor := cursor

			for _, b := range batch {
				newCursor = b.Seq

				if reason := validate(b); reason != "" {
					verrs = multierror.Append(verrs, &ValidationError{RequestID: b.RequestID, Reason: reason})
					quarantined = append(quarantined, QuarantineRecord{
						ID:        uuid.NewString(),
						BronzeSeq: b.Seq,
						RequestID: b.RequestID,
						Reason:    reason,
						CreatedAt: p.now().UTC(),
					})
					continue
				}

				// Already promoted (earlier batch or earlier in this one):
				// skip silently, duplicates are not errors.
				if _, ok := existing[b.RequestID]; ok {
					duplicates++
					continue
				}
				if _, ok := seen[b.RequestID]; ok {
					duplicates++
					continue
				}
				seen[b.RequestID] = struct{}{}

				domainKey, err := p.dims.ResolveCurrent(b.Domain, b.DomainAttrs)
				if err != nil {
					return err
				}

				promoted = append(promoted, SilverRecord{
					RequestID:      b.RequestID,
					URL:            b.URL,
					Method:         b.Method,
					DomainKey:      domainKey,
					Status:         b.Status,
					ResponseTimeMs: b.ResponseTimeMs,
					Timestamp:      b.Timestamp,
					Validated:      true,
				})
			}

			if err := p.silver.CommitBatch(promoted, quarantined, newCursor); err != nil {
				return err
			}

			if verr := verrs.ErrorOrNil(); verr != nil {
				log.Printf("silver processor run=%s quarantined %d record(s): %v", runID, len(quarantined), verr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		pipelineBatchFailures.Inc()
		return 0, 0, err
	}

	if consumed == 0 {
		return 0, 0, nil
	}

	pipelineBatches.Inc()
	silverPromoted.Add(float64(len(promoted)))
	silverQuarantined.Add(float64(len(quarantined)))
	silverDuplicates.Add(float64(duplicates))

	// Gold deltas apply after the silver commit. A crash in between
	// under-counts gold until the next audit/rebuild; silver remains the
	// source of truth.
	for _, rec := range promoted {
		if err := p.gold.ApplyDelta(rec); err != nil {
			log.Printf("silver processor run=%s: gold delta for %s failed: %v", runID, rec.RequestID, err)
		}
	}

	log.Printf("silver processor run=%s promoted=%d quarantined=%d duplicates=%d", runID, len(promoted), len(quarantined), duplicates)
	return len(promoted), consumed, nil
}

// Drain processes batches until the bronze log is exhausted. Returns the
// total number of records promoted.
func (p *SilverProcessor) Drain() (int, error) {
	total := 0
	for {
		promoted, consumed, err := p.processOnce()
		total += promoted
		if err != nil || consumed == 0 {
			return total, err
		}
	}
}

func validate(b BronzeRecord) string {
	switch {
	case b.RequestID == "":
		return "missing request id"
	case b.URL == "":
		return "missing url"
	case b.Method == "":
		return "missing method"
	case b.Domain == "":
		return "missing domain"
	default:
		return ""
	}
}

// StartProcessorWorker drains the bronze log once at startup, then runs
// one pass per tick.
func StartProcessorWorker(p *SilverProcessor, interval time.Duration) {
	go func() {
		if _, err := p.Drain(); err != nil {
			log.Printf("silver processor error (startup): %v", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := p.Drain(); err != nil {
				log.Printf("silver processor error: %v", err)
			}
		}
	}()
}
