package pipeline

import (
	"log"
	"time"

	"netpulse/internal/timing"
)

// RetentionSweeper evicts expired timing entries and bronze/silver rows.
// Gold facts and dimension history are deliberately left alone: the
// aggregated history outlives the raw detail it was computed from.
type RetentionSweeper struct {
	collector *timing.Collector
	bronze    BronzeStore
	silver    SilverStore
	retention time.Duration
}

func NewRetentionSweeper(collector *timing.Collector, stores *Stores, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		collector: collector,
		bronze:    stores.Bronze,
		silver:    stores.Silver,
		retention: retention,
	}
}

// SweepOnce runs a single retention pass as of now.
func (s *RetentionSweeper) SweepOnce(now time.Time) error {
	cutoff := now.Add(-s.retention)

	evicted := s.collector.Sweep(float64(now.UnixMilli()))
	sweeperEvicted.WithLabelValues("timing").Add(float64(evicted))

	nBronze, err := s.bronze.DeleteOlderThan(cutoff)
	if err != nil {
		return err
	}
	sweeperEvicted.WithLabelValues("bronze").Add(float64(nBronze))

	nSilver, err := s.silver.DeleteOlderThan(cutoff)
	if err != nil {
		return err
	}
	sweeperEvicted.WithLabelValues("silver").Add(float64(nSilver))

	if evicted > 0 || nBronze > 0 || nSilver > 0 {
		log.Printf("retention sweep: evicted timing=%d bronze=%d silver=%d", evicted, nBronze, nSilver)
	}
	return nil
}

// StartSweeperWorker launches a background goroutine that runs the
// retention sweep once at startup and then at the given interval.
func StartSweeperWorker(s *RetentionSweeper, interval time.Duration) {
	go func() {
		if err := s.SweepOnce(time.Now()); err != nil {
			log.Printf("retention sweep error (startup): %v", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for t := range ticker.C {
			if err := s.SweepOnce(t); err != nil {
				log.Printf("retention sweep error: %v", err)
			}
		}
	}()
}
