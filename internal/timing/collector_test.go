package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netpulse/internal/config"
)

func newTestCollector(samplingRate float64) *Collector {
	return NewCollector(&config.Config{
		Enabled:           true,
		SamplingRate:      samplingRate,
		RetentionPeriod:   time.Second,
		StaleStartTimeout: 5 * time.Minute,
	})
}

func ptr(v float64) *float64 { return &v }

func TestFinalizeBreakdown(t *testing.T) {
	c := newTestCollector(100)
	c.CaptureStart("req-1", 1000)
	c.UpdateTiming("req-1", Partial{
		DNSStart: ptr(1000), DNSEnd: ptr(1010),
		ConnectStart: ptr(1010), ConnectEnd: ptr(1050),
		SSLStart: ptr(1030), SSLEnd: ptr(1050),
		SendEnd:      ptr(1055),
		ReceiveStart: ptr(1080), ReceiveEnd: ptr(1120),
	})

	m, ok := c.Finalize("req-1", 1125)
	require.True(t, ok)
	assert.Equal(t, 10.0, m.DNS)
	assert.Equal(t, 20.0, m.TCP) // connect span minus ssl span
	assert.Equal(t, 20.0, m.SSL)
	assert.Equal(t, 25.0, m.TTFB)
	assert.Equal(t, 40.0, m.Download)
	assert.Equal(t, 125.0, m.Total)
}

func TestFinalizeClampsNegativeValues(t *testing.T) {
	c := newTestCollector(100)
	c.CaptureStart("req-1", 2000)
	c.UpdateTiming("req-1", Partial{
		SendEnd:      ptr(1500),
		ReceiveStart: ptr(1400), // before sendEnd: clamped
	})

	m, ok := c.Finalize("req-1", 1000) // endTime before startTime: clamped
	require.True(t, ok)
	assert.Equal(t, 0.0, m.TTFB)
	assert.Equal(t, 0.0, m.Total)
}

func TestFinalizeMissingPhasesAreZero(t *testing.T) {
	c := newTestCollector(100)
	c.CaptureStart("req-1", 1000)

	m, ok := c.Finalize("req-1", 1200)
	require.True(t, ok)
	assert.Equal(t, 0.0, m.DNS)
	assert.Equal(t, 0.0, m.TCP)
	assert.Equal(t, 0.0, m.SSL)
	assert.Equal(t, 0.0, m.TTFB)
	assert.Equal(t, 0.0, m.Download)
	assert.Equal(t, 200.0, m.Total)
}

func TestFinalizeUnknownRequest(t *testing.T) {
	c := newTestCollector(100)
	_, ok := c.Finalize("never-seen", 1000)
	assert.False(t, ok)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	c := newTestCollector(100)
	c.CaptureStart("req-1", 1000)
	first, ok := c.Finalize("req-1", 1100)
	require.True(t, ok)

	// A second completion signal must not recompute with the later end time.
	second, ok := c.Finalize("req-1", 9999)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestUpdateTimingUnknownRequestIsNoop(t *testing.T) {
	c := newTestCollector(100)
	c.UpdateTiming("never-seen", Partial{DNSStart: ptr(1)})
	assert.Equal(t, 0, c.Len())
}

func TestSamplingRateZeroNeverCaptures(t *testing.T) {
	c := newTestCollector(0)
	c.CaptureStart("req-1", 1000)
	_, ok := c.Finalize("req-1", 1100)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestSamplingDecision(t *testing.T) {
	c := newTestCollector(50)

	c.randFloat = func() float64 { return 0.4 } // 40 <= 50: captured
	c.CaptureStart("captured", 1000)

	c.randFloat = func() float64 { return 0.6 } // 60 > 50: dropped
	c.CaptureStart("dropped", 1000)

	assert.Equal(t, 1, c.Len())
	_, ok := c.Finalize("dropped", 1100)
	assert.False(t, ok)
}

func TestDisabledCollectorCapturesNothing(t *testing.T) {
	c := NewCollector(&config.Config{Enabled: false, SamplingRate: 100})
	c.CaptureStart("req-1", 1000)
	assert.Equal(t, 0, c.Len())
}

func TestSweepRetentionBoundary(t *testing.T) {
	c := newTestCollector(100) // retention 1000ms
	c.CaptureStart("req-1", 4000)
	_, ok := c.Finalize("req-1", 5000)
	require.True(t, ok)

	// Exactly at the boundary: retained (strict comparison).
	assert.Equal(t, 0, c.Sweep(6000))
	_, ok = c.Metric("req-1")
	assert.True(t, ok)

	assert.Equal(t, 1, c.Sweep(6001))
	_, ok = c.Metric("req-1")
	assert.False(t, ok)
}

func TestSweepEvictsStaleUnfinalizedEntries(t *testing.T) {
	c := newTestCollector(100) // stale-start timeout 5m
	c.CaptureStart("abandoned", 0)

	staleCutoff := float64((5 * time.Minute).Milliseconds())
	assert.Equal(t, 0, c.Sweep(staleCutoff))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Sweep(staleCutoff+1))
	assert.Equal(t, 0, c.Len())
}

func TestUpdateTimingPartialMerge(t *testing.T) {
	c := newTestCollector(100)
	c.CaptureStart("req-1", 1000)
	c.UpdateTiming("req-1", Partial{DNSStart: ptr(1000), DNSEnd: ptr(1020)})
	c.UpdateTiming("req-1", Partial{SendEnd: ptr(1030), ReceiveStart: ptr(1070)})

	m, ok := c.Finalize("req-1", 1100)
	require.True(t, ok)
	assert.Equal(t, 20.0, m.DNS)
	assert.Equal(t, 40.0, m.TTFB)
}
