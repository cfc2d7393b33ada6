package timing

import (
	"math"
	"math/rand/v2"
	"sync"

	"netpulse/internal/config"
)

// Partial carries any subset of the network phase timestamps for one
// request. All values are epoch milliseconds as reported by the capture
// side (browser webRequest/performance timing). Nil means "not observed".
type Partial struct {
	DNSStart     *float64 `json:"dns_start,omitempty"`
	DNSEnd       *float64 `json:"dns_end,omitempty"`
	ConnectStart *float64 `json:"connect_start,omitempty"`
	ConnectEnd   *float64 `json:"connect_end,omitempty"`
	SSLStart     *float64 `json:"ssl_start,omitempty"`
	SSLEnd       *float64 `json:"ssl_end,omitempty"`
	SendEnd      *float64 `json:"send_end,omitempty"`
	ReceiveStart *float64 `json:"receive_start,omitempty"`
	ReceiveEnd   *float64 `json:"receive_end,omitempty"`
}

// Metric is the finalized per-request timing breakdown. Every duration is
// a difference of phase timestamps clamped to zero; none can be negative.
// Immutable once produced.
type Metric struct {
	RequestID string  `json:"request_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	DNS       float64 `json:"dns"`
	TCP       float64 `json:"tcp"`
	SSL       float64 `json:"ssl"`
	TTFB      float64 `json:"ttfb"`
	Download  float64 `json:"download"`
	Total     float64 `json:"total"`
}

type entry struct {
	startTime float64
	phases    Partial
	finalized bool
	endTime   float64
	metric    Metric
}

// Collector accumulates per-request timing events and turns them into
// finalized Metrics. All state is in-process and transient: finalized
// entries live until the sweep evicts them, nothing is persisted here.
//
// Safe for concurrent use from many capture call sites. A sweep and a
// finalize for the same request serialize on the collector lock, so a
// request is either still queryable or fully evicted, never half of each.
type Collector struct {
	mu      sync.Mutex
	entries map[string]*entry

	enabled      bool
	samplingRate float64
	retentionMS  float64
	staleStartMS float64

	// randFloat is swapped out in tests to pin the sampling decision.
	randFloat func() float64
}

// NewCollector builds a collector from the runtime configuration.
func NewCollector(cfg *config.Config) *Collector {
	return &Collector{
		entries:      make(map[string]*entry),
		enabled:      cfg.Enabled,
		samplingRate: cfg.SamplingRate,
		retentionMS:  float64(cfg.RetentionPeriod.Milliseconds()),
		staleStartMS: float64(cfg.StaleStartTimeout.Milliseconds()),
		randFloat:    rand.Float64,
	}
}

func (c *Collector) shouldCapture() bool {
	if !c.enabled || c.samplingRate <= 0 {
		return false
	}
	if c.samplingRate >= 100 {
		return true
	}
	return c.randFloat()*100 <= c.samplingRate
}

// CaptureStart creates timing state for a request if the sampling decision
// allows it. Not capturing is a no-op, not an error; a second start for a
// known request id is ignored.
func (c *Collector) CaptureStart(requestID string, startTime float64) {
	if requestID == "" || !c.shouldCapture() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[requestID]; ok {
		return
	}
	c.entries[requestID] = &entry{startTime: startTime}
}

// UpdateTiming merges the non-nil phase timestamps of p into the state for
// requestID. Unknown request ids (not captured, already swept) are ignored.
func (c *Collector) UpdateTiming(requestID string, p Partial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[requestID]
	if !ok || e.finalized {
		return
	}
	merge(&e.phases, p)
}

func merge(dst *Partial, src Partial) {
	if src.DNSStart != nil {
		dst.DNSStart = src.DNSStart
	}
	if src.DNSEnd != nil {
		dst.DNSEnd = src.DNSEnd
	}
	if src.ConnectStart != nil {
		dst.ConnectStart = src.ConnectStart
	}
	if src.ConnectEnd != nil {
		dst.ConnectEnd = src.ConnectEnd
	}
	if src.SSLStart != nil {
		dst.SSLStart = src.SSLStart
	}
	if src.SSLEnd != nil {
		dst.SSLEnd = src.SSLEnd
	}
	if src.SendEnd != nil {
		dst.SendEnd = src.SendEnd
	}
	if src.ReceiveStart != nil {
		dst.ReceiveStart = src.ReceiveStart
	}
	if src.ReceiveEnd != nil {
		dst.ReceiveEnd = src.ReceiveEnd
	}
}

// Finalize computes the timing breakdown for requestID and returns it.
// The second return is false when the request was never captured. The
// entry is retained after finalize so the metric stays queryable until
// the sweep evicts it.
func (c *Collector) Finalize(requestID string, endTime float64) (Metric, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[requestID]
	if !ok {
		return Metric{}, false
	}
	if e.finalized {
		return e.metric, true
	}

	p := e.phases
	m := Metric{
		RequestID: requestID,
		StartTime: e.startTime,
		EndTime:   endTime,
		DNS:       clamp(span(p.DNSStart, p.DNSEnd)),
		TCP:       clamp(span(p.ConnectStart, p.ConnectEnd) - span(p.SSLStart, p.SSLEnd)),
		SSL:       clamp(span(p.SSLStart, p.SSLEnd)),
		TTFB:      clamp(span(p.SendEnd, p.ReceiveStart)),
		Download:  clamp(span(p.ReceiveStart, p.ReceiveEnd)),
		Total:     clamp(endTime - e.startTime),
	}

	e.finalized = true
	e.endTime = endTime
	e.metric = m
	return m, true
}

// span returns end-start, or 0 when either endpoint was not observed.
// The result may be negative; callers clamp.
func span(start, end *float64) float64 {
	if start == nil || end == nil {
		return 0
	}
	return *end - *start
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Metric returns the finalized breakdown for requestID, if it exists and
// has not been swept.
func (c *Collector) Metric(requestID string) (Metric, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[requestID]
	if !ok || !e.finalized {
		return Metric{}, false
	}
	return e.metric, true
}

// Sweep evicts finalized entries whose endTime is older than the retention
// period (strictly older; entries exactly at the boundary stay) and
// unfinalized entries whose startTime is older than the stale-start
// timeout. Returns the number of entries removed.
func (c *Collector) Sweep(now float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if e.finalized {
			if now-e.endTime > c.retentionMS {
				delete(c.entries, id)
				removed++
			}
			continue
		}
		if now-e.startTime > c.staleStartMS {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, finalized or not.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
