package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"

	"netpulse/internal/config"
	"netpulse/internal/pipeline"
	"netpulse/internal/timing"
)

var (
	requestsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netpulse",
			Name:      "requests_captured_total",
			Help:      "Total number of completed requests written to the bronze log.",
		},
		[]string{"domain", "method", "status"},
	)
	requestsFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "requests_filtered_total",
		Help:      "Total number of completed requests rejected by the capture filter.",
	})
	requestsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "requests_duplicate_total",
		Help:      "Total number of completed requests absorbed as bronze duplicates.",
	})
	captureFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netpulse",
		Name:      "capture_failures_total",
		Help:      "Total number of bronze inserts that failed at the storage layer.",
	})
	responseTimeBuckets = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netpulse",
			Name:      "response_time_seconds",
			Help:      "Histogram of captured request response times in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"domain", "method"},
	)
)

// InitPrometheusMetrics registers the capture metrics with the default
// registry. The counters work unregistered, so handler tests skip this.
func InitPrometheusMetrics() {
	prometheus.MustRegister(requestsCaptured, requestsFiltered, requestsDuplicate, captureFailures, responseTimeBuckets)
}

// TimingEvent is one phase notification from the capture side. StartTime,
// when present, opens the timing entry (subject to sampling); the embedded
// phase timestamps merge into it.
type TimingEvent struct {
	RequestID string   `json:"request_id"`
	StartTime *float64 `json:"start_time,omitempty"`
	timing.Partial
}

type timingRequest struct {
	Events []TimingEvent `json:"events"`
}

// TimingEventsHandler feeds phase notifications into the collector.
// Unknown request ids (sampled out or already swept) are silently ignored,
// so the capture side never needs to track the sampling decision.
func TimingEventsHandler(collector *timing.Collector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload timingRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(payload.Events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		for _, ev := range payload.Events {
			if ev.RequestID == "" {
				continue
			}
			if ev.StartTime != nil {
				collector.CaptureStart(ev.RequestID, *ev.StartTime)
			}
			collector.UpdateTiming(ev.RequestID, ev.Partial)
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"accepted","count":` + strconv.Itoa(len(payload.Events)) + `}`)
	}
}

// CompletedEvent is the terminal signal for one request.
type CompletedEvent struct {
	RequestID      string         `json:"request_id"`
	URL            string         `json:"url"`
	Method         string         `json:"method"`
	Domain         string         `json:"domain"`
	Type           string         `json:"type,omitempty"`
	Status         int            `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	EndTime        float64        `json:"end_time"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
	RawHeaders     map[string]any `json:"raw_headers,omitempty"`
	DomainAttrs    map[string]any `json:"domain_attrs,omitempty"`
}

type completedRequest struct {
	Events []CompletedEvent `json:"events"`
}

// CompletedHandler finalizes the timing entry for each signal, runs the
// capture filter and appends passing requests to the bronze log.
func CompletedHandler(collector *timing.Collector, filter timing.Filter, bronze pipeline.BronzeStore, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload completedRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(payload.Events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		now := time.Now()
		var captured, duplicates, filtered int

		for _, ev := range payload.Events {
			if ev.RequestID == "" {
				continue
			}

			// Finalize regardless of the filter outcome: the transient
			// timing breakdown is its own query surface.
			metric, hasTiming := collector.Finalize(ev.RequestID, ev.EndTime)

			if !cfg.Enabled {
				continue
			}
			if !filter.Allow(ev.Domain, ev.Type) {
				requestsFiltered.Inc()
				filtered++
				continue
			}

			responseTime := ev.ResponseTimeMs
			if responseTime == 0 && hasTiming {
				responseTime = int64(metric.Total)
			}
			ts := now
			if ev.Timestamp != nil {
				ts = *ev.Timestamp
			}

			rec := pipeline.BronzeRecord{
				RequestID:      ev.RequestID,
				URL:            ev.URL,
				Method:         ev.Method,
				Domain:         ev.Domain,
				Status:         ev.Status,
				ResponseTimeMs: responseTime,
				Timestamp:      ts,
				RawHeaders:     datatypes.JSONMap(ev.RawHeaders),
				DomainAttrs:    datatypes.JSONMap(ev.DomainAttrs),
			}

			ok, err := bronze.Insert(&rec)
			if err != nil {
				captureFailures.Inc()
				continue
			}
			if !ok {
				requestsDuplicate.Inc()
				duplicates++
				continue
			}
			captured++
			requestsCaptured.WithLabelValues(ev.Domain, ev.Method, strconv.Itoa(ev.Status)).Inc()
			responseTimeBuckets.WithLabelValues(ev.Domain, ev.Method).
				Observe(float64(responseTime) / 1000.0)
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		jsonResponse(ctx, map[string]any{
			"status":     "accepted",
			"captured":   captured,
			"duplicates": duplicates,
			"filtered":   filtered,
		})
	}
}
