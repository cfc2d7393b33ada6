package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"netpulse/internal/pipeline"
	"netpulse/internal/timing"
)

type factView struct {
	pipeline.GoldFact
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

func viewFacts(facts []pipeline.GoldFact) []factView {
	out := make([]factView, 0, len(facts))
	for _, f := range facts {
		out = append(out, factView{GoldFact: f, AvgResponseTimeMs: f.AvgResponseTimeMs()})
	}
	return out
}

// FactsHandler serves the gold facts for the analytics UI. Optional
// domain_key narrows to one domain version; from/to (RFC3339) default to
// the last 7 days.
func FactsHandler(agg *pipeline.GoldAggregator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		now := time.Now().UTC()
		from := parseTimeArg(ctx, "from", now.AddDate(0, 0, -7))
		to := parseTimeArg(ctx, "to", now.Add(24*time.Hour))

		var domainKey uint64
		if v := string(ctx.QueryArgs().Peek("domain_key")); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid domain_key")
				return
			}
			domainKey = n
		}

		facts, err := agg.Facts(domainKey, from, to)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query facts")
			return
		}
		jsonResponse(ctx, map[string]any{"facts": viewFacts(facts)})
	}
}

// DimensionHistoryHandler returns the full version sequence for a domain.
func DimensionHistoryHandler(dims *pipeline.DimensionManager) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		domain := string(ctx.QueryArgs().Peek("domain"))
		if domain == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "missing domain query parameter")
			return
		}
		versions, err := dims.HistoryOf(domain)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query dimension history")
			return
		}
		jsonResponse(ctx, map[string]any{"domain": domain, "versions": versions})
	}
}

// RequestTimingHandler returns the transient finalized timing breakdown
// for one request. 404 once the sweep has evicted it (or when the request
// was sampled out).
func RequestTimingHandler(collector *timing.Collector) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, _ := ctx.UserValue("id").(string)
		if id == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "missing request id")
			return
		}
		metric, ok := collector.Metric(id)
		if !ok {
			errResponse(ctx, fasthttp.StatusNotFound, "no timing for request")
			return
		}
		jsonResponse(ctx, metric)
	}
}

// ExportSilverHandler streams every silver record, for the export layer.
// On-disk format is the caller's concern; this is just the full scan.
func ExportSilverHandler(silver pipeline.SilverStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var records []pipeline.SilverRecord
		err := silver.ScanAll(func(r pipeline.SilverRecord) error {
			records = append(records, r)
			return nil
		})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to scan silver records")
			return
		}
		jsonResponse(ctx, map[string]any{"records": records})
	}
}

// ExportGoldHandler streams every gold fact.
func ExportGoldHandler(gold pipeline.GoldStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var facts []pipeline.GoldFact
		err := gold.ScanAll(func(f pipeline.GoldFact) error {
			facts = append(facts, f)
			return nil
		})
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to scan gold facts")
			return
		}
		jsonResponse(ctx, map[string]any{"facts": viewFacts(facts)})
	}
}

// QuarantineHandler lists quarantined records so an operator can inspect
// why captures were rejected.
func QuarantineHandler(silver pipeline.SilverStore) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		limit := 100
		if v := string(ctx.QueryArgs().Peek("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		recs, err := silver.Quarantined(limit)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query quarantine")
			return
		}
		jsonResponse(ctx, map[string]any{"quarantined": recs})
	}
}

// RebuildHandler audits one gold fact row against a recompute from silver
// and repairs it when drifted. Explicit operator action, never automatic.
func RebuildHandler(agg *pipeline.GoldAggregator) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		domainKey, err := strconv.ParseUint(string(ctx.QueryArgs().Peek("domain_key")), 10, 64)
		if err != nil || domainKey == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "missing or invalid domain_key")
			return
		}
		bucket := parseTimeArg(ctx, "bucket", time.Time{})
		if bucket.IsZero() {
			errResponse(ctx, fasthttp.StatusBadRequest, "missing or invalid bucket (RFC3339)")
			return
		}

		drifted, err := agg.Audit(domainKey, bucket)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "audit failed")
			return
		}
		fact, err := agg.Rebuild(domainKey, bucket)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "rebuild failed")
			return
		}
		jsonResponse(ctx, map[string]any{
			"drift": drifted,
			"fact":  factView{GoldFact: *fact, AvgResponseTimeMs: fact.AvgResponseTimeMs()},
		})
	}
}
