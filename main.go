package main

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"netpulse/internal/config"
	"netpulse/internal/db"
	"netpulse/internal/http/handlers"
	appmw "netpulse/internal/http/middleware"
	"netpulse/internal/pipeline"
	"netpulse/internal/timing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var stores *pipeline.Stores
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Connect(cfg)
		if err != nil {
			log.Fatalf("failed to connect database: %v", err)
		}
		stores = db.NewStores(sqlDB)
	} else {
		log.Printf("NETPULSE_DATABASE_URL not set; using in-memory stores (state does not survive restarts)")
		stores = pipeline.NewMemoryStores()
	}

	collector := timing.NewCollector(cfg)
	filter := timing.NewFilter(cfg)
	dims := pipeline.NewDimensionManager(stores.Dimensions)
	gold := pipeline.NewGoldAggregator(stores, cfg.BucketGranularity)
	processor := pipeline.NewSilverProcessor(stores, dims, gold, cfg.BatchSize)
	sweeper := pipeline.NewRetentionSweeper(collector, stores, cfg.RetentionPeriod)

	handlers.InitPrometheusMetrics()
	pipeline.InitMetrics()

	pipeline.StartProcessorWorker(processor, cfg.ProcessInterval)
	pipeline.StartSweeperWorker(sweeper, cfg.SweepInterval)

	r := router.New()

	handler := handlers.RequestLogger(r.Handler)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	capture := appmw.CaptureAuth(cfg)
	r.POST("/v1/events/timing", capture(handlers.TimingEventsHandler(collector)))
	r.POST("/v1/events/completed", capture(handlers.CompletedHandler(collector, filter, stores.Bronze, cfg)))

	r.GET("/v1/facts", handlers.FactsHandler(gold))
	r.GET("/v1/dimensions/history", handlers.DimensionHistoryHandler(dims))
	r.GET("/v1/requests/{id}/timing", handlers.RequestTimingHandler(collector))
	r.GET("/v1/export/silver", handlers.ExportSilverHandler(stores.Silver))
	r.GET("/v1/export/gold", handlers.ExportGoldHandler(stores.Gold))
	r.GET("/v1/quarantine", handlers.QuarantineHandler(stores.Silver))
	r.POST("/v1/admin/rebuild", handlers.RebuildHandler(gold))

	r.GET("/metrics", handlers.MetricsHandler())

	log.Printf("netpulse listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
