package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/rawblock/txguard-engine/internal/admission"
	"github.com/rawblock/txguard-engine/internal/alerts"
	"github.com/rawblock/txguard-engine/internal/analyzers"
	"github.com/rawblock/txguard-engine/internal/api"
	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/internal/config"
	"github.com/rawblock/txguard-engine/internal/db"
	"github.com/rawblock/txguard-engine/internal/events"
	"github.com/rawblock/txguard-engine/internal/explain"
	"github.com/rawblock/txguard-engine/internal/metrics"
	"github.com/rawblock/txguard-engine/internal/ml"
	"github.com/rawblock/txguard-engine/internal/parser"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/internal/pipeline"
)

func main() {
	log.Println("Starting RawBlock TxGuard Engine (Microservice: tx-scan-analytics)...")

	// ─── Configuration ──────────────────────────────────────────────────
	// All credentials come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}
	cfg := config.Load()

	// Cache tier: Redis when reachable, in-process memory otherwise.
	var backend cache.Backend
	redisBackend, err := cache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Printf("Warning: Redis unavailable (%v), using in-process cache", err)
		backend = cache.NewMemoryBackend()
	} else {
		backend = redisBackend
	}
	cacheSvc := cache.NewService(backend, cache.DefaultNamespaces())

	// Scan-event sink: optional PostgreSQL persistence.
	var dbConn *db.PostgresStore
	if cfg.DatabaseURL != "" {
		dbConn, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting scan events. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, scan events will not be persisted")
	}

	// Pattern catalogue: file-backed when configured, builtin otherwise.
	var loader patterns.Loader
	if cfg.PatternFile != "" {
		loader = &patterns.FileLoader{Path: cfg.PatternFile}
	}
	engine := patterns.NewEngine(loader, cacheSvc, cfg.AuthorityDataThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.PatternReloadInterval > 0 {
		go engine.RunReloadTicker(ctx, cfg.PatternReloadInterval)
	}

	// Analyzers and the ML detector.
	programAnalyzer := analyzers.NewProgramAnalyzer(engine, cacheSvc)
	accountAnalyzer := analyzers.NewAccountAnalyzer(cfg.AuthorityDataThreshold, cacheSvc)
	detector := ml.NewDetector(cfg.MLModelPath, cfg.FallbackRulesEnabled, cacheSvc)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	alertManager := alerts.NewManager(func(a alerts.Alert) {
		wsHub.BroadcastJSON("alert", a)
	})

	// Scan-event emitter: websocket broadcast always, Postgres when
	// connected.
	sinks := []events.Sink{events.NewBroadcastSink(wsHub.Broadcast)}
	if dbConn != nil {
		sinks = append(sinks, events.NewPostgresSink(dbConn))
	}
	emitter := events.NewEmitter(sinks...)
	defer emitter.Close()

	var explainer explain.Explainer
	if cfg.ExplainerURL != "" {
		explainer = explain.NewHTTPExplainer(cfg.ExplainerURL, cfg.ExplainerDeadline)
	}

	mets := metrics.New()
	mets.SnapshotVersion.Set(float64(engine.Snapshot().ID))

	scanPipeline := pipeline.New(pipeline.Options{
		Parser:    parser.New(cfg.MaxRequestSize),
		Engine:    engine,
		Programs:  programAnalyzer,
		Accounts:  accountAnalyzer,
		Detector:  detector,
		Cache:     cacheSvc,
		Emitter:   emitter,
		Explainer: explainer,
		Metrics:   mets,
		Config:    cfg,
	})

	admissionLayer := admission.NewLayer(cfg)
	defer admissionLayer.Close()

	// Queue depth is sampled rather than pushed; submissions settle too
	// fast for per-request gauge updates to mean anything.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mets.QueueDepth.Set(float64(admissionLayer.QueueSize()))
			}
		}
	}()

	// Setup the Gin Router
	r := api.SetupRouter(api.Deps{
		Pipeline:  scanPipeline,
		Admission: admissionLayer,
		Engine:    engine,
		Cache:     cacheSvc,
		DBStore:   dbConn,
		Alerts:    alertManager,
		WSHub:     wsHub,
		Metrics:   mets,
		Payment:   api.AllowAllPayments{},
		Config:    cfg,
	})

	// Start the server
	log.Printf("Engine running on :%s (API Node: tx-scan-analytics)\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
