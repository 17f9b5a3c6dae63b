package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/aevon-capture/internal/broker"
	"github.com/aevon-lab/aevon-capture/internal/capture"
	corecfg "github.com/aevon-lab/aevon-capture/internal/core/config"
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
	"github.com/aevon-lab/aevon-capture/internal/core/storage/postgres"
	"github.com/aevon-lab/aevon-capture/internal/flags"
	"github.com/aevon-lab/aevon-capture/internal/metrics"
	"github.com/aevon-lab/aevon-capture/internal/migrations"
	"github.com/aevon-lab/aevon-capture/internal/processing"
	"github.com/aevon-lab/aevon-capture/internal/recordings"
	"github.com/aevon-lab/aevon-capture/internal/routing"
	"github.com/aevon-lab/aevon-capture/internal/server"
	"github.com/aevon-lab/aevon-capture/internal/taskqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

func main() {
	configPath := flag.String("config", "capture.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Mode == "debug" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	slog.Info("Loaded config",
		"ingestion_mode", cfg.Ingestion.Mode,
		"plugin_server_ingestion", cfg.Ingestion.PluginServerIngestion,
		"tenant_source", cfg.Tenants.Source)

	srv := server.New(server.Options{
		Addr:        fmtAddr(cfg.Server.Host, cfg.Server.Port),
		Mode:        cfg.Server.Mode,
		CORS:        server.CORSConfig{AllowedOrigins: cfg.Server.CORS.AllowedOrigins},
		MetricsPath: metricsPath(cfg),
	})

	// 2. Initialize Tenant Store and Feature Flags
	var (
		store     storage.TenantStore
		flagsEval capture.FlagEvaluator
	)
	switch cfg.Tenants.Source {
	case corecfg.TenantSourcePostgres:
		dbAdapter, err := postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		if err := dbAdapter.Prepare(); err != nil {
			slog.Error("Failed to prepare tenant store", "error", err)
			os.Exit(1)
		}

		store = dbAdapter
		flagsEval = flags.NewEvaluator(dbAdapter.DB())
		srv.AddHealthCheck("database", dbAdapter)
	case corecfg.TenantSourceFile:
		memStore, err := storage.LoadMemoryStore(cfg.Tenants.Path)
		if err != nil {
			slog.Error("Failed to load tenants file", "path", cfg.Tenants.Path, "error", err)
			os.Exit(1)
		}
		store = memStore
		flagsEval = flags.Static{}
	}

	if cfg.Tenants.CacheSize > 0 {
		store = storage.NewCachedStore(store, cfg.Tenants.CacheSize, cfg.Tenants.EffectiveCacheTTL())
	}

	// 3. Initialize Metrics
	rec := metrics.Nop()
	if cfg.Metrics.Enabled {
		rec = metrics.New(prometheus.DefaultRegisterer, cfg.Metrics.Prefix)
	}

	// 4. Initialize Delivery Transports
	var transports routing.Transports
	switch cfg.Ingestion.Mode {
	case corecfg.ModeDirectLog:
		producer := broker.NewKafkaProducer(cfg.Kafka.Brokers, requiredAcks(cfg.Kafka.RequiredAcks))
		defer producer.Close()
		transports.Producer = producer
		transports.Processor = processing.NewElementsStripper()
		slog.Info("Kafka producer initialized", "brokers", cfg.Kafka.Brokers, "events_topic", cfg.Kafka.EventsTopic)
	case corecfg.ModeQueuedTask:
		queue, err := taskqueue.NewRedisQueue(cfg.Tasks.RedisURL)
		if err != nil {
			slog.Error("Failed to initialize task queue", "error", err)
			os.Exit(1)
		}
		defer queue.Close()
		transports.Queue = queue
		srv.AddHealthCheck("redis", queue)
		slog.Info("Task queue initialized", "task", cfg.Tasks.TaskName, "queue", cfg.Tasks.DefaultQueue)
	}

	router, err := routing.New(routing.Options{
		Mode: cfg.Ingestion.Mode,
		DirectLog: routing.DirectLogOptions{
			EventsTopic:          cfg.Kafka.EventsTopic,
			PluginIngestionTopic: cfg.Kafka.PluginIngestionTopic,
			PluginIngestion:      cfg.Ingestion.PluginServerIngestion,
		},
		QueuedTask: routing.QueuedTaskOptions{
			TaskName:        cfg.Tasks.TaskName,
			DefaultQueue:    cfg.Tasks.DefaultQueue,
			PluginsQueue:    cfg.Tasks.PluginsQueue,
			PluginIngestion: cfg.Ingestion.PluginServerIngestion,
		},
	}, transports, rec)
	if err != nil {
		slog.Error("Failed to initialize delivery router", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Capture Service
	captureSvc := capture.NewService(
		capture.NewTenantResolver(store),
		recordings.NewChunker(cfg.Ingestion.RecordingChunkSizeKB*1024),
		capture.NewEnricher(flagsEval),
		router,
		rec,
		capture.Options{
			MaxBodySizeMB:  cfg.Server.MaxBodySizeMB,
			IdentifyMarker: cfg.Ingestion.IdentifyPathMarker,
			SiteURL:        cfg.Server.SiteURL,
		},
	)
	captureSvc.RegisterRoutes(srv.Engine)

	// 6. Start Server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func metricsPath(cfg *corecfg.Config) string {
	if !cfg.Metrics.Enabled {
		return ""
	}
	return cfg.Metrics.Path
}

func requiredAcks(v string) kafka.RequiredAcks {
	switch v {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}
