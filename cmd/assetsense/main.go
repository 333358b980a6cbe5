package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetsense/internal/alerting"
	"assetsense/internal/api"
	"assetsense/internal/config"
	"assetsense/internal/engine"
	"assetsense/internal/feature"
	"assetsense/internal/ingest"
	"assetsense/internal/logging"
	"assetsense/internal/model"
	"assetsense/internal/predict"
	"assetsense/internal/retention"
	"assetsense/internal/snapshot"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "assetsense.yaml", "path to the configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("assetsense", version)
		return
	}

	manager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		if os.IsNotExist(err) {
			manager = config.NewStaticManager(config.DefaultConfig())
		} else {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if manager.Path() == "" {
		logger.Warn("config file not found, running with defaults", "path", *configPath)
	}
	logger.Info("starting assetsense", "version", version, "driver", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if err := store.Init(ctx); err != nil {
		logger.Error("storage schema init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	metrics := telemetry.New()
	alerts := alerting.NewStore(cfg.Alerts.StoreLimit)
	snapshots := snapshot.NewStore(0)
	broadcaster := alerting.NewBroadcaster(logger)
	broadcaster.SetSubscriberGauge(metrics.Subscribers)

	eng := engine.NewEngine(cfg, logger, store, alerts, broadcaster, snapshots, metrics)
	readings := make(chan model.SensorReading, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, readings)

	ingest.StartREST(ctx, manager, eng, logger)
	ingest.StartTCPStream(ctx, manager, readings, logger)
	ingest.StartKafka(ctx, manager, readings, logger)

	extractor := feature.NewExtractor()
	trainer := predict.NewTrainer(store, extractor, manager, logger, metrics)
	trainer.TrainAsync(ctx)

	var summarizer predict.Summarizer
	if cfg.Summarizer.Enabled {
		summarizer = predict.NewHTTPSummarizer(cfg.Summarizer.URL, cfg.Summarizer.Timeout)
	}
	predictor := predict.NewPredictor(store, extractor, trainer, summarizer, manager, logger, metrics)
	generator := predict.NewGenerator(store, predictor, manager, logger, metrics)

	sweeper := retention.NewSweeper(store, manager, logger)
	go sweeper.Run(ctx)
	if err := sweeper.RefreshNow(ctx, 48*time.Hour); err != nil {
		logger.Warn("startup rollup refresh failed", "err", err)
	}

	api.Start(ctx, manager, api.Deps{
		Store:       store,
		Alerts:      alerts,
		Snapshots:   snapshots,
		Broadcaster: broadcaster,
		Predictor:   predictor,
		Generator:   generator,
		Trainer:     trainer,
		Metrics:     metrics,
		Logger:      logger,
		Version:     version,
	})

	go manager.Watch(10*time.Second,
		func(c *config.Config) {
			eng.UpdateConfig(c)
			logger.Info("config reloaded", "path", manager.Path())
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	broadcaster.CloseAll()
}
