package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pet-tracker/internal/api"
	"pet-tracker/internal/database"
	"pet-tracker/internal/estimator"
	"pet-tracker/internal/floorplan"
	"pet-tracker/internal/ingest"
	"pet-tracker/internal/logging"
	"pet-tracker/internal/mqtt"
	"pet-tracker/internal/services"
	"pet-tracker/internal/state"
	"pet-tracker/internal/window"
	"pet-tracker/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs a run failure and flushes the logger; os.Exit skips defers
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("Pet tracker stopped with error", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting Pet Tracker...")

	// === Floorplan ===
	plan, err := floorplan.Load(cfg.FloorplanPath)
	if err != nil {
		return err
	}
	logger.Info("Floorplan loaded",
		zap.String("path", cfg.FloorplanPath),
		zap.Int("anchors", len(plan.AnchorList())),
		zap.Int("rooms", len(plan.Rooms())),
		zap.Int("floors", len(plan.Floors())))

	decoder, err := ingest.NewDecoder(plan, cfg.MQTTTopicObservations)
	if err != nil {
		return fmt.Errorf("invalid observation topic: %w", err)
	}
	decoder.SetMaxClockSkew(cfg.MaxClockSkew)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Core ===
	store := state.New()
	win := window.New(cfg.WindowCapacity)
	est := estimator.New(plan, win, estimator.Params{
		MaxObservationAge:      cfg.MaxObservationAge,
		FreshnessHalfLife:      cfg.FreshnessHalfLife,
		SingleAnchorConfidence: cfg.SingleAnchorConfidence,
		ResidualScale:          cfg.ResidualScale,
		Iterations:             cfg.SolverIterations,
		Damping:                estimator.DefaultParams().Damping,
	})

	// === Trail recorder ===
	var recorder database.Recorder = database.NoopRecorder{}
	if cfg.ClickHouseAddr != "" {
		db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		recorder = db
	} else {
		logger.Info("CLICKHOUSE_ADDR not set, position trail disabled")
	}
	defer recorder.Close()

	// === Initialize MQTT Client ===
	logger.Info("Connecting to MQTT broker...")
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger)
	if err != nil {
		return err
	}
	defer mqttClient.Close()

	// === Services ===
	tracking := services.NewTrackingService(win, est, store, services.TrackingServiceConfig{
		Mode:              cfg.EstimationMode,
		EstimateInterval:  cfg.EstimationInterval,
		ObservationBuffer: cfg.ObservationBuffer,
	}, logger)
	go tracking.Start(ctx)

	sweeper := services.NewSweeperService(store, win, services.SweeperServiceConfig{
		SweepInterval:     cfg.SweepInterval,
		StaleThreshold:    cfg.StaleThreshold,
		MaxObservationAge: cfg.MaxObservationAge,
	}, logger)
	go sweeper.Start(ctx)

	// the trail flushes pending rows on shutdown, before the recorder closes
	var trailDone sync.WaitGroup
	if cfg.ClickHouseAddr != "" {
		trailChan, stopTrail := store.Subscribe(256)
		defer stopTrail()
		trail := services.NewTrailService(recorder, trailChan, services.DefaultTrailServiceConfig(), logger)
		trailDone.Add(1)
		go func() {
			defer trailDone.Done()
			trail.Start(ctx)
		}()
	}

	// === MQTT Publisher ===
	if cfg.MQTTTopicPositions != "" {
		positionChan, stopPublisher := store.Subscribe(256)
		defer stopPublisher()
		publisher := mqtt.NewPublisher(mqttClient.GetNativeClient(), mqtt.PublisherConfig{
			PositionTopic: cfg.MQTTTopicPositions,
		}, positionChan, logger)
		go publisher.Start(ctx)
	}

	// === MQTT Subscriber ===
	subscriber := mqtt.NewSubscriber(mqttClient.GetNativeClient(), mqtt.SubscriberConfig{
		ObservationTopic: cfg.MQTTTopicObservations,
	}, decoder, tracking.ObservationChan, logger)
	if err := subscriber.Subscribe(); err != nil {
		return err
	}

	// === HTTP API ===
	wsChan, stopWS := store.Subscribe(256)
	defer stopWS()
	server := api.NewServer(cfg.HTTPAddr, store, plan, decoder.Stats(), logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx, wsChan)
	}()

	// === Log startup info ===
	logger.Info("=== Pet Tracker is running ===",
		zap.String("mode", cfg.EstimationMode),
		zap.String("observations_topic", cfg.MQTTTopicObservations),
		zap.String("positions_topic", cfg.MQTTTopicPositions),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Duration("stale_threshold", cfg.StaleThreshold),
		zap.Duration("max_observation_age", cfg.MaxObservationAge))

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping services...")
	case err := <-serverErr:
		runErr = err
	}

	// === Graceful shutdown ===
	if err := subscriber.Unsubscribe(); err != nil {
		logger.Warn("Error unsubscribing", zap.Error(err))
	}
	if err := server.Shutdown(5 * time.Second); err != nil {
		logger.Warn("Error stopping HTTP API", zap.Error(err))
	}
	cancel() // Cancel context to stop all goroutines
	trailDone.Wait()

	logger.Info("Shutdown complete. Goodbye!")
	return runErr
}
