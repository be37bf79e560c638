package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/platform/services/eventcore/api"
	"example.com/platform/services/eventcore/commandbus"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/outbox"
	"example.com/platform/services/eventcore/projections"
	"example.com/platform/services/eventcore/query"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server with embedded projection processing",
	Run:   runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	store := eventstore.NewGormEventStore(db, cfg.NotificationChannel)
	snapshots := eventstore.NewGormSnapshotStore(db)
	metricsCollector := metrics.New()

	bus := commandbus.NewBus(store, snapshots, cfg.SnapshotFrequency)
	bus.RegisterGenericCommands(cfg.AggregateTypes)

	redisCache := buildCache()
	indexer := buildIndexer()
	registry := buildRegistry(redisCache, indexer)

	processor := projections.NewProcessor(store, registry, metricsCollector,
		cfg.ProjectionBatchSize, cfg.ProjectionMaxRetries, cfg.ProjectionInterval)
	processor.Start(ctx)

	listener := projections.NewListener(cfg.DBSource, cfg.NotificationChannel, processor)
	listener.Start(ctx)

	replayService := projections.NewReplayService(store, registry, processor)
	queryService := query.NewService(store, redisCache, cfg.RedisTTL)

	publisher, err := buildPublisher()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize outbox publisher")
	}
	relay := outbox.NewRelay(outbox.NewGormRepository(db), publisher, metricsCollector, cfg.OutboxBatchSize)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.OutboxInterval),
		gocron.NewTask(func() {
			if _, err := relay.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Outbox relay run failed")
			}
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule outbox relay")
	}
	scheduler.Start()

	server := api.NewServer(cfg, store, processor, replayService, queryService, metricsCollector)
	server.SetCommandBus(bus)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := listener.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping notification listener")
	}
	processor.Stop()
	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error closing outbox publisher")
	}

	log.Info().Msg("Server exited properly")
}
