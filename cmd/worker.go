package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/outbox"
	"example.com/platform/services/eventcore/projections"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the projection and outbox worker",
	Long:  `Start the background worker that projects stored events into read models and relays outbox rows to the configured publisher`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, err := connectDatabase()
	if err != nil {
		return err
	}

	store := eventstore.NewGormEventStore(db, cfg.NotificationChannel)
	metricsCollector := metrics.New()

	redisCache := buildCache()
	indexer := buildIndexer()
	registry := buildRegistry(redisCache, indexer)

	processor := projections.NewProcessor(store, registry, metricsCollector,
		cfg.ProjectionBatchSize, cfg.ProjectionMaxRetries, cfg.ProjectionInterval)
	processor.Start(ctx)
	defer processor.Stop()

	listener := projections.NewListener(cfg.DBSource, cfg.NotificationChannel, processor)
	listener.Start(ctx)
	defer func() {
		if err := listener.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping notification listener")
		}
	}()

	publisher, err := buildPublisher()
	if err != nil {
		return err
	}
	relay := outbox.NewRelay(outbox.NewGormRepository(db), publisher, metricsCollector, cfg.OutboxBatchSize)

	// Relay schedule; runs alongside the processor's own interval fallback.
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
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
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
