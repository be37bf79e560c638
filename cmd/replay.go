package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/projections"
)

var replayFromEventID string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild projections from the event log",
	Long:  `Delete projected aggregate states, mark events unprocessed and reproject the log. With --from, only events created at or after the given event are reprocessed`,
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFromEventID, "from", "", "event ID to replay from (default: all events)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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
		cfg.ProjectionBatchSize, cfg.ProjectionMaxRetries, 0)
	replayService := projections.NewReplayService(store, registry, processor)

	queued, err := replayService.Rebuild(ctx, replayFromEventID)
	if err != nil {
		return err
	}
	log.Info().Int64("events", queued).Msg("Events queued for replay")

	// Drain synchronously so the command exits with the rebuild complete.
	processed, err := processor.TriggerManual(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int64("queued", queued).
		Int("processed", processed).
		Msg("Projection replay complete")
	return nil
}
