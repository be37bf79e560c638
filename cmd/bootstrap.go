package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/platform/services/eventcore/cache"
	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/messaging"
	"example.com/platform/services/eventcore/models"
	"example.com/platform/services/eventcore/outbox"
	"example.com/platform/services/eventcore/projections"
)

// connectDatabase opens the Postgres connection and runs migrations when
// enabled.
func connectDatabase() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBSource), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if cfg.EnableMigrations {
		if err := models.SetupModels(db); err != nil {
			return nil, errors.Wrap(err, "failed to run migrations")
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// buildCache connects to Redis when enabled. Failures are logged; the
// service runs uncached rather than refusing to start.
func buildCache() cache.Cache {
	if !cfg.RedisEnabled {
		return nil
	}
	redisCache, err := cache.NewRedisCache(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		return nil
	}
	return redisCache
}

// buildIndexer connects to Elasticsearch when enabled. Failures are logged;
// projections proceed without search mirroring.
func buildIndexer() *projections.Indexer {
	if !cfg.ElasticSearchEnabled {
		return nil
	}
	client, err := projections.NewElasticsearchClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search indexing")
		return nil
	}
	return projections.NewIndexer(client, cfg.ElasticSearchPrefix)
}

// buildRegistry wires the generic JSON projection for every configured
// aggregate type.
func buildRegistry(c cache.Cache, indexer *projections.Indexer) *projections.Registry {
	registry := projections.NewRegistry(cfg.EventNamespace)

	if len(cfg.AggregateTypes) == 0 {
		log.Warn().Msg("No aggregate types configured, events will be marked processed without projection")
	}
	for _, aggregateType := range cfg.AggregateTypes {
		handler := registry.RegisterAggregate(aggregateType, domain.NewJSONFactory(aggregateType))
		if indexer != nil {
			handler.WithIndexer(indexer)
		}
		if c != nil {
			handler.WithCache(c)
		}
		log.Info().Str("aggregate_type", aggregateType).Msg("Registered aggregate projection")
	}

	return registry
}

// buildPublisher selects the outbox delivery target.
func buildPublisher() (outbox.Publisher, error) {
	switch cfg.OutboxPublisher {
	case "azure":
		return messaging.NewAzurePublisher(cfg)
	case "log", "":
		return outbox.NewLogPublisher(), nil
	default:
		return nil, errors.Errorf("unknown outbox publisher %q", cfg.OutboxPublisher)
	}
}
