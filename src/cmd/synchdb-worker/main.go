package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"go.uber.org/fx"

	"github.com/synchdb-go/synchdb/src/admin"
	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/helper/env"
	"github.com/synchdb-go/synchdb/src/infra/kafka"
	"github.com/synchdb-go/synchdb/src/infra/postgres"
	"github.com/synchdb-go/synchdb/src/infra/redis"
	"github.com/synchdb-go/synchdb/src/mapping"
	"github.com/synchdb-go/synchdb/src/producer"
	"github.com/synchdb-go/synchdb/src/status"
)

func main() {
	log.SetOutput(os.Stdout)
	log.Println("Starting synchdb worker with Uber Fx...")

	app := fx.New(
		fx.Provide(
			newLogger,
			newPostgresPool,
			newEngine,
			newStatusTable,
			newMappingRegistry,
			newProducerFactory,
			newCatalogCache,
			newAdminManager,
			newAdminServer,
			newConnectorConfigs,
		),
		fx.Invoke(runWorker, startAdminServer),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start synchdb worker: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("shutting down synchdb worker...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Printf("failed to stop synchdb worker gracefully: %v", err)
	}
	log.Println("synchdb worker shutdown complete")
}

func newLogger() *slog.Logger {
	logLevel := env.GetString("LOG_LEVEL", "info")
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func newPostgresPool() (*pgxpool.Pool, error) {
	host := env.MustGetString("DEST_PG_HOST")
	port := env.GetString("DEST_PG_PORT", "5432")
	dbname := env.MustGetString("DEST_PG_DATABASE")
	user := env.MustGetString("DEST_PG_USER")
	password := env.MustGetString("DEST_PG_PASSWORD")
	maxConns := env.GetInt("DEST_PG_MAX_CONNS", 10)

	return postgres.NewPostgresClient(host, port, dbname, user, password, maxConns)
}

func newEngine(pool *pgxpool.Pool) destination.Engine {
	return postgres.NewEngine(pool)
}

func newStatusTable() *status.Table {
	return status.New()
}

func newMappingRegistry() *mapping.Registry {
	return mapping.NewRegistry()
}

func newProducerFactory(logger *slog.Logger) admin.ProducerFactory {
	brokers := env.MustGetString("KAFKA_BROKERS")
	batchSize := env.GetInt("KAFKA_BATCH_SIZE", 500)

	return func(cfg domain.ConnectorConfig) (producer.Producer, error) {
		groupID := "synchdb-" + cfg.Name
		topic := env.MustGetString("KAFKA_CDC_TOPIC_PREFIX") + cfg.Name

		client, err := kafka.NewKafkaClient(brokers, groupID, batchSize)
		if err != nil {
			return nil, err
		}
		return producer.NewKafkaProducer(logger, client, topic), nil
	}
}

// newCatalogCache attaches the optional Redis-backed second-tier catalog
// cache when REDIS_ADDRS is configured; nil otherwise, which is a fully
// supported configuration (the in-process DataCache still works alone).
func newCatalogCache() *redis.CatalogCache {
	addrs := env.GetString("REDIS_ADDRS", "")
	if addrs == "" {
		return nil
	}
	poolSize := env.GetInt("REDIS_POOL_SIZE", 20)
	ttlSeconds := env.GetInt("REDIS_CATALOG_TTL_SECONDS", 3600)
	return redis.NewCatalogCache(addrs, poolSize, time.Duration(ttlSeconds)*time.Second)
}

func newAdminManager(logger *slog.Logger, statusTbl *status.Table, engine destination.Engine, registry *mapping.Registry, pf admin.ProducerFactory, cache *redis.CatalogCache) *admin.Manager {
	metadataBaseDir := env.GetString("SYNCHDB_METADATA_DIR", "./pg_synchdb")
	return admin.New(logger, statusTbl, engine, registry, pf).
		WithCatalogCache(cache).
		WithMetadataBaseDir(metadataBaseDir)
}

func newAdminServer(logger *slog.Logger, manager *admin.Manager) *admin.Server {
	port := env.GetInt("ADMIN_HTTP_PORT", 8089)
	return admin.NewServer(logger, port, manager)
}

// newConnectorConfigs loads the static connector roster from a JSON file
// (CONNECTORS_CONFIG_PATH); the admin surface's add_conninfo verb can add
// more at runtime.
func newConnectorConfigs() ([]domain.ConnectorConfig, error) {
	path := env.GetString("CONNECTORS_CONFIG_PATH", "")
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfgs []domain.ConnectorConfig
	if err := json.Unmarshal(raw, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

// runWorker registers every configured connector and, on OnStart, fans out
// one goroutine per connector via errgroup, so a single connector's
// failure never kills its siblings (§5: "no cross-connector ordering is
// promised").
func runWorker(lc fx.Lifecycle, logger *slog.Logger, manager *admin.Manager, cfgs []domain.ConnectorConfig) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, cfg := range cfgs {
				manager.AddConninfo(cfg)
			}

			go func() {
				// A plain Group: the context of errgroup.WithContext is
				// cancelled once Wait returns, which would stop every
				// supervisor launched from it.
				var g errgroup.Group
				for _, cfg := range cfgs {
					name := cfg.Name
					g.Go(func() error {
						res := manager.Start(context.Background(), name)
						if res.Code != domain.AdminOK {
							logger.Error("connector failed to start", "connector", name, "message", res.Message)
						}
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					logger.Error("connector fan-out exited with error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, cfg := range cfgs {
				manager.Stop(cfg.Name)
			}
			return nil
		},
	})
}

func startAdminServer(lc fx.Lifecycle, logger *slog.Logger, server *admin.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(); err != nil {
					logger.Error("admin server exited", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
