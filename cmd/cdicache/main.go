// cdicache - CDI device specification cache daemon
//
// cdicache keeps a process-wide registry of Container Device Interface
// devices, built from spec directories and an optional SQLite spec store,
// and injects their container edits into OCI runtime specs on request.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/cdicache/migrations"

	"github.com/nerrad567/cdicache/internal/api"
	"github.com/nerrad567/cdicache/internal/cdi"
	"github.com/nerrad567/cdicache/internal/events"
	"github.com/nerrad567/cdicache/internal/infrastructure/config"
	"github.com/nerrad567/cdicache/internal/infrastructure/database"
	"github.com/nerrad567/cdicache/internal/infrastructure/influxdb"
	"github.com/nerrad567/cdicache/internal/infrastructure/logging"
	"github.com/nerrad567/cdicache/internal/infrastructure/mqtt"
	"github.com/nerrad567/cdicache/internal/specstore"
)

// Set at build time: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until ctx is cancelled.
//
// Startup order: config, logger, spec store, MQTT, InfluxDB, event
// dispatcher, default cache, refresh trigger, API. Shutdown runs in
// reverse.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting cdicache", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	policy, err := cdi.ParseConflictPolicy(cfg.Cache.ConflictPolicy)
	if err != nil {
		return fmt.Errorf("cache conflict policy: %w", err)
	}

	// Spec store (optional)
	var (
		db    *database.DB
		store *specstore.Store
	)
	if cfg.Store.Enabled {
		db, store, err = openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	} else {
		log.Info("spec store disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic_prefix", mqttClient.Topics().Prefix(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	dispatcher := newDispatcher(cfg, mqttClient, influxClient, log)
	dispatcher.Start()
	defer dispatcher.Close()

	// Default cache
	if err := cdi.Configure(cacheOptions(cfg, policy, store, dispatcher, log)...); err != nil {
		return fmt.Errorf("configuring device cache: %w", err)
	}
	defer func() {
		// Detach before the dispatcher closes so no report is queued after it.
		if err := cdi.Configure(cdi.WithObserver(nil)); err != nil {
			log.Error("detaching cache observer", "error", err)
		}
	}()

	if !cfg.Cache.AutoRefresh {
		if err := cdi.Refresh(); err != nil {
			log.Warn("initial cache refresh failed", "error", err)
		}
	}
	cache := cdi.GetDefaultCache()
	log.Info("device cache ready",
		"generation", cache.Generation(),
		"devices", len(cache.ListDevices()),
		"sources", cache.Sources(),
		"conflict_policy", policy.String(),
	)

	if mqttClient != nil {
		trigger := events.NewRefreshTrigger(cache, log)
		if err := trigger.Subscribe(mqttClient, mqttClient.Topics().RefreshCommand(), byte(cfg.MQTT.QoS)); err != nil {
			return err
		}
	}

	// API server
	deps := api.Deps{Config: cfg.API, Logger: log, Cache: cache, Version: version}
	if store != nil {
		deps.Store = store
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up", "dropped_events", dispatcher.Dropped())
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("CDICACHE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *specstore.Store, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("spec store ready", "path", cfg.Database.Path, "source_id", cfg.Store.SourceID)
	return db, specstore.New(db.DB, cfg.Store.SourceID), nil
}

// newDispatcher builds the cache observer. Disabled outputs stay nil
// interfaces so the dispatcher skips them.
func newDispatcher(cfg *config.Config, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) *events.Dispatcher {
	opts := events.Options{
		Topics: mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		Logger: log,
	}
	if mqttClient != nil {
		opts.Publisher = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	return events.NewDispatcher(opts)
}

// cacheOptions replaces the default cache's sources with the configured
// ones: spec directories first, then the spec store.
func cacheOptions(cfg *config.Config, policy cdi.ConflictPolicy, store *specstore.Store, observer cdi.Observer, log *logging.Logger) []cdi.Option {
	opts := []cdi.Option{
		cdi.WithLogger(log),
		cdi.WithObserver(observer),
		cdi.WithConflictPolicy(policy),
		cdi.WithoutSources(),
		cdi.WithSpecDirs(cfg.Cache.SpecDirs...),
	}
	if store != nil {
		opts = append(opts, cdi.WithSource(store))
	}
	return append(opts, cdi.WithAutoRefresh(cfg.Cache.AutoRefresh))
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	var errs []error
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if err := server.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}
	return errors.Join(errs...)
}
