package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-voice/migrations"

	"github.com/nerrad567/gray-logic-voice/internal/api"
	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/backend"
	_ "github.com/nerrad567/gray-logic-voice/internal/backend/homeassistant"
	_ "github.com/nerrad567/gray-logic-voice/internal/backend/mqttbackend"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/inference"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-voice/internal/topic"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice core and its admin API",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// pipeline groups what the core holds for one configured backend.
type pipeline struct {
	cfg      config.BackendConfig
	client   backend.Backend
	registry *device.Registry
	executor *dispatch.Executor
}

// run is the actual application logic, separated from the command for
// testability. It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Voice",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	// The broker is only needed when a backend speaks MQTT.
	var mqttClient *mqtt.Client
	var broker backend.Broker
	if cfg.HasMQTTBackend() {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		broker = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Grammar provider with a persistent artifact store
	profiles, err := loadProfiles(cfg.Grammar)
	if err != nil {
		return err
	}
	store, err := grammar.NewBadgerStore(grammar.BadgerOptions{Dir: cfg.Grammar.CacheDir, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing grammar store", "error", closeErr)
		}
	}()
	grammars := grammar.NewProvider(grammar.NewCache(), profiles)
	grammars.SetLogger(log)
	grammars.SetStore(store)

	pipelines, err := buildPipelines(ctx, cfg, db, broker, log)
	if err != nil {
		return err
	}

	history := dispatch.NewHistory(cfg.History.Size)
	topicPipelines := make(map[string]topic.Pipeline, len(pipelines))
	apiBackends := make(map[string]api.Backend, len(pipelines))
	for id, p := range pipelines {
		topicPipelines[id] = topic.Pipeline{Registry: p.registry, Executor: p.executor}
		apiBackends[id] = api.Backend{Client: p.client, Registry: p.registry}
	}

	topics := topic.NewManager(topic.NewSQLiteRepository(db.DB), topicPipelines, grammars, inference.NewOpenAIEngine(cfg.Inference), history)
	topics.SetLogger(log)
	if err := topics.Load(ctx); err != nil {
		return err
	}
	if err := topics.Seed(ctx, cfg.Topics); err != nil {
		return err
	}
	if influxClient != nil {
		topics.OnResult(func(res *dispatch.Result) {
			influxClient.WriteCommandTiming(commandTiming(res))
		})
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Backends:  apiBackends,
		Topics:    topics,
		Grammars:  grammars,
		History:   history,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Sync runs after the server is up so the resulting mapping and
	// grammar events reach subscribers.
	for id, p := range pipelines {
		if p.cfg.SyncOnStart {
			syncBackend(ctx, p, log)
		}
		if _, err := grammars.Document(ctx, p.registry.Snapshot()); err != nil {
			log.Warn("initial grammar generation failed", "backend", id, "error", err)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, grammar
	// store, InfluxDB, MQTT, database.

	log.Info("Gray Logic Voice stopped")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// loadRegistry restores the mapping record of one backend.
func loadRegistry(ctx context.Context, db *database.DB, backendID string, log *logging.Logger) (*device.Registry, error) {
	reg := device.NewRegistry(backendID, device.NewSQLiteRepository(db.DB))
	reg.SetLogger(log)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading registry %q: %w", backendID, err)
	}
	return reg, nil
}

// buildPipelines creates the client, registry and executor of every
// configured backend.
func buildPipelines(ctx context.Context, cfg *config.Config, db *database.DB, broker backend.Broker, log *logging.Logger) (map[string]*pipeline, error) {
	out := make(map[string]*pipeline, len(cfg.Backends))
	for _, bcfg := range cfg.Backends {
		client, err := backend.New(bcfg, backend.Deps{Logger: log, MQTT: broker})
		if err != nil {
			return nil, err
		}
		reg, err := loadRegistry(ctx, db, bcfg.ID, log)
		if err != nil {
			return nil, err
		}

		exec := dispatch.NewExecutor(client,
			dispatch.NewBackendResolver(reg, bcfg, log),
			dispatch.DefaultVerbs().WithOverrides(bcfg.Verbs),
			time.Duration(bcfg.Timeout)*time.Second,
		)
		exec.SetLogger(log)

		out[bcfg.ID] = &pipeline{cfg: bcfg, client: client, registry: reg, executor: exec}
		log.Info("backend ready",
			"backend", bcfg.ID,
			"type", bcfg.Type,
			"devices", len(reg.Snapshot().Devices()),
		)
	}
	return out, nil
}

// syncBackend refreshes a registry from its backend. An unreachable
// backend is not fatal; the stored mapping keeps serving.
func syncBackend(ctx context.Context, p *pipeline, log *logging.Logger) {
	res, err := backend.Sync(ctx, p.client, p.registry, false)
	if err != nil {
		log.Warn("initial backend sync failed", "backend", p.cfg.ID, "error", err)
		return
	}
	log.Info("backend synced",
		"backend", p.cfg.ID,
		"revision", res.Revision,
		"added", len(res.Added),
		"updated", res.Updated,
		"conflicts", len(res.Conflicts),
	)
}

// loadProfiles merges configured action profiles over the defaults.
func loadProfiles(cfg config.GrammarConfig) (grammar.Profiles, error) {
	overrides := make(grammar.Profiles, len(cfg.ActionProfiles))
	for deviceType, actions := range cfg.ActionProfiles {
		name := device.NormalizeName(deviceType)
		for _, a := range actions {
			kind, err := grammar.ParseValueKind(a.Value)
			if err != nil {
				return nil, fmt.Errorf("action profile %s.%s: %w", deviceType, a.Name, err)
			}
			overrides[name] = append(overrides[name], grammar.Action{Name: a.Name, Value: kind})
		}
	}
	return grammar.DefaultProfiles().Merge(overrides), nil
}

// commandTiming converts an invocation into an InfluxDB timing point.
func commandTiming(res *dispatch.Result) influxdb.CommandTiming {
	t := influxdb.CommandTiming{
		Topic:         res.Topic,
		Backend:       res.Backend,
		MappingSource: string(res.MappingSource),
		Outcome:       string(res.Outcome),
		Stages:        res.Timings.Stages(),
		At:            res.CompletedAt,
	}
	if res.Command != nil {
		t.DeviceType = res.Command.DeviceType
		t.Location = res.Command.Location
		t.Action = res.Command.Action
	}
	return t
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when not in use.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
