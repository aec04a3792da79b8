// owbridge - 1-Wire to MQTT bridge
//
// owbridge reads 1-Wire device properties from an owfs mount on a
// per-item schedule and publishes them as retained MQTT state messages.
// Commands received over MQTT are written back to the bus.
//
// Configuration is read from configs/config.yaml (override with
// OWBRIDGE_CONFIG). Send SIGHUP to reload the runtime settings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
	"github.com/nerrad567/gray-logic-onewire/internal/bridges/onewire"
	"github.com/nerrad567/gray-logic-onewire/internal/history"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-onewire/internal/owfs"
	"github.com/nerrad567/gray-logic-onewire/internal/owfsd"
	"github.com/nerrad567/gray-logic-onewire/internal/scheduler"
	"github.com/nerrad567/gray-logic-onewire/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting owbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
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

	// State history (optional)
	var (
		db          *database.DB
		historyRepo onewire.HistoryRecorder
	)
	if cfg.Database.History.Enabled {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		repo := history.NewSQLiteRepository(db.DB)
		historyRepo = repo
		go history.RunPruner(ctx, repo, cfg.GetHistoryRetention(), cfg.GetPruneInterval(), log)
	} else {
		log.Info("state history disabled")
	}

	// Connect to MQTT broker
	cfg.MQTT.Broker.ClientID = cfg.GetMQTTClientID()
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		readings     onewire.ReadingRecorder
	)
	influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		readings = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	settings := onewire.SettingsFromConfig(cfg)

	if cfg.OneWire.Daemon.Managed {
		daemon, daemonErr := startOWFS(ctx, cfg, log)
		if daemonErr != nil {
			return fmt.Errorf("starting owfs: %w", daemonErr)
		}
		defer func() {
			log.Info("stopping owfs")
			if stopErr := daemon.Stop(); stopErr != nil {
				log.Error("error stopping owfs", "error", stopErr)
			}
		}()
	}

	bus, err := owfs.New(settings.Bus)
	if err != nil {
		return fmt.Errorf("opening owfs mount: %w", err)
	}
	bus.SetLogger(log)
	log.Info("owfs transport ready", "mount", settings.Bus.MountPath)

	registry := binding.NewRegistry(0)
	registry.SetLogger(log)
	defer registry.Close()
	if err := binding.LoadInto(registry, cfg.Binding.File); err != nil {
		return fmt.Errorf("loading bindings: %w", err)
	}
	log.Info("bindings loaded", "path", cfg.Binding.File, "bindings", registry.Len())

	topics := onewire.NewTopics(cfg.MQTT.TopicPrefix)
	// #nosec G115 -- QoS validated to 0..2 by config
	qos := byte(cfg.MQTT.QoS)
	metrics := onewire.NewMetrics()

	sched := scheduler.New(scheduler.Options{
		MaxJobs: cfg.Binding.Scheduler.MaxJobs,
		Workers: cfg.Binding.Scheduler.Workers,
		Logger:  log,
	})

	sink, err := onewire.NewMQTTSink(onewire.SinkOptions{
		Publisher: mqttClient,
		Provider:  registry,
		Topics:    topics,
		QoS:       qos,
		History:   historyRepo,
		Readings:  readings,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating state sink: %w", err)
	}

	rt, err := onewire.New(onewire.Options{
		Scheduler:   sched,
		Provider:    registry,
		Bus:         bus,
		Sink:        sink,
		Settings:    settings,
		DemandQueue: cfg.Binding.DemandQueue,
		Metrics:     metrics,
		Logger:      log,
	})
	if err != nil {
		sched.Stop()
		return fmt.Errorf("creating runtime: %w", err)
	}
	sched.SetListener(rt)
	rt.Start(ctx)
	defer func() {
		log.Info("stopping binding runtime")
		rt.Stop()
	}()

	if cfg.Binding.Watch {
		watcher := binding.NewWatcher(cfg.Binding.File, registry, log)
		go func() {
			if watchErr := watcher.Run(ctx); watchErr != nil {
				log.Error("bindings watcher stopped", "error", watchErr)
			}
		}()
	}

	bridge, err := onewire.NewBridge(onewire.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Topics:         topics,
		QoS:            qos,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Runtime:        rt,
		Bindings:       registry,
		Bus:            bus,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started", "bridge_id", cfg.Bridge.ID, "topic_prefix", cfg.MQTT.TopicPrefix)

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics.Listen, newMetricsRegistry(metrics), bridge)
		go func() {
			if serveErr := serveMetrics(srv); serveErr != nil {
				log.Error("metrics server failed", "error", serveErr)
			}
		}()
		defer shutdownMetrics(srv, log)
		log.Info("metrics server listening", "listen", cfg.Metrics.Listen)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			// Deferred calls run in reverse order: metrics, bridge,
			// runtime, owfs, InfluxDB, MQTT, database.
			return nil
		case <-hup:
			if reloadErr := reloadSettings(ctx, configPath, rt, log); reloadErr != nil {
				log.Error("settings reload failed, keeping current settings", "error", reloadErr)
			}
		}
	}
}

// openDatabase opens the SQLite file and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)
	return db, nil
}

// startOWFS launches the supervised owfs daemon on the configured mount.
func startOWFS(ctx context.Context, cfg *config.Config, log *logging.Logger) (*owfsd.Supervisor, error) {
	d := cfg.OneWire.Daemon
	sup, err := owfsd.New(owfsd.Config{
		Binary:             d.Binary,
		MountPath:          cfg.OneWire.MountPath,
		Adapter:            d.Adapter,
		Args:               d.Args,
		RestartDelay:       cfg.GetDaemonRestartDelay(),
		MaxRestartAttempts: d.MaxRestartAttempts,
		HealthCheck:        owfsd.MountCheck(cfg.OneWire.MountPath),
	})
	if err != nil {
		return nil, err
	}
	sup.SetLogger(log)

	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("owfs supervised", "binary", d.Binary, "mount", cfg.OneWire.MountPath)
	return sup, nil
}

// reloadSettings re-reads the config file and applies the parts that can
// change without a restart: the log level, value suppression and the
// bus parameters.
func reloadSettings(ctx context.Context, path string, rt *onewire.Runtime, log *logging.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := rt.UpdateSettings(ctx, onewire.SettingsFromConfig(cfg)); err != nil {
		return err
	}
	log.SetLevel(cfg.Logging.Level)
	log.Info("settings reloaded", "path", path, "level", cfg.Logging.Level)
	return nil
}

// healthCheck verifies the infrastructure connections. db and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The owfs mount is not checked: the runtime defers its topology
	// reset until the bus becomes available.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements onewire.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements onewire.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements onewire.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
