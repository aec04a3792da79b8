package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when OWBRIDGE_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for owbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	OneWire  OneWireConfig  `yaml:"onewire"`
	Binding  BindingConfig  `yaml:"binding"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// HealthInterval is the health publish period in seconds.
	// Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// OneWireConfig contains the bus transport settings.
type OneWireConfig struct {
	// MountPath is the root of the OWFS (or sysfs w1) mount.
	// Default: "/mnt/1wire"
	MountPath string `yaml:"mount_path"`

	// Retries is how often a failed read is repeated.
	// Default: 2
	Retries int `yaml:"retries"`

	// Timeout bounds a single read or write.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// Daemon optionally runs owfs itself to provide the mount.
	Daemon DaemonConfig `yaml:"daemon"`
}

// DaemonConfig controls the supervised owfs process.
type DaemonConfig struct {
	// Managed starts owfs as a child process. When false the mount is
	// expected to be provided externally.
	Managed bool `yaml:"managed"`

	// Binary is the owfs executable.
	// Default: "/usr/bin/owfs"
	Binary string `yaml:"binary"`

	// Adapter are the owfs device arguments, e.g. ["-u"] for a USB
	// adapter, ["-d", "/dev/ttyUSB0"] for a serial one or
	// ["-s", "localhost:4304"] for an owserver.
	// Default: ["-u"]
	Adapter []string `yaml:"adapter"`

	// Args are passed to owfs after the adapter arguments.
	Args []string `yaml:"args"`

	// RestartDelay is the first restart delay in seconds. It doubles after
	// each failure.
	// Default: 5
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// BindingConfig contains the item binding and refresh settings.
type BindingConfig struct {
	File string `yaml:"bindings_file"`

	// PostOnlyChangedValues suppresses publishing a value equal to the
	// last published one.
	// Default: true
	PostOnlyChangedValues bool `yaml:"post_only_changed_values"`

	// Watch reloads the bindings file when it changes on disk.
	Watch bool `yaml:"watch"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	// DemandQueue is the buffer size of the demand update channel.
	// Default: 256
	DemandQueue int `yaml:"demand_queue"`
}

// SchedulerConfig bounds the refresh scheduler.
type SchedulerConfig struct {
	// MaxJobs is the maximum number of recurring refresh jobs.
	// Default: 1024
	MaxJobs int `yaml:"max_jobs"`

	// Workers is the number of concurrent device reads.
	// Default: 4
	Workers int `yaml:"workers"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the first level of every topic.
	// Default: "onewire"
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String redacts the password.
func (a MQTTAuthConfig) String() string {
	return fmt.Sprintf("{Username:%s Password:%s}", a.Username, redact(a.Password))
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	History     HistoryConfig `yaml:"history"`
}

// HistoryConfig controls the published state history.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long entries are kept.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`

	// PruneInterval is the pruning period in minutes.
	// Default: 60
	PruneInterval int `yaml:"prune_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// String redacts the token.
func (c InfluxDBConfig) String() string {
	return fmt.Sprintf("{Enabled:%t URL:%s Org:%s Bucket:%s Token:%s}",
		c.Enabled, c.URL, c.Org, c.Bucket, redact(c.Token))
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PathFromEnv returns OWBRIDGE_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if v := os.Getenv("OWBRIDGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern OWBRIDGE_SECTION_KEY,
// for example OWBRIDGE_ONEWIRE_MOUNT_PATH or OWBRIDGE_MQTT_HOST.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "owbridge-01",
			HealthInterval: 30,
		},
		OneWire: OneWireConfig{
			MountPath: "/mnt/1wire",
			Retries:   2,
			Timeout:   5 * time.Second,
			Daemon: DaemonConfig{
				Binary:       "/usr/bin/owfs",
				Adapter:      []string{"-u"},
				RestartDelay: 5,
			},
		},
		Binding: BindingConfig{
			File:                  "configs/bindings.yaml",
			PostOnlyChangedValues: true,
			Watch:                 true,
			Scheduler: SchedulerConfig{
				MaxJobs: 1024,
				Workers: 4,
			},
			DemandQueue: 256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "onewire",
		},
		Database: DatabaseConfig{
			Path:        "./data/owbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			History: HistoryConfig{
				Enabled:       true,
				RetentionDays: 30,
				PruneInterval: 60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: ":9109",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OWBRIDGE_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	// Bus
	if v := os.Getenv("OWBRIDGE_ONEWIRE_MOUNT_PATH"); v != "" {
		cfg.OneWire.MountPath = v
	}

	// Bindings
	if v := os.Getenv("OWBRIDGE_BINDINGS_FILE"); v != "" {
		cfg.Binding.File = v
	}

	// Database
	if v := os.Getenv("OWBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OWBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OWBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("OWBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OWBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("OWBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("OWBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1")
	}

	errs = append(errs, c.validateOneWire()...)
	errs = append(errs, c.validateBinding()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateStorage()...)

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateOneWire() []string {
	var errs []string
	if c.OneWire.MountPath == "" {
		errs = append(errs, "onewire.mount_path is required")
	}
	if c.OneWire.Retries < 0 {
		errs = append(errs, "onewire.retries must not be negative")
	}
	if c.OneWire.Timeout <= 0 {
		errs = append(errs, "onewire.timeout must be positive")
	}
	if d := c.OneWire.Daemon; d.Managed {
		if d.Binary == "" {
			errs = append(errs, "onewire.daemon.binary is required when managed")
		}
		if len(d.Adapter) == 0 {
			errs = append(errs, "onewire.daemon.adapter is required when managed")
		}
		if d.RestartDelay < 1 {
			errs = append(errs, "onewire.daemon.restart_delay must be at least 1")
		}
		if d.MaxRestartAttempts < 0 {
			errs = append(errs, "onewire.daemon.max_restart_attempts must not be negative")
		}
	}
	return errs
}

func (c *Config) validateBinding() []string {
	var errs []string
	if c.Binding.File == "" {
		errs = append(errs, "binding.bindings_file is required")
	}
	if c.Binding.Scheduler.MaxJobs < 1 {
		errs = append(errs, "binding.scheduler.max_jobs must be at least 1")
	}
	if c.Binding.Scheduler.Workers < 1 {
		errs = append(errs, "binding.scheduler.workers must be at least 1")
	}
	if c.Binding.DemandQueue < 1 {
		errs = append(errs, "binding.demand_queue must be at least 1")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and contain no wildcards")
	}
	return errs
}

func (c *Config) validateStorage() []string {
	var errs []string
	if c.Database.History.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when history is enabled")
		}
		if c.Database.History.RetentionDays < 1 {
			errs = append(errs, "database.history.retention_days must be at least 1")
		}
		if c.Database.History.PruneInterval < 1 {
			errs = append(errs, "database.history.prune_interval must be at least 1")
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}
	return errs
}

// GetHealthInterval returns the health publish period.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetHistoryRetention returns how long history entries are kept.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.History.RetentionDays) * 24 * time.Hour
}

// GetPruneInterval returns the history pruning period.
func (c *Config) GetPruneInterval() time.Duration {
	return time.Duration(c.Database.History.PruneInterval) * time.Minute
}

// GetDaemonRestartDelay returns the first owfs restart delay.
func (c *Config) GetDaemonRestartDelay() time.Duration {
	return time.Duration(c.OneWire.Daemon.RestartDelay) * time.Second
}

// GetMQTTClientID returns the configured client ID, or one derived from
// the bridge ID.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return "owbridge-" + c.Bridge.ID
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
