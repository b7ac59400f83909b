package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for meterlog.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Storage  StorageConfig  `yaml:"storage"`
	Polling  PollingConfig  `yaml:"polling"`
	Meters   []MeterConfig  `yaml:"meters"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Timezone is the reporting timezone used for rollups when neither the
	// request nor the meter names one.
	Timezone string `yaml:"timezone"`
}

// StorageConfig contains shard store settings.
type StorageConfig struct {
	// WorkDir is the root under which one directory per meter holds the
	// monthly SQLite shards.
	WorkDir string `yaml:"workdir"`

	// BusyTimeout is how long (seconds) a writer waits for the exclusive
	// shard lock before giving up.
	BusyTimeout int `yaml:"busy_timeout"`

	// ShardTimezone decides which calendar month a reading belongs to.
	ShardTimezone string `yaml:"shard_timezone"`
}

// PollingConfig contains poll scheduler settings.
type PollingConfig struct {
	Enabled     bool `yaml:"enabled"`
	Interval    int  `yaml:"interval"` // seconds
	Timeout     int  `yaml:"timeout"`  // milliseconds of socket inactivity
	Concurrency int  `yaml:"concurrency"`
	LastChannel int  `yaml:"last_channel"`
	RunOnStart  bool `yaml:"run_on_start"`
}

// MeterConfig describes one polled energy meter.
type MeterConfig struct {
	// ID names the meter's shard directory. Defaults to Address.
	ID       string   `yaml:"id"`
	Address  string   `yaml:"address"`
	Port     int      `yaml:"port"`
	Channels []string `yaml:"channels"`
	Timezone string   `yaml:"timezone,omitempty"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

var channelPattern = regexp.MustCompile(`^\d{1,2}$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: METERLOG_SECTION_KEY
// For example: METERLOG_WORKDIR, METERLOG_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyMeterDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "meterlog",
			Timezone: "UTC",
		},
		Storage: StorageConfig{
			WorkDir:       "./data",
			BusyTimeout:   5,
			ShardTimezone: "UTC",
		},
		Polling: PollingConfig{
			Enabled:     true,
			Interval:    900,
			Timeout:     5000,
			Concurrency: 4,
			LastChannel: 13,
			RunOnStart:  true,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meterlog",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: METERLOG_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERLOG_WORKDIR"); v != "" {
		cfg.Storage.WorkDir = v
	}

	// API
	if v := os.Getenv("METERLOG_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("METERLOG_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("METERLOG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("METERLOG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("METERLOG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("METERLOG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("METERLOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyMeterDefaults fills per-meter fields that fall back to another value.
func (c *Config) applyMeterDefaults() {
	for i := range c.Meters {
		m := &c.Meters[i]
		if m.ID == "" {
			m.ID = m.Address
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a known timezone", c.Site.Timezone))
	}

	// Storage validation
	if c.Storage.WorkDir == "" {
		errs = append(errs, "storage.workdir is required")
	}
	if c.Storage.BusyTimeout < 0 {
		errs = append(errs, "storage.busy_timeout must not be negative")
	}
	if _, err := time.LoadLocation(c.Storage.ShardTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("storage.shard_timezone %q is not a known timezone", c.Storage.ShardTimezone))
	}

	// Polling validation
	if c.Polling.Interval <= 0 {
		errs = append(errs, "polling.interval must be positive")
	}
	if c.Polling.Timeout <= 0 {
		errs = append(errs, "polling.timeout must be positive")
	}
	if c.Polling.Concurrency < 1 {
		errs = append(errs, "polling.concurrency must be at least 1")
	}
	if c.Polling.LastChannel < 1 || c.Polling.LastChannel > 99 {
		errs = append(errs, "polling.last_channel must be between 1 and 99")
	}

	errs = append(errs, c.validateMeters()...)

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateMeters() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Meters))

	for i, m := range c.Meters {
		prefix := fmt.Sprintf("meters[%d]", i)
		if m.Address == "" {
			errs = append(errs, prefix+".address is required")
		}
		if m.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if strings.ContainsAny(m.ID, `/\`) || m.ID == "." || m.ID == ".." {
			errs = append(errs, fmt.Sprintf("%s.id %q must be usable as a directory name", prefix, m.ID))
		} else if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, m.ID))
		}
		seen[m.ID] = true

		if m.Port < 1 || m.Port > 65535 {
			errs = append(errs, prefix+".port must be between 1 and 65535")
		}
		if len(m.Channels) == 0 {
			errs = append(errs, prefix+".channels must list at least one channel")
		}
		for _, ch := range m.Channels {
			if !channelPattern.MatchString(ch) {
				errs = append(errs, fmt.Sprintf("%s.channels entry %q must be a one or two digit number", prefix, ch))
			}
		}
		if m.Timezone != "" {
			if _, err := time.LoadLocation(m.Timezone); err != nil {
				errs = append(errs, fmt.Sprintf("%s.timezone %q is not a known timezone", prefix, m.Timezone))
			}
		}
	}

	return errs
}

// Meter returns the configured meter with the given ID.
func (c *Config) Meter(id string) (MeterConfig, bool) {
	for _, m := range c.Meters {
		if m.ID == id {
			return m, true
		}
	}
	return MeterConfig{}, false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetPollInterval returns the polling interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetPollTimeout returns the socket inactivity timeout as a Duration.
func (c *Config) GetPollTimeout() time.Duration {
	return time.Duration(c.Polling.Timeout) * time.Millisecond
}

// GetBusyTimeout returns the shard lock wait as a Duration.
func (c *Config) GetBusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeout) * time.Second
}
