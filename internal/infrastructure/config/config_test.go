package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "meterlog.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// validConfig returns the defaults plus one meter, which passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Meters = []MeterConfig{{
		ID:       "10.0.0.5",
		Address:  "10.0.0.5",
		Port:     5000,
		Channels: []string{"1", "2"},
	}}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
  timezone: "Europe/Budapest"
storage:
  workdir: "/tmp/meterlog"
  busy_timeout: 2
meters:
  - address: "10.0.0.5"
    port: 5000
    channels: ["1", "2"]
  - id: "kitchen"
    address: "10.0.0.6"
    port: 5000
    channels: ["3"]
    timezone: "Europe/London"
polling:
  interval: 600
  timeout: 2500
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Storage.WorkDir != "/tmp/meterlog" {
		t.Errorf("Storage.WorkDir = %q, want %q", cfg.Storage.WorkDir, "/tmp/meterlog")
	}
	if len(cfg.Meters) != 2 {
		t.Fatalf("len(Meters) = %d, want 2", len(cfg.Meters))
	}
	if cfg.Meters[0].ID != "10.0.0.5" {
		t.Errorf("Meters[0].ID = %q, want address fallback %q", cfg.Meters[0].ID, "10.0.0.5")
	}
	if cfg.Meters[1].Timezone != "Europe/London" {
		t.Errorf("Meters[1].Timezone = %q, want %q", cfg.Meters[1].Timezone, "Europe/London")
	}
	if cfg.GetPollTimeout() != 2500*time.Millisecond {
		t.Errorf("GetPollTimeout() = %v, want 2.5s", cfg.GetPollTimeout())
	}
	// Unset values keep their defaults.
	if cfg.Polling.LastChannel != 13 {
		t.Errorf("Polling.LastChannel = %d, want 13", cfg.Polling.LastChannel)
	}
	if cfg.Storage.ShardTimezone != "UTC" {
		t.Errorf("Storage.ShardTimezone = %q, want UTC", cfg.Storage.ShardTimezone)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/meterlog.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
meters:
  - address: "10.0.0.5"
    port: 5000
    channels: ["1"]
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "no meters is allowed",
			mutate: func(c *Config) { c.Meters = nil },
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "unknown site timezone",
			mutate:  func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
			wantErr: "site.timezone",
		},
		{
			name:    "missing workdir",
			mutate:  func(c *Config) { c.Storage.WorkDir = "" },
			wantErr: "storage.workdir",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Polling.Interval = 0 },
			wantErr: "polling.interval",
		},
		{
			name:    "last channel out of range",
			mutate:  func(c *Config) { c.Polling.LastChannel = 100 },
			wantErr: "polling.last_channel",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "duplicate meter id",
			mutate: func(c *Config) {
				c.Meters = append(c.Meters, c.Meters[0])
			},
			wantErr: "is duplicated",
		},
		{
			name:    "meter id with path separator",
			mutate:  func(c *Config) { c.Meters[0].ID = "../etc" },
			wantErr: "directory name",
		},
		{
			name:    "meter without channels",
			mutate:  func(c *Config) { c.Meters[0].Channels = nil },
			wantErr: "at least one channel",
		},
		{
			name:    "three digit channel",
			mutate:  func(c *Config) { c.Meters[0].Channels = []string{"100"} },
			wantErr: "one or two digit",
		},
		{
			name:    "meter port missing",
			mutate:  func(c *Config) { c.Meters[0].Port = 0 },
			wantErr: "meters[0].port",
		},
		{
			name:    "unknown meter timezone",
			mutate:  func(c *Config) { c.Meters[0].Timezone = "Nowhere/Town" },
			wantErr: "meters[0].timezone",
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	for _, want := range []string{"site.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Storage: StorageConfig{BusyTimeout: 3},
		Polling: PollingConfig{Interval: 900, Timeout: 5000},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetPollInterval(); got != 15*time.Minute {
		t.Errorf("GetPollInterval() = %v, want 15m", got)
	}
	if got := cfg.GetPollTimeout(); got != 5*time.Second {
		t.Errorf("GetPollTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetBusyTimeout(); got != 3*time.Second {
		t.Errorf("GetBusyTimeout() = %v, want 3s", got)
	}
}

func TestConfig_Meter(t *testing.T) {
	cfg := validConfig()

	m, ok := cfg.Meter("10.0.0.5")
	if !ok {
		t.Fatal("Meter() ok = false, want true")
	}
	if m.Port != 5000 {
		t.Errorf("Meter().Port = %d, want 5000", m.Port)
	}

	if _, ok := cfg.Meter("missing"); ok {
		t.Error("Meter(missing) ok = true, want false")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("METERLOG_WORKDIR", "/srv/meters")
	t.Setenv("METERLOG_MQTT_HOST", "mqtt.example.com")
	t.Setenv("METERLOG_MQTT_USERNAME", "testuser")
	t.Setenv("METERLOG_MQTT_PASSWORD", "testpass")
	t.Setenv("METERLOG_API_HOST", "192.168.1.1")
	t.Setenv("METERLOG_API_PORT", "9090")
	t.Setenv("METERLOG_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("METERLOG_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Storage.WorkDir != "/srv/meters" {
		t.Errorf("Storage.WorkDir = %q, want %q", cfg.Storage.WorkDir, "/srv/meters")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("METERLOG_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Storage.WorkDir == "" {
		t.Error("defaultConfig should have non-empty Storage.WorkDir")
	}
	if cfg.Polling.Timeout != 5000 {
		t.Errorf("defaultConfig Polling.Timeout = %d, want 5000", cfg.Polling.Timeout)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
