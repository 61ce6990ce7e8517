package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Poll            PollConfig        `yaml:"poll"`
	Relay           RelayConfig       `yaml:"relay"`
	Scene           SceneConfig       `yaml:"scene"`
	Flash           FlashConfig       `yaml:"flash"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	API             APIConfig         `yaml:"api"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig    `yaml:"influxdb"`
	Hue             HueConfig         `yaml:"hue"`
	Script          string            `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops

	// Inventory
	Devices   []DeviceConfig   `yaml:"devices"`
	Variables []VariableConfig `yaml:"variables"`

	// path is the file the config was loaded from
	path string
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig controls the reconciliation loop
type PollConfig struct {
	Interval Duration `yaml:"interval"`
}

// RelayConfig controls relay-pair devices
type RelayConfig struct {
	ApplyDelay Duration `yaml:"apply_delay"` // Delay between the visible change and the relay writes
}

// SceneConfig controls scene devices
type SceneConfig struct {
	RecheckDelay Duration `yaml:"recheck_delay"`
	ApplyRateRPS float64  `yaml:"apply_rate_rps"` // Device writes per second while applying a snapshot, 0 = unlimited
}

// FlashConfig holds the defaults of flash requests
type FlashConfig struct {
	Count    int      `yaml:"count"`
	Duration Duration `yaml:"duration"`
	Gap      Duration `yaml:"gap"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// APIConfig contains command API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// MQTTConfig contains MQTT broker connection settings
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	TLS         bool     `yaml:"tls"`
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	QoS         int      `yaml:"qos"`
	TopicPrefix string   `yaml:"topic_prefix"`
	RetryMin    Duration `yaml:"retry_min"`
	RetryMax    Duration `yaml:"retry_max"`
}

// GetQoS returns the QoS level clamped to 0..2
func (c *MQTTConfig) GetQoS() byte {
	switch {
	case c.QoS < 0:
		return 0
	case c.QoS > 2:
		return 2
	}
	return byte(c.QoS)
}

// InfluxDBConfig contains telemetry settings
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// HueConfig contains Hue bridge settings. Lights of the bridge are exposed as
// dimmer devices with ids "hue-<light id>".
type HueConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Bridge       string   `yaml:"bridge"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`       // HTTP timeout for Hue API requests
	PollInterval Duration `yaml:"poll_interval"` // How often light state is read back
}

// DeviceConfig declares one device of the inventory
type DeviceConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Class      string            `yaml:"class"` // native class, ignored for plugin types
	Type       string            `yaml:"type"`  // plugin device type
	OnState    bool              `yaml:"on"`
	Brightness int               `yaml:"brightness"`
	Props      map[string]string `yaml:"props"`
	States     map[string]any    `yaml:"states"`
}

// VariableConfig declares one variable of the inventory
type VariableConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse parses configuration YAML, expanding environment variables and
// applying defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lighttools.sqlite"
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(time.Second)
	}
	if cfg.Relay.ApplyDelay == 0 {
		cfg.Relay.ApplyDelay = Duration(time.Second)
	}
	if cfg.Scene.RecheckDelay == 0 {
		cfg.Scene.RecheckDelay = Duration(10 * time.Second)
	}

	// Flash defaults: three half-second flashes
	if cfg.Flash.Count == 0 {
		cfg.Flash.Count = 3
	}
	if cfg.Flash.Duration == 0 {
		cfg.Flash.Duration = Duration(500 * time.Millisecond)
	}
	if cfg.Flash.Gap == 0 {
		cfg.Flash.Gap = Duration(500 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.Host == "" {
		cfg.MQTT.Host = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lighttools"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lighttools"
	}
	if cfg.MQTT.RetryMin == 0 {
		cfg.MQTT.RetryMin = Duration(time.Second)
	}
	if cfg.MQTT.RetryMax == 0 {
		cfg.MQTT.RetryMax = Duration(time.Minute)
	}

	// InfluxDB defaults
	if cfg.InfluxDB.BatchSize == 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval == 0 {
		cfg.InfluxDB.FlushInterval = Duration(10 * time.Second)
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(10 * time.Second)
	}
	if cfg.Hue.PollInterval == 0 {
		cfg.Hue.PollInterval = Duration(5 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the inventory for missing and duplicate ids
func (cfg *Config) Validate() error {
	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("devices[%d]: missing id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
	}

	seen = make(map[string]bool, len(cfg.Variables))
	for i, v := range cfg.Variables {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("variables[%d]: missing id", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("variables[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
	}

	if cfg.Flash.Count < 0 {
		return fmt.Errorf("flash.count must not be negative")
	}
	if cfg.Scene.ApplyRateRPS < 0 {
		return fmt.Errorf("scene.apply_rate_rps must not be negative")
	}
	return nil
}

// ScriptPath returns the Lua script path, or "" when none is configured.
// Relative paths are resolved against the config file's directory.
func (cfg *Config) ScriptPath() string {
	if cfg.Script == "" || filepath.IsAbs(cfg.Script) || cfg.path == "" {
		return cfg.Script
	}
	return filepath.Join(filepath.Dir(cfg.path), cfg.Script)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
