package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Biolock Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Devices   DevicesConfig   `yaml:"devices"`
	Slots     SlotsConfig     `yaml:"slots"`
	Admin     AdminConfig     `yaml:"admin"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the directory store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	// SQLite settings.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// DSN is the Postgres connection string, used when Driver is "postgres".
	DSN string `yaml:"dsn"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the admin live event feed.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// RateLimitConfig contains per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// DevicesConfig holds the statically provisioned lock credentials.
type DevicesConfig struct {
	// APIKeys maps device ID to its shared secret.
	APIKeys map[string]string `yaml:"api_keys"`
}

// SlotsConfig tunes the fingerprint slot allocator.
type SlotsConfig struct {
	// MaxSlot is the highest slot number a lock can store (AS608: 999).
	MaxSlot int `yaml:"max_slot"`

	// MaxProbes bounds the random probes per claim.
	MaxProbes int `yaml:"max_probes"`

	// ReconcileInterval is the sweep period in seconds. 0 disables the
	// periodic sweep; a sweep still runs once at startup.
	ReconcileInterval int `yaml:"reconcile_interval"`
}

// AdminConfig holds the credentials used by --seed-admin.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BIOLOCK_SECTION_KEY
// For example: BIOLOCK_DATABASE_PATH, BIOLOCK_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/biolock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "biolock-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Devices: DevicesConfig{
			APIKeys: map[string]string{},
		},
		Slots: SlotsConfig{
			MaxSlot:           999,
			MaxProbes:         10,
			ReconcileInterval: 300,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		env    string
		target *string
	}{
		{"BIOLOCK_DATABASE_PATH", &cfg.Database.Path},
		{"BIOLOCK_DATABASE_DSN", &cfg.Database.DSN},
		{"BIOLOCK_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"BIOLOCK_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"BIOLOCK_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"BIOLOCK_API_HOST", &cfg.API.Host},
		{"BIOLOCK_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"BIOLOCK_JWT_SECRET", &cfg.Security.JWT.Secret},
		{"BIOLOCK_ADMIN_USERNAME", &cfg.Admin.Username},
		{"BIOLOCK_ADMIN_PASSWORD", &cfg.Admin.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	// BIOLOCK_DEVICE_KEYS="esp32-001=secret,esp32-002=other"
	if v := os.Getenv("BIOLOCK_DEVICE_KEYS"); v != "" {
		keys, err := ParseDeviceKeys(v)
		if err != nil {
			return err
		}
		if cfg.Devices.APIKeys == nil {
			cfg.Devices.APIKeys = make(map[string]string, len(keys))
		}
		for id, key := range keys {
			cfg.Devices.APIKeys[id] = key
		}
	}

	return nil
}

// ParseDeviceKeys parses a comma-separated list of id=key pairs.
func ParseDeviceKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, key, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		key = strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("malformed device key entry %q (want id=key)", pair)
		}
		keys[id] = key
	}
	return keys, nil
}

// deviceIDPattern matches IDs that are safe to embed in an MQTT topic level.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// minJWTSecretLength is the minimum accepted HMAC secret length.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver (set BIOLOCK_DATABASE_DSN)")
		}
	default:
		errs = append(errs, "database.driver must be sqlite or postgres")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Forged tokens would allow unlocking doors; no weak secrets.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set BIOLOCK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	for id, key := range c.Devices.APIKeys {
		if !deviceIDPattern.MatchString(id) {
			errs = append(errs, fmt.Sprintf("devices.api_keys: invalid device id %q", id))
		}
		if key == "" {
			errs = append(errs, fmt.Sprintf("devices.api_keys: empty key for device %q", id))
		}
	}

	if c.Slots.MaxSlot < 0 {
		errs = append(errs, "slots.max_slot must not be negative")
	}
	if c.Slots.MaxProbes < 1 {
		errs = append(errs, "slots.max_probes must be at least 1")
	}
	if c.Slots.ReconcileInterval < 0 {
		errs = append(errs, "slots.reconcile_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetReconcileInterval returns the slot reconciliation period.
func (c *Config) GetReconcileInterval() time.Duration {
	return time.Duration(c.Slots.ReconcileInterval) * time.Second
}
