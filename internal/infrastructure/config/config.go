package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Relay Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	MQTT     MQTT     `yaml:"mqtt"`
	API      API      `yaml:"api"`
	Security Security `yaml:"security"`
	Sessions Sessions `yaml:"sessions"`
	Queue    Queue    `yaml:"queue"`
	Logging  Logging  `yaml:"logging"`
}

// Database contains SQLite database settings.
type Database struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Redis contains Redis connection settings for the session store
// and the publish queue backing.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTT contains MQTT broker connection settings.
type MQTT struct {
	Broker    MQTTBroker    `yaml:"broker"`
	Auth      MQTTAuth      `yaml:"auth"`
	QoS       int           `yaml:"qos"`
	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// MQTTBroker contains MQTT broker connection details.
type MQTTBroker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuth contains MQTT authentication credentials.
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnect contains MQTT reconnection settings (seconds).
type MQTTReconnect struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// API contains HTTP API server settings.
type API struct {
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	TLS      TLS         `yaml:"tls"`
	Timeouts APITimeouts `yaml:"timeouts"`
	CORS     CORS        `yaml:"cors"`
}

// TLS contains TLS certificate settings.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeouts contains HTTP timeout settings (seconds).
type APITimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORS contains Cross-Origin Resource Sharing settings.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// Security contains security settings.
type Security struct {
	JWT JWT `yaml:"jwt"`
}

// JWT contains bearer token settings. The token TTL is independent of the
// session TTL; the effective expiry of a login is the earlier of the two.
type JWT struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Sessions contains session store settings.
type Sessions struct {
	TTL int `yaml:"ttl"` // seconds
}

// Queue contains publish queue settings.
type Queue struct {
	Concurrency        int `yaml:"concurrency"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffBase        int `yaml:"backoff_base"`        // milliseconds, doubles per attempt
	FailedRetention    int `yaml:"failed_retention"`    // max failed jobs kept
	CompletedRetention int `yaml:"completed_retention"` // max completed job records kept
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYBRIDGE_SECTION_KEY
// For example: RELAYBRIDGE_DATABASE_PATH, RELAYBRIDGE_REDIS_ADDR
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Path:        "./data/relaybridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		MQTT: MQTT{
			Broker: MQTTBroker{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaybridge-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnect{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: API{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeouts{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Security: Security{
			JWT: JWT{
				AccessTokenTTL: 60,
			},
		},
		Sessions: Sessions{
			TTL: 86400,
		},
		Queue: Queue{
			Concurrency:        4,
			MaxAttempts:        3,
			BackoffBase:        2000,
			FailedRetention:    100,
			CompletedRetention: 100,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("RELAYBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Redis
	if v := os.Getenv("RELAYBRIDGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RELAYBRIDGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("RELAYBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("RELAYBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RELAYBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RELAYBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("RELAYBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Redis validation
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED.
	// An empty or weak secret would allow forged bearer tokens and full
	// access to every user's topics and sessions.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set RELAYBRIDGE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	// Session validation
	if c.Sessions.TTL <= 0 {
		errs = append(errs, "sessions.ttl must be positive")
	}

	// Queue validation
	if c.Queue.Concurrency < 1 {
		errs = append(errs, "queue.concurrency must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue.max_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TokenTTL returns the bearer token lifetime as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// SessionTTL returns the session store TTL as a Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTL) * time.Second
}

// BackoffBase returns the queue retry backoff base as a Duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBase) * time.Millisecond
}
