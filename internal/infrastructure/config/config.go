package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Voice.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Inference InferenceConfig `yaml:"inference"`
	Grammar   GrammarConfig   `yaml:"grammar"`
	History   HistoryConfig   `yaml:"history"`
	Backends  []BackendConfig `yaml:"backends"`
	Topics    []TopicConfig   `yaml:"topics"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker is only dialled when at least one backend has type "mqtt".
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for command timing export.
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

// FileLoggingConfig contains rotating file log settings.
// Used when logging.output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes, for tokens minted by the CLI
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// InferenceConfig describes the OpenAI-compatible inference server that
// performs grammar-constrained sampling.
type InferenceConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Timeout      int     `yaml:"timeout"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// GrammarConfig contains grammar generation and cache settings.
type GrammarConfig struct {
	// CacheDir is the BadgerDB directory for persisted grammar artifacts.
	// Empty keeps the cache in memory only.
	CacheDir string `yaml:"cache_dir"`

	// ActionProfiles adds or replaces the action vocabulary of a device type.
	ActionProfiles map[string][]ActionConfig `yaml:"action_profiles"`
}

// ActionConfig is one action in a device type's vocabulary.
type ActionConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"` // none, percent, temperature, number
}

// HistoryConfig contains command history settings.
type HistoryConfig struct {
	Size int `yaml:"size"`
}

// BackendConfig declares one smart-home backend.
type BackendConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // homeassistant, mqtt

	// HTTP backends.
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// MQTT backends.
	Protocol        string `yaml:"protocol"`
	DiscoveryWindow int    `yaml:"discovery_window"` // milliseconds

	// Timeout bounds every dispatch call (seconds).
	Timeout int `yaml:"timeout"`

	// SyncOnStart refreshes the device registry from the backend at startup.
	SyncOnStart bool `yaml:"sync_on_start"`

	// DefaultDevice is the last-resort fallback target.
	DefaultDevice string `yaml:"default_device"`

	// LegacyMappings is the static pre-registry lookup table.
	LegacyMappings []LegacyMappingConfig `yaml:"legacy_mappings"`

	// Verbs overrides the native verb table: device type -> action -> verb.
	Verbs map[string]map[string]VerbConfig `yaml:"verbs"`
}

// LegacyMappingConfig maps a (device type, location) pair to a device.
type LegacyMappingConfig struct {
	DeviceType string `yaml:"device_type"`
	Location   string `yaml:"location"`
	DeviceID   string `yaml:"device_id"`
}

// VerbConfig is a native backend verb.
type VerbConfig struct {
	Service string  `yaml:"service"`
	Param   string  `yaml:"param"`
	Scale   float64 `yaml:"scale"`
	Fixed   float64 `yaml:"fixed"` // sent when the command carries no value
}

// TopicConfig binds a model and a backend into an invocable pipeline.
type TopicConfig struct {
	ID           string `yaml:"id"`
	Model        string `yaml:"model"`
	Backend      string `yaml:"backend"`
	Enabled      bool   `yaml:"enabled"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_INFERENCE_URL
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
	cfg.applyBackendDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/graylogic-voice.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-voice",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/graylogic-voice.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:         "graylogic",
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Inference: InferenceConfig{
			BaseURL:   "http://localhost:8080/v1",
			Timeout:   30,
			MaxTokens: 96,
		},
		History: HistoryConfig{
			Size: 256,
		},
	}
}

// Backend defaults applied after the file is parsed, since list entries
// cannot carry defaults through yaml.Unmarshal.
const (
	defaultBackendTimeout  = 10
	defaultDiscoveryWindow = 2000
)

func (c *Config) applyBackendDefaults() {
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Timeout <= 0 {
			b.Timeout = defaultBackendTimeout
		}
		if b.Type == "mqtt" && b.DiscoveryWindow <= 0 {
			b.DiscoveryWindow = defaultDiscoveryWindow
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_INFERENCE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("GRAYLOGIC_INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}

	// Backend tokens: GRAYLOGIC_BACKEND_<ID>_TOKEN, ID upper-cased with '-' as '_'.
	for i := range cfg.Backends {
		key := "GRAYLOGIC_BACKEND_" + envKey(cfg.Backends[i].ID) + "_TOKEN"
		if v := os.Getenv(key); v != "" {
			cfg.Backends[i].Token = v
		}
	}

	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The admin API mutates the device registry; an empty or short secret
	// would let anyone on the LAN re-route voice commands.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.History.Size < 1 {
		errs = append(errs, "history.size must be positive")
	}

	if c.Inference.BaseURL == "" {
		errs = append(errs, "inference.base_url is required")
	}

	for name, actions := range c.Grammar.ActionProfiles {
		if len(actions) == 0 {
			errs = append(errs, fmt.Sprintf("grammar.action_profiles.%s must list at least one action", name))
		}
		for _, a := range actions {
			switch a.Value {
			case "", "none", "percent", "temperature", "number":
			default:
				errs = append(errs, fmt.Sprintf("grammar.action_profiles.%s.%s: unknown value kind %q", name, a.Name, a.Value))
			}
		}
	}

	backends := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		switch {
		case b.ID == "":
			errs = append(errs, fmt.Sprintf("backends[%d].id is required", i))
		case backends[b.ID]:
			errs = append(errs, fmt.Sprintf("backends[%d].id %q is duplicated", i, b.ID))
		}
		backends[b.ID] = true
		if b.Type == "" {
			errs = append(errs, fmt.Sprintf("backends[%d].type is required", i))
		}
		if b.Type == "homeassistant" && b.URL == "" {
			errs = append(errs, fmt.Sprintf("backends[%d].url is required for homeassistant", i))
		}
	}

	topics := make(map[string]bool, len(c.Topics))
	for i, t := range c.Topics {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Sprintf("topics[%d].id is required", i))
		case topics[t.ID]:
			errs = append(errs, fmt.Sprintf("topics[%d].id %q is duplicated", i, t.ID))
		}
		topics[t.ID] = true
		if t.Backend != "" && !backends[t.Backend] {
			errs = append(errs, fmt.Sprintf("topics[%d].backend %q is not a configured backend", i, t.Backend))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Backend returns the configuration of the backend with the given ID.
func (c *Config) Backend(id string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// HasMQTTBackend reports whether any backend dispatches over MQTT.
func (c *Config) HasMQTTBackend() bool {
	for _, b := range c.Backends {
		if b.Type == "mqtt" {
			return true
		}
	}
	return false
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

// GetInferenceTimeout returns the inference request timeout as a Duration.
func (c *Config) GetInferenceTimeout() time.Duration {
	return time.Duration(c.Inference.Timeout) * time.Second
}
