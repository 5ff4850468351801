package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Liveness policies for deciding whether a device is online.
const (
	// LivenessConnection treats a device as online while a device
	// connection is bound to it.
	LivenessConnection = "connection"

	// LivenessRecency treats a device as online while its last check-in
	// is within the liveness window.
	LivenessRecency = "recency"
)

// Config is the root configuration structure for the telemetry gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Devices   DevicesConfig   `yaml:"devices"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains settings for the shared listener. Device sessions and
// HTTP requests arrive on the same port and are separated by protocol sniffing.
type ServerConfig struct {
	Host         string              `yaml:"host"`
	Port         int                 `yaml:"port"`
	SniffTimeout int                 `yaml:"sniff_timeout"` // seconds to wait for the first bytes
	Timeouts     ServerTimeoutConfig `yaml:"timeouts"`
	CORS         CORSConfig          `yaml:"cors"`
}

// ServerTimeoutConfig contains HTTP timeout settings.
type ServerTimeoutConfig struct {
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

// DevicesConfig contains device session, registry and command settings.
type DevicesConfig struct {
	// Liveness selects how the online flag is derived: "connection" or "recency".
	Liveness string `yaml:"liveness"`

	// LivenessWindow is the recency window in seconds. Default: 60
	LivenessWindow int `yaml:"liveness_window"`

	// IdleTimeout closes a device connection after this many seconds without
	// any inbound bytes. 0 disables the timeout.
	IdleTimeout int `yaml:"idle_timeout"`

	// WriteTimeout bounds a single write to a device connection, in seconds.
	WriteTimeout int `yaml:"write_timeout"`

	// MaxFrameBuffer is the per-connection cap on undelimited bytes. Default: 8192
	MaxFrameBuffer int `yaml:"max_frame_buffer"`

	// ReadBufferSize is the size of a single socket read. Default: 4096
	ReadBufferSize int `yaml:"read_buffer_size"`

	Actuators ActuatorConfig `yaml:"actuators"`
}

// ActuatorConfig describes the actuator address space commands may target.
type ActuatorConfig struct {
	Prefix   string `yaml:"prefix"`    // actuator name prefix, e.g. "r" for r1..rN
	Count    int    `yaml:"count"`     // number of addressable actuators
	MaxValue int    `yaml:"max_value"` // largest accepted numeric value
}

// WebSocketConfig contains observer WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// MQTTConfig contains MQTT broker connection settings for the event relay.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// InfluxDBConfig contains InfluxDB connection settings for the telemetry sink.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_TELEMETRY_SECTION_KEY.
// PORT is honoured as well for platform deployments.
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

// LoadOrDefault behaves like Load, but falls back to the built-in defaults
// (plus environment overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without file or environment input.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			SniffTimeout: 10,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Devices: DevicesConfig{
			Liveness:       LivenessConnection,
			LivenessWindow: 60,
			IdleTimeout:    300,
			WriteTimeout:   5,
			MaxFrameBuffer: 8192,
			ReadBufferSize: 4096,
			Actuators: ActuatorConfig{
				Prefix:   "r",
				Count:    8,
				MaxValue: 255,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-telemetry",
			},
			QoS:         1,
			TopicPrefix: "graylogic/telemetry",
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
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if port, ok := envInt("PORT"); ok {
		cfg.Server.Port = port
	}
	if port, ok := envInt("GRAYLOGIC_TELEMETRY_PORT"); ok {
		cfg.Server.Port = port
	}

	// Devices
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_LIVENESS"); v != "" {
		cfg.Devices.Liveness = strings.ToLower(v)
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_TELEMETRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable. Unset or unparsable values
// are reported as absent.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Devices.Liveness {
	case LivenessConnection, LivenessRecency:
	default:
		errs = append(errs, `devices.liveness must be "connection" or "recency"`)
	}
	if c.Devices.LivenessWindow <= 0 {
		errs = append(errs, "devices.liveness_window must be positive")
	}
	if c.Devices.MaxFrameBuffer <= 0 {
		errs = append(errs, "devices.max_frame_buffer must be positive")
	}
	if c.Devices.IdleTimeout < 0 {
		errs = append(errs, "devices.idle_timeout cannot be negative")
	}
	if c.Devices.Actuators.Prefix == "" {
		errs = append(errs, "devices.actuators.prefix is required")
	}
	if c.Devices.Actuators.Count < 1 {
		errs = append(errs, "devices.actuators.count must be at least 1")
	}
	if c.Devices.Actuators.MaxValue < 1 {
		errs = append(errs, "devices.actuators.max_value must be at least 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the host:port the shared listener binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}

// GetSniffTimeout returns how long the listener waits for a connection's first bytes.
func (c *Config) GetSniffTimeout() time.Duration {
	return time.Duration(c.Server.SniffTimeout) * time.Second
}

// GetLivenessWindow returns the recency liveness window as a Duration.
func (c *Config) GetLivenessWindow() time.Duration {
	return time.Duration(c.Devices.LivenessWindow) * time.Second
}

// GetDeviceIdleTimeout returns the device read idle timeout (0 = disabled).
func (c *Config) GetDeviceIdleTimeout() time.Duration {
	return time.Duration(c.Devices.IdleTimeout) * time.Second
}

// GetDeviceWriteTimeout returns the per-write deadline for device connections.
func (c *Config) GetDeviceWriteTimeout() time.Duration {
	return time.Duration(c.Devices.WriteTimeout) * time.Second
}
