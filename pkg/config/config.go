// Package config holds the configuration of a voicelink client: the list of
// audio nodes plus pool, reconnect, REST, metrics and logging settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Selection policies for new guild players.
const (
	// PolicyLeastPlayers prefers the node with the fewest assigned players,
	// then the lowest reported CPU load, then configuration order.
	PolicyLeastPlayers = "least-players"
	// PolicyPenalty prefers the node with the lowest load penalty computed
	// from its reported statistics, then configuration order.
	PolicyPenalty = "penalty"
)

// NodeConfig describes one audio node. It is never mutated after the pool
// is built.
type NodeConfig struct {
	ID            string        `yaml:"id"`
	Address       string        `yaml:"address"`
	Authorization string        `yaml:"authorization"`
	Secure        bool          `yaml:"secure"`
	Region        string        `yaml:"region"`
	Weight        int           `yaml:"weight"`
	Resume        *ResumeConfig `yaml:"resume"`
}

// ResumeConfig enables session resumption. The node buffers events for
// Timeout while the connection is down.
type ResumeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// WebSocketURL returns the control channel URL of the node.
func (n NodeConfig) WebSocketURL() string {
	if n.Secure {
		return "wss://" + n.Address + "/websocket"
	}
	return "ws://" + n.Address + "/websocket"
}

// HTTPURL returns the REST base URL of the node.
func (n NodeConfig) HTTPURL() string {
	if n.Secure {
		return "https://" + n.Address
	}
	return "http://" + n.Address
}

// PoolConfig holds node pool configuration
type PoolConfig struct {
	QueueCapacity    int           `yaml:"queue_capacity"`
	FatalThreshold   int           `yaml:"fatal_threshold"`
	SelectionPolicy  string        `yaml:"selection_policy"`
	EventBuffer      int           `yaml:"event_buffer"`
	EventSendTimeout time.Duration `yaml:"event_send_timeout"`
	FailoverWorkers  int           `yaml:"failover_workers"`
	PlayerShards     int           `yaml:"player_shards"`
}

// BackoffConfig holds reconnect backoff configuration
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
	// Jitter is nil when unset so that an explicit 0 survives SetDefaults.
	Jitter *float64 `yaml:"jitter"`
}

// JitterFactor returns the configured jitter, or 0 when unset.
func (b BackoffConfig) JitterFactor() float64 {
	if b.Jitter == nil {
		return 0
	}
	return *b.Jitter
}

// ConnectionConfig holds per-connection timeouts
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

// RESTConfig holds REST helper configuration
type RESTConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a voicelink client
type Config struct {
	UserID     string           `yaml:"user_id"`
	ClientName string           `yaml:"client_name"`
	Nodes      []NodeConfig     `yaml:"nodes"`
	Pool       PoolConfig       `yaml:"pool"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Connection ConnectionConfig `yaml:"connection"`
	REST       RESTConfig       `yaml:"rest"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	SetDefaults(&cfg)
	applyEnvironmentOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SetDefaults sets default values for unspecified configuration
func SetDefaults(cfg *Config) {
	if cfg.ClientName == "" {
		cfg.ClientName = "voicelink"
	}

	for i := range cfg.Nodes {
		if cfg.Nodes[i].ID == "" {
			cfg.Nodes[i].ID = cfg.Nodes[i].Address
		}
		if cfg.Nodes[i].Weight == 0 {
			cfg.Nodes[i].Weight = 1
		}
	}

	if cfg.Pool.QueueCapacity == 0 {
		cfg.Pool.QueueCapacity = 64
	}
	if cfg.Pool.FatalThreshold == 0 {
		cfg.Pool.FatalThreshold = 8
	}
	if cfg.Pool.SelectionPolicy == "" {
		cfg.Pool.SelectionPolicy = PolicyLeastPlayers
	}
	if cfg.Pool.EventBuffer == 0 {
		cfg.Pool.EventBuffer = 256
	}
	if cfg.Pool.EventSendTimeout == 0 {
		cfg.Pool.EventSendTimeout = 5 * time.Second
	}
	if cfg.Pool.FailoverWorkers == 0 {
		cfg.Pool.FailoverWorkers = 4
	}
	if cfg.Pool.PlayerShards == 0 {
		cfg.Pool.PlayerShards = 32
	}

	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Max == 0 {
		cfg.Backoff.Max = 64 * time.Second
	}
	if cfg.Backoff.Jitter == nil {
		jitter := 0.2
		cfg.Backoff.Jitter = &jitter
	}

	if cfg.Connection.HeartbeatInterval == 0 {
		cfg.Connection.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Connection.ReadTimeout == 0 {
		cfg.Connection.ReadTimeout = 75 * time.Second
	}
	if cfg.Connection.WriteTimeout == 0 {
		cfg.Connection.WriteTimeout = 10 * time.Second
	}
	if cfg.Connection.HandshakeTimeout == 0 {
		cfg.Connection.HandshakeTimeout = 10 * time.Second
	}

	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RequestsPerSecond == 0 {
		cfg.REST.RequestsPerSecond = 10
	}
	if cfg.REST.BurstSize == 0 {
		cfg.REST.BurstSize = 20
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9464
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvironmentOverrides lets the environment supply secrets and
// per-deployment values the YAML file leaves out.
func applyEnvironmentOverrides(cfg *Config) {
	if userID := os.Getenv("VOICELINK_USER_ID"); userID != "" {
		cfg.UserID = userID
	}
	if name := os.Getenv("VOICELINK_CLIENT_NAME"); name != "" {
		cfg.ClientName = name
	}
	if auth := os.Getenv("VOICELINK_NODE_AUTHORIZATION"); auth != "" {
		for i := range cfg.Nodes {
			if cfg.Nodes[i].Authorization == "" {
				cfg.Nodes[i].Authorization = auth
			}
		}
	}
	if port := os.Getenv("VOICELINK_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Metrics.Port = p
		}
	}
	if level := os.Getenv("VOICELINK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Address == "" {
			return fmt.Errorf("nodes[%d].address is required", i)
		}
		if n.ID == "" {
			return fmt.Errorf("nodes[%d].id is required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("nodes[%d].id %q is duplicated", i, n.ID)
		}
		seen[n.ID] = true
		if n.Weight < 0 {
			return fmt.Errorf("nodes[%d].weight must not be negative", i)
		}
		if n.Resume != nil && n.Resume.Timeout < time.Second {
			return fmt.Errorf("nodes[%d].resume.timeout must be at least 1s", i)
		}
	}

	if c.Pool.QueueCapacity < 1 {
		return fmt.Errorf("pool.queue_capacity must be positive")
	}
	if c.Pool.FatalThreshold < 1 {
		return fmt.Errorf("pool.fatal_threshold must be positive")
	}
	switch c.Pool.SelectionPolicy {
	case PolicyLeastPlayers, PolicyPenalty:
	default:
		return fmt.Errorf("pool.selection_policy must be %q or %q", PolicyLeastPlayers, PolicyPenalty)
	}

	if c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("backoff.base must be positive and not exceed backoff.max")
	}
	if j := c.Backoff.JitterFactor(); j < 0 || j > 1 {
		return fmt.Errorf("backoff.jitter must be between 0 and 1")
	}

	if c.Connection.ReadTimeout <= c.Connection.HeartbeatInterval {
		return fmt.Errorf("connection.read_timeout must exceed connection.heartbeat_interval")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	return nil
}

// Default returns a configuration for the given nodes with every other field
// defaulted, for callers that build the configuration in code.
func Default(userID string, nodes ...NodeConfig) *Config {
	cfg := &Config{UserID: userID, Nodes: nodes}
	SetDefaults(cfg)
	return cfg
}
