package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
user_id: "310848622642069504"
nodes:
  - id: eu-1
    address: 10.0.0.1:5000
    authorization: youshallnotpass
    region: eu
    resume:
      timeout: 60s
  - address: 10.0.0.2:5000
    authorization: youshallnotpass
    secure: true
pool:
  fatal_threshold: 3
backoff:
  base: 500ms
  max: 30s
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "eu-1", cfg.Nodes[0].ID)
	assert.Equal(t, "10.0.0.2:5000", cfg.Nodes[1].ID, "id defaults to address")
	assert.Equal(t, 60*time.Second, cfg.Nodes[0].Resume.Timeout)
	assert.Equal(t, 3, cfg.Pool.FatalThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Base)
	assert.Equal(t, 30*time.Second, cfg.Backoff.Max)

	// defaults
	assert.Equal(t, "voicelink", cfg.ClientName)
	assert.Equal(t, 64, cfg.Pool.QueueCapacity)
	assert.Equal(t, PolicyLeastPlayers, cfg.Pool.SelectionPolicy)
	assert.Equal(t, 0.2, cfg.Backoff.JitterFactor())
	assert.Equal(t, 30*time.Second, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, 1, cfg.Nodes[0].Weight)
}

func TestParse_ExplicitZeroJitter(t *testing.T) {
	cfg, err := Parse([]byte(`
user_id: "1"
nodes:
  - address: localhost:2333
backoff:
  jitter: 0
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Backoff.Jitter)
	assert.Zero(t, cfg.Backoff.JitterFactor())

	cfg, err = Parse([]byte("user_id: \"1\"\nnodes:\n  - address: localhost:2333\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Backoff.JitterFactor())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNodeConfig_URLs(t *testing.T) {
	plain := NodeConfig{Address: "localhost:2333"}
	assert.Equal(t, "ws://localhost:2333/websocket", plain.WebSocketURL())
	assert.Equal(t, "http://localhost:2333", plain.HTTPURL())

	secure := NodeConfig{Address: "audio.example.com", Secure: true}
	assert.Equal(t, "wss://audio.example.com/websocket", secure.WebSocketURL())
	assert.Equal(t, "https://audio.example.com", secure.HTTPURL())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return Default("1", NodeConfig{ID: "a", Address: "a:1"}, NodeConfig{ID: "b", Address: "b:1"})
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing user", func(c *Config) { c.UserID = "" }},
		{"no nodes", func(c *Config) { c.Nodes = nil }},
		{"duplicate id", func(c *Config) { c.Nodes[1].ID = "a" }},
		{"missing address", func(c *Config) { c.Nodes[0].Address = "" }},
		{"bad policy", func(c *Config) { c.Pool.SelectionPolicy = "random" }},
		{"jitter too large", func(c *Config) { j := 1.5; c.Backoff.Jitter = &j }},
		{"negative jitter", func(c *Config) { j := -0.1; c.Backoff.Jitter = &j }},
		{"base above max", func(c *Config) { c.Backoff.Base = time.Hour }},
		{"short resume", func(c *Config) { c.Nodes[0].Resume = &ResumeConfig{Timeout: time.Millisecond} }},
		{"read timeout below heartbeat", func(c *Config) { c.Connection.ReadTimeout = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	t.Setenv("VOICELINK_USER_ID", "42")
	t.Setenv("VOICELINK_NODE_AUTHORIZATION", "from-env")
	t.Setenv("VOICELINK_METRICS_PORT", "9000")
	t.Setenv("VOICELINK_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(`
nodes:
  - id: a
    address: a:2333
  - id: b
    address: b:2333
    authorization: explicit
`))
	require.NoError(t, err)
	assert.Equal(t, "42", cfg.UserID)
	assert.Equal(t, "from-env", cfg.Nodes[0].Authorization)
	assert.Equal(t, "explicit", cfg.Nodes[1].Authorization)
	assert.Equal(t, 9000, cfg.Metrics.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "voicelink.example.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Nodes, 2)
	assert.Equal(t, 2, cfg.Nodes[0].Weight)
	assert.Equal(t, "wss://audio.example.com/websocket", cfg.Nodes[1].WebSocketURL())
	assert.True(t, cfg.Metrics.Enabled)
}
