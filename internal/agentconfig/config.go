// Package agentconfig loads the Agent's operational tunables from
// agent.toml, layering environment variable overrides on top of file
// values on top of the spec's fixed defaults.
package agentconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level agent.toml shape.
type Config struct {
	Input   InputConfig   `toml:"input"`
	Session SessionConfig `toml:"session"`
	Uplink  UplinkConfig  `toml:"uplink"`
}

// InputConfig controls the double-tap-to-send heuristic and launch pacing.
type InputConfig struct {
	DoubleTapEnabled  bool `toml:"double_tap_enabled"`
	DoubleTapDelayMs  int  `toml:"double_tap_delay_ms"`
	LaunchDelayMs     int  `toml:"launch_delay_ms"`
}

// SessionConfig controls PTY session bookkeeping.
type SessionConfig struct {
	RingBufferLines        int `toml:"ring_buffer_lines"`
	IdleTimeoutMinutes     int `toml:"idle_timeout_minutes"`
	IdleScanIntervalMinutes int `toml:"idle_scan_interval_minutes"`
}

// UplinkConfig controls the Relay connection's reconnect behavior. The
// heartbeat fields are parsed and validated, but nothing in the Agent reads
// them; the Relay's ping interval and timeout are set by its own
// constructor.
type UplinkConfig struct {
	HeartbeatIntervalSeconds  int `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds   int `toml:"heartbeat_timeout_seconds"`
	ReconnectMaxDelaySeconds  int `toml:"reconnect_max_delay_seconds"`
	AgentExistsBackoffSteps   int `toml:"agent_exists_backoff_steps"`
}

// Default returns the spec's fixed constants as a Config, used as the base
// layer before agent.toml and environment overrides are applied.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			DoubleTapEnabled: true,
			DoubleTapDelayMs: 100,
			LaunchDelayMs:    500,
		},
		Session: SessionConfig{
			RingBufferLines:         100,
			IdleTimeoutMinutes:      30,
			IdleScanIntervalMinutes: 5,
		},
		Uplink: UplinkConfig{
			HeartbeatIntervalSeconds: 30,
			HeartbeatTimeoutSeconds:  60,
			ReconnectMaxDelaySeconds: 30,
			AgentExistsBackoffSteps:  5,
		},
	}
}

// Load reads agent.toml from dataDir (if present), then applies
// POCKETCLAUDE_-prefixed environment variable overrides, on top of
// Default().
func Load(dataDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dataDir, "agent.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("POCKETCLAUDE_DOUBLE_TAP_DELAY_MS"); ok {
		cfg.Input.DoubleTapDelayMs = v
	}
	if v, ok := envBool("POCKETCLAUDE_DOUBLE_TAP_ENABLED"); ok {
		cfg.Input.DoubleTapEnabled = v
	}
	if v, ok := envInt("POCKETCLAUDE_LAUNCH_DELAY_MS"); ok {
		cfg.Input.LaunchDelayMs = v
	}
	if v, ok := envInt("POCKETCLAUDE_RING_BUFFER_LINES"); ok {
		cfg.Session.RingBufferLines = v
	}
	if v, ok := envInt("POCKETCLAUDE_IDLE_TIMEOUT_MINUTES"); ok {
		cfg.Session.IdleTimeoutMinutes = v
	}
	if v, ok := envInt("POCKETCLAUDE_IDLE_SCAN_INTERVAL_MINUTES"); ok {
		cfg.Session.IdleScanIntervalMinutes = v
	}
	if v, ok := envInt("POCKETCLAUDE_HEARTBEAT_INTERVAL_SECONDS"); ok {
		cfg.Uplink.HeartbeatIntervalSeconds = v
	}
	if v, ok := envInt("POCKETCLAUDE_HEARTBEAT_TIMEOUT_SECONDS"); ok {
		cfg.Uplink.HeartbeatTimeoutSeconds = v
	}
	if v, ok := envInt("POCKETCLAUDE_RECONNECT_MAX_DELAY_SECONDS"); ok {
		cfg.Uplink.ReconnectMaxDelaySeconds = v
	}
	if v, ok := envInt("POCKETCLAUDE_AGENT_EXISTS_BACKOFF_STEPS"); ok {
		cfg.Uplink.AgentExistsBackoffSteps = v
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate rejects nonsensical tunables before the agent starts.
func (c *Config) Validate() error {
	if c.Input.DoubleTapDelayMs < 0 {
		return fmt.Errorf("input.double_tap_delay_ms must be >= 0")
	}
	if c.Session.RingBufferLines <= 0 {
		return fmt.Errorf("session.ring_buffer_lines must be > 0")
	}
	if c.Session.IdleTimeoutMinutes <= 0 {
		return fmt.Errorf("session.idle_timeout_minutes must be > 0")
	}
	if c.Session.IdleScanIntervalMinutes <= 0 {
		return fmt.Errorf("session.idle_scan_interval_minutes must be > 0")
	}
	if c.Uplink.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("uplink.heartbeat_interval_seconds must be > 0")
	}
	if c.Uplink.HeartbeatTimeoutSeconds <= c.Uplink.HeartbeatIntervalSeconds {
		return fmt.Errorf("uplink.heartbeat_timeout_seconds must exceed heartbeat_interval_seconds")
	}
	if c.Uplink.ReconnectMaxDelaySeconds <= 0 {
		return fmt.Errorf("uplink.reconnect_max_delay_seconds must be > 0")
	}
	return nil
}

func (c *InputConfig) DoubleTapDelay() time.Duration {
	return time.Duration(c.DoubleTapDelayMs) * time.Millisecond
}

func (c *InputConfig) LaunchDelay() time.Duration {
	return time.Duration(c.LaunchDelayMs) * time.Millisecond
}

func (c *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

func (c *SessionConfig) IdleScanInterval() time.Duration {
	return time.Duration(c.IdleScanIntervalMinutes) * time.Minute
}

func (c *UplinkConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c *UplinkConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c *UplinkConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelaySeconds) * time.Second
}
