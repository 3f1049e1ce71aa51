package agentconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecConstants(t *testing.T) {
	cfg := Default()
	if cfg.Input.DoubleTapDelayMs != 100 {
		t.Errorf("DoubleTapDelayMs = %d, want 100", cfg.Input.DoubleTapDelayMs)
	}
	if cfg.Session.IdleTimeoutMinutes != 30 {
		t.Errorf("IdleTimeoutMinutes = %d, want 30", cfg.Session.IdleTimeoutMinutes)
	}
	if cfg.Uplink.HeartbeatTimeoutSeconds != 60 {
		t.Errorf("HeartbeatTimeoutSeconds = %d, want 60", cfg.Uplink.HeartbeatTimeoutSeconds)
	}
	if cfg.Uplink.AgentExistsBackoffSteps != 5 {
		t.Errorf("AgentExistsBackoffSteps = %d, want 5", cfg.Uplink.AgentExistsBackoffSteps)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.RingBufferLines != 100 {
		t.Errorf("RingBufferLines = %d, want 100", cfg.Session.RingBufferLines)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	toml := `
[input]
double_tap_enabled = false
double_tap_delay_ms = 250
launch_delay_ms = 500

[session]
ring_buffer_lines = 200
idle_timeout_minutes = 30
idle_scan_interval_minutes = 5

[uplink]
heartbeat_interval_seconds = 30
heartbeat_timeout_seconds = 60
reconnect_max_delay_seconds = 30
agent_exists_backoff_steps = 5
`
	if err := os.WriteFile(filepath.Join(dir, "agent.toml"), []byte(toml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.DoubleTapEnabled {
		t.Error("DoubleTapEnabled should be false from file")
	}
	if cfg.Input.DoubleTapDelayMs != 250 {
		t.Errorf("DoubleTapDelayMs = %d, want 250", cfg.Input.DoubleTapDelayMs)
	}
	if cfg.Session.RingBufferLines != 200 {
		t.Errorf("RingBufferLines = %d, want 200", cfg.Session.RingBufferLines)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agent.toml"), []byte("[session]\nring_buffer_lines = 200\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("POCKETCLAUDE_RING_BUFFER_LINES", "42")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.RingBufferLines != 42 {
		t.Errorf("RingBufferLines = %d, want 42", cfg.Session.RingBufferLines)
	}
}

func TestValidateRejectsTimeoutNotExceedingInterval(t *testing.T) {
	cfg := Default()
	cfg.Uplink.HeartbeatTimeoutSeconds = cfg.Uplink.HeartbeatIntervalSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when heartbeat_timeout_seconds <= heartbeat_interval_seconds")
	}
}

func TestValidateRejectsZeroRingBuffer(t *testing.T) {
	cfg := Default()
	cfg.Session.RingBufferLines = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ring_buffer_lines")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Input.DoubleTapDelay().Milliseconds() != 100 {
		t.Errorf("DoubleTapDelay = %v, want 100ms", cfg.Input.DoubleTapDelay())
	}
	if cfg.Session.IdleTimeout().Minutes() != 30 {
		t.Errorf("IdleTimeout = %v, want 30m", cfg.Session.IdleTimeout())
	}
	if cfg.Uplink.HeartbeatTimeout().Seconds() != 60 {
		t.Errorf("HeartbeatTimeout = %v, want 60s", cfg.Uplink.HeartbeatTimeout())
	}
}
