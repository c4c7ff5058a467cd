package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Device: DeviceConfig{
			Count:          1,
			MaxConnections: 1024,
			MaxQPs:         256,
			MaxCQs:         256,
			MaxMRs:         1024,
			MaxPDs:         64,
		},
		Control: ControlConfig{Port: 9701},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "zero device count is invalid",
			mutate:  func(c *Config) { c.Device.Count = 0 },
			wantErr: true,
			errMsg:  "device.count must be at least 1",
		},
		{
			name:    "zero qp capacity is invalid",
			mutate:  func(c *Config) { c.Device.MaxQPs = 0 },
			wantErr: true,
			errMsg:  "device.max_qps must be at least 1",
		},
		{
			name:    "negative delay is invalid",
			mutate:  func(c *Config) { c.Simulation.HostDelayNs = -1 },
			wantErr: true,
			errMsg:  "simulation.host_delay_ns cannot be negative",
		},
		{
			name:    "control port out of range",
			mutate:  func(c *Config) { c.Control.Port = 70000 },
			wantErr: true,
			errMsg:  "control.port out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateGeneratesNodeID(t *testing.T) {
	cfg := Config{
		Device:  DeviceConfig{Count: 1, MaxConnections: 1, MaxQPs: 1, MaxCQs: 1, MaxMRs: 1, MaxPDs: 1},
		Control: ControlConfig{Port: 0},
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if !strings.HasPrefix(cfg.NodeID, "node-") {
		t.Errorf("NodeID = %q, want node- prefix", cfg.NodeID)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AdminPort != 9700 {
		t.Errorf("AdminPort = %d, want 9700", cfg.AdminPort)
	}
	if cfg.Device.Count != 1 {
		t.Errorf("Device.Count = %d, want 1", cfg.Device.Count)
	}
	if cfg.Device.MaxQPs != 256 {
		t.Errorf("Device.MaxQPs = %d, want 256", cfg.Device.MaxQPs)
	}
	if !cfg.Simulation.EnableMiddleCache {
		t.Error("Simulation.EnableMiddleCache = false, want true")
	}
	if cfg.Control.Enabled {
		t.Error("Control.Enabled = true, want false")
	}
	if cfg.Control.AcceptTimeout != 30*time.Second {
		t.Errorf("Control.AcceptTimeout = %v, want 30s", cfg.Control.AcceptTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadOptionsOverride(t *testing.T) {
	cfg, err := Load("", Options{AdminPort: 8080, ControlPort: 8081, Devices: 3})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AdminPort != 8080 {
		t.Errorf("AdminPort = %d, want 8080", cfg.AdminPort)
	}
	if cfg.Control.Port != 8081 {
		t.Errorf("Control.Port = %d, want 8081", cfg.Control.Port)
	}
	if cfg.Device.Count != 3 {
		t.Errorf("Device.Count = %d, want 3", cfg.Device.Count)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rnicsim.yaml")

	content := []byte(`
admin_port: 7777
log_level: debug
device:
  count: 2
  max_qps: 32
simulation:
  enable_middle_cache: false
  host_delay_ns: 1500
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AdminPort != 7777 {
		t.Errorf("AdminPort = %d, want 7777", cfg.AdminPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Device.Count != 2 {
		t.Errorf("Device.Count = %d, want 2", cfg.Device.Count)
	}
	if cfg.Device.MaxQPs != 32 {
		t.Errorf("Device.MaxQPs = %d, want 32", cfg.Device.MaxQPs)
	}
	// Unset keys keep their defaults.
	if cfg.Device.MaxMRs != 1024 {
		t.Errorf("Device.MaxMRs = %d, want 1024", cfg.Device.MaxMRs)
	}
	if cfg.Simulation.EnableMiddleCache {
		t.Error("Simulation.EnableMiddleCache = true, want false")
	}
	if cfg.Simulation.HostDelayNs != 1500 {
		t.Errorf("Simulation.HostDelayNs = %d, want 1500", cfg.Simulation.HostDelayNs)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/rnicsim.yaml", Options{}); err == nil {
		t.Error("Load() with missing explicit config file should fail")
	}
}
