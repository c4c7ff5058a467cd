// Package config provides configuration management for RNICSim.
//
// Configuration is loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (RNICSIM_* prefix)
//  3. Configuration file (config.yaml)
//  4. Default values (lowest priority)
//
// The package uses Viper for configuration binding, supporting:
//   - YAML configuration files
//   - Environment variable overrides
//   - Type-safe configuration structs
//   - Validation and defaults
//
// Example usage:
//
//	cfg, err := config.Load("/etc/rnicsim/config.yaml", config.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for RNICSim
type Config struct {
	// Node identification
	NodeID   string `mapstructure:"node_id"`
	NodeName string `mapstructure:"node_name"`

	// Network ports
	AdminPort int `mapstructure:"admin_port"`

	// Device configuration
	Device DeviceConfig `mapstructure:"device"`

	// Simulation configuration
	Simulation SimulationConfig `mapstructure:"simulation"`

	// Control channel configuration
	Control ControlConfig `mapstructure:"control"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// DeviceConfig holds the simulated device capacities
type DeviceConfig struct {
	// Count is the number of devices opened at startup
	Count int `mapstructure:"count"`

	// MaxConnections is the connection table capacity
	MaxConnections int `mapstructure:"max_connections"`

	// MaxQPs is the device-tier queue pair capacity
	MaxQPs int `mapstructure:"max_qps"`

	// MaxCQs is the device-tier completion queue capacity
	MaxCQs int `mapstructure:"max_cqs"`

	// MaxMRs is the device-tier memory region capacity
	MaxMRs int `mapstructure:"max_mrs"`

	// MaxPDs is the device-tier protection domain capacity
	MaxPDs int `mapstructure:"max_pds"`
}

// SimulationConfig holds the latency model parameters
type SimulationConfig struct {
	// EnableMiddleCache routes overflow through the middle cache tier
	// instead of straight to host swap
	EnableMiddleCache bool `mapstructure:"enable_middle_cache"`

	// DeviceDelayNs is the simulated access delay of the device tier
	DeviceDelayNs int64 `mapstructure:"device_delay_ns"`

	// MiddleDelayNs is the simulated access delay of the middle cache
	MiddleDelayNs int64 `mapstructure:"middle_delay_ns"`

	// HostDelayNs is the simulated access delay of host swap
	HostDelayNs int64 `mapstructure:"host_delay_ns"`
}

// ControlConfig holds the TCP control channel configuration
type ControlConfig struct {
	// Enabled starts the control channel listener
	Enabled bool `mapstructure:"enabled"`

	// Port is the control channel listening port
	Port int `mapstructure:"port"`

	// AcceptTimeout bounds how long one accept attempt waits
	AcceptTimeout time.Duration `mapstructure:"accept_timeout"`

	// ExchangeTimeout bounds each receive during the handshake
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
}

// Options are command line overrides
type Options struct {
	AdminPort   int
	ControlPort int
	Devices     int
}

// Load loads configuration from file and applies command line options
func Load(configPath string, opts Options) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load from config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Try to find config in standard locations
		v.SetConfigName("rnicsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rnicsim")
		v.AddConfigPath("$HOME/.rnicsim")

		// Ignore error if config file not found
		_ = v.ReadInConfig()
	}

	// Environment variables override
	v.SetEnvPrefix("RNICSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Apply command line options
	if opts.AdminPort != 0 {
		v.Set("admin_port", opts.AdminPort)
	}
	if opts.ControlPort != 0 {
		v.Set("control.port", opts.ControlPort)
	}
	if opts.Devices != 0 {
		v.Set("device.count", opts.Devices)
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate and set derived values
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Node defaults
	hostname, _ := os.Hostname()
	v.SetDefault("node_name", hostname)

	// Network ports
	v.SetDefault("admin_port", 9700)

	// Device defaults
	v.SetDefault("device.count", 1)
	v.SetDefault("device.max_connections", 1024)
	v.SetDefault("device.max_qps", 256)
	v.SetDefault("device.max_cqs", 256)
	v.SetDefault("device.max_mrs", 1024)
	v.SetDefault("device.max_pds", 64)

	// Simulation defaults
	v.SetDefault("simulation.enable_middle_cache", true)
	v.SetDefault("simulation.device_delay_ns", 0)
	v.SetDefault("simulation.middle_delay_ns", 0)
	v.SetDefault("simulation.host_delay_ns", 0)

	// Control channel defaults
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.port", 9701)
	v.SetDefault("control.accept_timeout", 30*time.Second)
	v.SetDefault("control.exchange_timeout", 10*time.Second)

	// Logging
	v.SetDefault("log_level", "info")
}

func (c *Config) validate() error {
	if c.NodeID == "" {
		c.NodeID = generateNodeID()
	}

	if c.Device.Count < 1 {
		return fmt.Errorf("device.count must be at least 1, got %d", c.Device.Count)
	}

	for _, capacity := range []struct {
		name  string
		value int
	}{
		{"device.max_connections", c.Device.MaxConnections},
		{"device.max_qps", c.Device.MaxQPs},
		{"device.max_cqs", c.Device.MaxCQs},
		{"device.max_mrs", c.Device.MaxMRs},
		{"device.max_pds", c.Device.MaxPDs},
	} {
		if capacity.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", capacity.name, capacity.value)
		}
	}

	for _, delay := range []struct {
		name  string
		value int64
	}{
		{"simulation.device_delay_ns", c.Simulation.DeviceDelayNs},
		{"simulation.middle_delay_ns", c.Simulation.MiddleDelayNs},
		{"simulation.host_delay_ns", c.Simulation.HostDelayNs},
	} {
		if delay.value < 0 {
			return fmt.Errorf("%s cannot be negative, got %d", delay.name, delay.value)
		}
	}

	if c.Control.Port < 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port out of range: %d", c.Control.Port)
	}

	return nil
}

func generateNodeID() string {
	return fmt.Sprintf("node-%s", generateSecret(8))
}

func generateSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[int(randomByte())%len(charset)]
	}
	return string(b)
}

func randomByte() byte {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		// This should never happen with crypto/rand, but if it does,
		// panic is appropriate since we cannot safely generate secrets
		panic(fmt.Sprintf("failed to generate random bytes: %v", err))
	}
	return b[0]
}
