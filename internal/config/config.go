package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StdioPort selects stdin/stdout instead of a serial device.
const StdioPort = "-"

// Config holds all application configuration.
type Config struct {
	LogLevel   string       `yaml:"log_level"`
	DeviceName string       `yaml:"device_name"`
	Serial     SerialConfig `yaml:"serial"`
	BLE        BLEConfig    `yaml:"ble"`
	Bridge     BridgeConfig `yaml:"bridge"`
	Status     StatusConfig `yaml:"status"`
}

// SerialConfig holds the local serial stream settings.
type SerialConfig struct {
	Port       string `yaml:"port"` // device path or "-" for stdio
	Baud       int    `yaml:"baud"`
	ReadBuffer int    `yaml:"read_buffer"`
}

// BLEConfig holds scanning and connection settings.
type BLEConfig struct {
	ScanInterval     time.Duration `yaml:"scan_interval"`
	ScanWindow       time.Duration `yaml:"scan_window"`
	ActiveScan       bool          `yaml:"active_scan"`
	PreferredMTU     int           `yaml:"preferred_mtu"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	RescanBackoffMax time.Duration `yaml:"rescan_backoff_max"` // 0 disables backoff
}

// BridgeConfig holds outbound framing settings.
type BridgeConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	IdleFlush    time.Duration `yaml:"idle_flush"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StatusConfig holds status LED settings.
type StatusConfig struct {
	LED         string        `yaml:"led"` // sysfs LED name or brightness path; empty logs only
	BlinkPeriod time.Duration `yaml:"blink_period"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nusbridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// scanUnit is the controller's scan timing unit.
const scanUnit = 625 * time.Microsecond

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		DeviceName: "Friesh",
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB0",
			Baud:       115200,
			ReadBuffer: 4096,
		},
		BLE: BLEConfig{
			ScanInterval: 1349 * scanUnit,
			ScanWindow:   449 * scanUnit,
			ActiveScan:   true,
			PreferredMTU: 67,
			SettleDelay:  200 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			BufferSize:   64,
			IdleFlush:    40 * time.Millisecond,
			PollInterval: 2 * time.Millisecond,
		},
		Status: StatusConfig{
			BlinkPeriod: 400 * time.Millisecond,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in serial.port is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Serial.Port = expandTilde(cfg.Serial.Port)

	return cfg, nil
}

// WriteDefault writes the default config to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port must not be empty")
	}

	if c.Serial.Port != StdioPort && c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}

	if c.Serial.ReadBuffer <= 0 {
		return fmt.Errorf("serial.read_buffer must be > 0")
	}

	if c.BLE.ScanWindow > c.BLE.ScanInterval {
		return fmt.Errorf("ble.scan_window (%s) must not exceed ble.scan_interval (%s)", c.BLE.ScanWindow, c.BLE.ScanInterval)
	}

	// 23 is the minimum ATT MTU every link supports.
	if c.BLE.PreferredMTU < 23 || c.BLE.PreferredMTU > 517 {
		return fmt.Errorf("ble.preferred_mtu must be between 23 and 517, got %d", c.BLE.PreferredMTU)
	}

	if c.BLE.SettleDelay < 0 {
		return fmt.Errorf("ble.settle_delay must be >= 0")
	}

	if c.BLE.RescanBackoffMax < 0 {
		return fmt.Errorf("ble.rescan_backoff_max must be >= 0")
	}

	if c.Bridge.BufferSize <= 0 {
		return fmt.Errorf("bridge.buffer_size must be > 0")
	}

	if c.Bridge.IdleFlush <= 0 {
		return fmt.Errorf("bridge.idle_flush must be > 0")
	}

	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge.poll_interval must be > 0")
	}

	if c.Status.BlinkPeriod <= 0 {
		return fmt.Errorf("status.blink_period must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
