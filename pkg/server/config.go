package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the runtime server configuration.
type Config struct {
	TCPPort     int    // Chat protocol listener port (0 = ephemeral)
	HTTPPort    int    // Public HTTP port for the /ws bridge (0 = disabled)
	MetricsAddr string // Internal bind address for /metrics and /health ("" = disabled)
	DataDir     string // Root for history/, media/ and log files
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		TCPPort:     6464,
		HTTPPort:    8080,
		MetricsAddr: ":9090",
		DataDir:     "data",
	}
}

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
}

type ServerSection struct {
	TCPPort     int    `toml:"tcp_port"`
	HTTPPort    int    `toml:"http_port"`
	MetricsAddr string `toml:"metrics_addr"`
	DataDir     string `toml:"data_dir"`
	Debug       bool   `toml:"debug"`
}

// DefaultTOMLConfig returns the default file configuration.
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:     def.TCPPort,
			HTTPPort:    def.HTTPPort,
			MetricsAddr: def.MetricsAddr,
			DataDir:     def.DataDir,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a documented
// default file if none exists, and applies environment variable
// overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// A failed write (e.g. read-only config dir) still leaves a
		// runnable server on defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides following the
// pattern MULTICHAT_SERVER_KEY, e.g. MULTICHAT_SERVER_TCP_PORT=7000.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("MULTICHAT_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("MULTICHAT_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("MULTICHAT_SERVER_METRICS_ADDR"); val != "" {
		config.Server.MetricsAddr = val
	}
	if val := os.Getenv("MULTICHAT_SERVER_DATA_DIR"); val != "" {
		config.Server.DataDir = val
	}
	if val := os.Getenv("MULTICHAT_SERVER_DEBUG"); val != "" {
		if debug, err := strconv.ParseBool(val); err == nil {
			config.Server.Debug = debug
		}
	}
	return config
}

// ToConfig converts the file configuration to a runtime Config, falling
// back to defaults for unset values.
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if strings.TrimSpace(c.Server.MetricsAddr) != "" {
		cfg.MetricsAddr = c.Server.MetricsAddr
	}
	if strings.TrimSpace(c.Server.DataDir) != "" {
		cfg.DataDir = c.Server.DataDir
	}

	return cfg
}

// writeDefaultConfig writes a documented default config file.
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Multichat Server Configuration
# This file was auto-generated with default values.
# Environment variables can override these settings:
# MULTICHAT_SERVER_KEY (e.g., MULTICHAT_SERVER_TCP_PORT=7000)

[server]
# Port for the chat protocol TCP listener
tcp_port = 6464

# Port for the public HTTP server (/ws WebSocket bridge)
# Set to 0 to disable
http_port = 8080

# Bind address for the internal metrics server (/metrics, /health)
# Never expose this publicly. Set to "" to disable.
metrics_addr = ":9090"

# Directory for history logs, voice note media and server logs
data_dir = "data"

# Enable debug logging to debug.log
debug = false
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
