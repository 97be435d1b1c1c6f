package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/lanchat/pkg/logger"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	Files   FilesSection   `toml:"files"`
	Logging LoggingSection `toml:"logging"`
	Limits  LimitsSection  `toml:"limits"`
}

type ServerSection struct {
	TCPPort    int    `toml:"tcp_port"`
	SSHPort    int    `toml:"ssh_port"`
	SSHHostKey string `toml:"ssh_host_key"`
	HTTPPort   int    `toml:"http_port"`
}

type FilesSection struct {
	Dirs []string `toml:"dirs"`
}

type LoggingSection struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console *bool  `toml:"console"`
	Pretty  *bool  `toml:"pretty"`
}

type LimitsSection struct {
	MessageRateLimit int `toml:"message_rate_limit"`
	MaxMessageLength int `toml:"max_message_length"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort          int
	SSHPort          int // 0 disables the SSH transport
	SSHHostKeyPath   string
	HTTPPort         int // 0 disables WebSocket, /metrics and /health
	FileDirs         []string
	MessageRateLimit int // chat messages per minute per session, 0 disables
	MaxMessageLength int // bytes, 0 means the frame limit only
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:        8888,
		SSHPort:        0,
		SSHHostKeyPath: "~/.lanchat/ssh_host_key",
		HTTPPort:       0,
		FileDirs:       []string{"data"},
	}
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	defaults := DefaultConfig()
	logDefaults := logger.DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:    defaults.TCPPort,
			SSHPort:    defaults.SSHPort,
			SSHHostKey: defaults.SSHHostKeyPath,
			HTTPPort:   defaults.HTTPPort,
		},
		Files: FilesSection{
			Dirs: defaults.FileDirs,
		},
		Logging: LoggingSection{
			Level:   logDefaults.Level,
			File:    logDefaults.File,
			Console: &logDefaults.Console,
			Pretty:  &logDefaults.Pretty,
		},
	}
}

// LoadConfig loads configuration from a TOML file. A missing file is
// created with defaults; an empty path returns defaults without touching disk.
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTOMLConfig(), nil
	}

	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable location; still run with defaults
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# LanChat Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.SSHPort != 0 {
		cfg.SSHPort = c.Server.SSHPort
	}

	if strings.TrimSpace(c.Server.SSHHostKey) != "" {
		cfg.SSHHostKeyPath = c.Server.SSHHostKey
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if len(c.Files.Dirs) > 0 {
		cfg.FileDirs = c.Files.Dirs
	}

	if c.Limits.MessageRateLimit > 0 {
		cfg.MessageRateLimit = c.Limits.MessageRateLimit
	}

	if c.Limits.MaxMessageLength > 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}

	return cfg
}

// ToLoggerConfig converts the [logging] section, falling back to logger defaults
func (c *TOMLConfig) ToLoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()

	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	if c.Logging.File != "" {
		cfg.File = c.Logging.File
	}
	cfg.Console = safeDeref(c.Logging.Console, cfg.Console)
	cfg.Pretty = safeDeref(c.Logging.Pretty, cfg.Pretty)

	return cfg
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}

// safeDeref returns the value of an optional TOML field, or def when the key was absent
func safeDeref[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
