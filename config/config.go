package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "smsrelay"
	// DefaultAgentPort is the TCP port the device agent listens on.
	DefaultAgentPort = 8080
	// DefaultAPIListenAddress is where the desktop data API binds.
	DefaultAPIListenAddress = "127.0.0.1:5001"
	// DefaultPollIntervalSeconds is the sync poll cadence.
	DefaultPollIntervalSeconds = 5
	// DefaultFailureThreshold is the number of consecutive failed polls that demotes a connection.
	DefaultFailureThreshold = 3
	// DefaultADBPath is the adb executable looked up on PATH.
	DefaultADBPath = "adb"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// Environment overrides. They apply to the running process only and are never persisted.
const (
	EnvDataDir   = "SMSRELAY_DATA_DIR"
	EnvAPIAddr   = "SMSRELAY_API_ADDR"
	EnvAgentPort = "SMSRELAY_AGENT_PORT"
	EnvADBPath   = "SMSRELAY_ADB"
	EnvLogLevel  = "SMSRELAY_LOG_LEVEL"
)

// Config contains persistent desktop settings.
type Config struct {
	InstanceID          string `json:"instance_id"`
	APIListenAddress    string `json:"api_listen_address"`
	AgentPort           int    `json:"agent_port"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	FailureThreshold    int    `json:"failure_threshold"`
	ADBPath             string `json:"adb_path"`
	LogLevel            string `json:"log_level"`
	SoundEnabled        bool   `json:"sound_enabled"`
	NotificationEnabled bool   `json:"notification_enabled"`
}

// Clone returns a copy that can be mutated without affecting c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SMSRELAY_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals cfg and replaces config.json atomically.
//
// The file is written next to its final location and renamed into place, so a
// failed save leaves the previous file untouched.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+configFileName+".*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = Default()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// Default returns a fresh config with every field populated.
func Default() *Config {
	return &Config{
		InstanceID:          uuid.NewString(),
		APIListenAddress:    DefaultAPIListenAddress,
		AgentPort:           DefaultAgentPort,
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		FailureThreshold:    DefaultFailureThreshold,
		ADBPath:             DefaultADBPath,
		LogLevel:            "info",
		SoundEnabled:        true,
		NotificationEnabled: true,
	}
}

// ApplyEnv loads .env files (when present) and layers environment overrides
// onto a copy of cfg. The returned config is for runtime use only.
func ApplyEnv(cfg *Config, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", file, err)
		}
	}

	out := cfg.Clone()
	if v := strings.TrimSpace(os.Getenv(EnvAPIAddr)); v != "" {
		out.APIListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAgentPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%s must be a TCP port, got %q", EnvAgentPort, v)
		}
		out.AgentPort = port
	}
	if v := strings.TrimSpace(os.Getenv(EnvADBPath)); v != "" {
		out.ADBPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		out.LogLevel = v
	}
	return out, nil
}

func normalizeDefaults(cfg *Config) bool {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.APIListenAddress) == "" {
		cfg.APIListenAddress = DefaultAPIListenAddress
		updated = true
	}
	if cfg.AgentPort <= 0 || cfg.AgentPort > 65535 {
		cfg.AgentPort = DefaultAgentPort
		updated = true
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = DefaultPollIntervalSeconds
		updated = true
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
		updated = true
	}
	if strings.TrimSpace(cfg.ADBPath) == "" {
		cfg.ADBPath = DefaultADBPath
		updated = true
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
		updated = true
	}

	return updated
}
