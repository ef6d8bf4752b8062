package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
}

// API contains the HTTP trigger and inspection endpoint settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// PollQuota caps how many entries of one status a single claim may take.
type PollQuota struct {
	Status string `toml:"status"`
	Limit  int    `toml:"limit"`
}

// Queue contains the queue name and the per-status claim quotas.
type Queue struct {
	Name       string      `toml:"name"`
	PollQuotas []PollQuota `toml:"poll_quotas"`
}

// Tasks contains defaults applied to task definitions.
type Tasks struct {
	// AlwaysEager processes delayed entries synchronously in the caller.
	AlwaysEager      bool `toml:"always_eager"`
	DefaultPriority  int  `toml:"default_priority"`
	DefaultImmediate bool `toml:"default_immediate"`
}

// Beat contains the built-in beat sources. Both are optional; the HTTP
// $beat endpoint is always available.
type Beat struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	RedisURL        string `toml:"redis_url"`
	RedisChannel    string `toml:"redis_channel"`
}

// Importer lists the resource types routed to the built-in import handler.
type Importer struct {
	ResourceTypes []string `toml:"resource_types"`
	// ManualSources are entry sources whose resources always go to manual review.
	ManualSources []string `toml:"manual_sources"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for taskbeat.
//
// Configuration sections by subsystem:
//   - Paths: data directory holding the database, lock, pid and log files
//   - API: trigger endpoint bind address and bearer token
//   - Queue: queue name and claim quotas
//   - Tasks: eager mode and task defaults
//   - Beat: timer and Redis beat sources
//   - Importer: resource types handled by the built-in importer
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	API      API      `toml:"api"`
	Queue    Queue    `toml:"queue"`
	Tasks    Tasks    `toml:"tasks"`
	Beat     Beat     `toml:"beat"`
	Importer Importer `toml:"importer"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("taskbeat.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.DataDir, err)
	}
	return nil
}

// DatabasePath returns the SQLite file backing the queue.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "taskbeat.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "taskbeat.pid")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.DataDir, "taskbeat.log")
}

// BeatInterval returns the timer beat period, or zero when the timer is disabled.
func (c *Config) BeatInterval() time.Duration {
	if c.Beat.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Beat.IntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
