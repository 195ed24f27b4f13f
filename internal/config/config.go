// Package config handles configuration loading and management for orchestra.
// It supports XDG config paths, project-level overrides, .env files and
// ORCHESTRA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/internal/state"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ORCHESTRA"

// ProjectConfigName is the file searched for in the working directory and its parents.
const ProjectConfigName = ".orchestra.yaml"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for orchestra.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Storage StorageConfig `mapstructure:"storage"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Events  EventsConfig  `mapstructure:"events"`
}

// EngineConfig holds orchestration engine settings.
type EngineConfig struct {
	DefaultStrategy   string `mapstructure:"default_strategy"`
	RetryUnassigned   bool   `mapstructure:"retry_unassigned"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	PropagateFailures bool   `mapstructure:"propagate_failures"`
	HierarchyOrdering bool   `mapstructure:"hierarchy_ordering"`
	EventBuffer       int    `mapstructure:"event_buffer"`
	// RunnerCommand, when set, is run through the shell for every subtask
	// instead of producing mock output.
	RunnerCommand string `mapstructure:"runner_command"`
}

// StorageConfig holds the sqlite store settings.
type StorageConfig struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// AgentsConfig points at an optional YAML agent pool.
type AgentsConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	// DebugFile, when set, receives the engine's debug trace.
	DebugFile string `mapstructure:"debug_file"`
}

// EventsConfig configures the optional Redis event stream.
type EventsConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Stream   string `mapstructure:"stream"`
}

// Load loads configuration from XDG paths, project overrides, .env and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ORCHESTRA_SERVER_ADDR, ...)
// 2. .env file next to the project config, or in the working directory
// 3. Project config (.orchestra.yaml in current directory or parent)
// 4. User config (~/.config/orchestra/config.yaml)
// 5. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	if err := mergeDotenv(v, dotenvPath(projectConfig)); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(filepath.Join(userConfigDir, "config.yaml"), cfg)
}

// SaveTo writes the configuration to path.
func SaveTo(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range cfg.values() {
		v.Set(key, value)
	}
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := decompose.ParseStrategy(c.Engine.DefaultStrategy); err != nil {
		errs = append(errs, fmt.Errorf("engine.default_strategy: %w", err))
	}
	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts))
	}
	if c.Engine.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("engine.event_buffer must not be negative, got %d", c.Engine.EventBuffer))
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required when storage is enabled"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	for name, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.Events.RedisURL != "" && c.Events.Stream == "" {
		errs = append(errs, errors.New("events.stream is required when events.redis_url is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Storage.Path = expandEnv(cfg.Storage.Path)
	cfg.Agents.File = expandEnv(cfg.Agents.File)
	cfg.Events.RedisURL = expandEnv(cfg.Events.RedisURL)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	for key, value := range Default().values() {
		v.SetDefault(key, value)
	}
}

// values flattens the config into dotted keys.
func (c *Config) values() map[string]any {
	return map[string]any{
		"engine.default_strategy":   c.Engine.DefaultStrategy,
		"engine.retry_unassigned":   c.Engine.RetryUnassigned,
		"engine.max_attempts":       c.Engine.MaxAttempts,
		"engine.propagate_failures": c.Engine.PropagateFailures,
		"engine.hierarchy_ordering": c.Engine.HierarchyOrdering,
		"engine.event_buffer":       c.Engine.EventBuffer,
		"engine.runner_command":     c.Engine.RunnerCommand,
		"storage.path":              c.Storage.Path,
		"storage.enabled":           c.Storage.Enabled,
		"agents.file":               c.Agents.File,
		"agents.watch":              c.Agents.Watch,
		"server.addr":               c.Server.Addr,
		"server.read_timeout":       c.Server.ReadTimeout.String(),
		"server.write_timeout":      c.Server.WriteTimeout.String(),
		"server.shutdown_timeout":   c.Server.ShutdownTimeout.String(),
		"log.level":                 c.Log.Level,
		"log.format":                c.Log.Format,
		"log.output":                c.Log.Output,
		"log.debug_file":            c.Log.DebugFile,
		"events.redis_url":          c.Events.RedisURL,
		"events.stream":             c.Events.Stream,
	}
}

// dotenvPath picks the .env beside the project config, else the working directory's.
func dotenvPath(projectConfig string) string {
	if projectConfig != "" {
		return filepath.Join(filepath.Dir(projectConfig), ".env")
	}
	return ".env"
}

// mergeDotenv layers ORCHESTRA_* values from a .env file above the config
// files and below the real environment. A missing file is not an error.
func mergeDotenv(v *viper.Viper, path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	layer := viper.New()
	for _, key := range Keys() {
		if value, ok := env[EnvName(key)]; ok {
			layer.Set(key, value)
		}
	}
	if err := v.MergeConfigMap(layer.AllSettings()); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

// getUserConfigDir returns the XDG config directory for orchestra.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "orchestra")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "orchestra")
	}
	return filepath.Join(home, ".config", "orchestra")
}

// findProjectConfig searches for .orchestra.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultStrategy: "sequential",
			MaxAttempts:     3,
			EventBuffer:     256,
		},
		Storage: StorageConfig{
			Path:    state.DefaultDBPath(),
			Enabled: true,
		},
		Agents: AgentsConfig{
			Watch: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Events: EventsConfig{
			Stream: "orchestra:events",
		},
	}
}
