// Package config handles configuration loading for conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigFile is the per-project override looked up from the cwd upwards.
const ProjectConfigFile = ".conductor.yaml"

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// Config holds all configuration for conductor.
type Config struct {
	Workspace   WorkspaceConfig        `mapstructure:"workspace"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Specialists SpecialistsConfig      `mapstructure:"specialists"`
	Agents      map[string]AgentConfig `mapstructure:"agents"`
	Workflow    WorkflowConfig         `mapstructure:"workflow"`
	Anthropic   AnthropicConfig        `mapstructure:"anthropic"`
	Trace       TraceConfig            `mapstructure:"trace"`
}

// WorkspaceConfig identifies the workspace commands operate on.
type WorkspaceConfig struct {
	ID   string `mapstructure:"id"`
	Root string `mapstructure:"root"`
}

// DatabaseConfig locates the sqlite state database. An empty path means the
// project database under the workspace root.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SpecialistsConfig lists directories of specialist definitions.
type SpecialistsConfig struct {
	Dirs  []string `mapstructure:"dirs"`
	Watch bool     `mapstructure:"watch"`
}

// AgentConfig is the command launching an ACP agent for one provider.
type AgentConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Environment returns the agent's extra environment. Keys are upper-cased
// because viper folds map keys to lower case.
func (a AgentConfig) Environment() map[string]string {
	env := make(map[string]string, len(a.Env))
	for k, v := range a.Env {
		env[strings.ToUpper(k)] = v
	}
	return env
}

// WorkflowConfig holds workflow execution settings.
type WorkflowConfig struct {
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
	DefaultAdapter string        `mapstructure:"default_adapter"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
}

// TraceConfig selects the trace sinks.
type TraceConfig struct {
	SQLite      bool   `mapstructure:"sqlite"`
	Log         bool   `mapstructure:"log"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	Buffer      int    `mapstructure:"buffer"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CONDUCTOR_*)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "CONDUCTOR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if cfg.Workspace.Root == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Workspace.Root = cwd
		}
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = filepath.Base(cfg.Workspace.Root)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.id", "")
	v.SetDefault("workspace.root", "")

	v.SetDefault("database.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("specialists.dirs", []string{})
	v.SetDefault("specialists.watch", false)

	v.SetDefault("agents", map[string]any{
		"claude":   map[string]any{"command": "claude-code-acp"},
		"codex":    map[string]any{"command": "codex-acp"},
		"gemini":   map[string]any{"command": "gemini", "args": []string{"--experimental-acp"}},
		"opencode": map[string]any{"command": "opencode", "args": []string{"acp"}},
	})

	v.SetDefault("workflow.step_timeout", "15m")
	v.SetDefault("workflow.default_adapter", "claude")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.max_tokens", 8192)

	v.SetDefault("trace.sqlite", true)
	v.SetDefault("trace.log", false)
	v.SetDefault("trace.nats_url", "")
	v.SetDefault("trace.nats_subject", "conductor.trace")
	v.SetDefault("trace.buffer", 256)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// APIKey returns the configured Anthropic key, or ErrNoAPIKey. Unexpanded
// ${VAR} references count as unset.
func (c *Config) APIKey() (string, error) {
	key := c.Anthropic.APIKey
	if key == "" || strings.HasPrefix(key, "${") {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
