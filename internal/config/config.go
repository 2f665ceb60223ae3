package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Workspace modes
const (
	WorkspaceIsolated   = "isolated"
	WorkspaceSerialized = "serialized"
)

// Interpreter describes one configured interpreter executable
type Interpreter struct {
	Name    string   `mapstructure:"name"`
	Version string   `mapstructure:"version"`
	Path    string   `mapstructure:"path"`
	Args    []string `mapstructure:"args"`
	Aliases []string `mapstructure:"aliases"`
}

// Config represents the application configuration
type Config struct {
	// Server configuration
	LogLevel         string `mapstructure:"log_level"`
	BindAddress      string `mapstructure:"bind_address"`
	DataDirectory    string `mapstructure:"data_directory"`
	RequestBodyLimit int64  `mapstructure:"request_body_limit"`

	// Workspace handling
	WorkspaceMode string `mapstructure:"workspace_mode"`

	// Interpreter execution
	InterpreterDirectory string        `mapstructure:"interpreter_directory"`
	Interpreters         []Interpreter `mapstructure:"interpreters"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
	MaxConcurrentJobs    int           `mapstructure:"max_concurrent_jobs"`

	// Interpreter build
	BuildCommand string        `mapstructure:"build_command"`
	BuildOutput  string        `mapstructure:"build_output"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
	BuildOnStart bool          `mapstructure:"build_on_start"`

	// Golden-file suite
	GoldenDirectory string `mapstructure:"golden_directory"`
}

// Load loads configuration from a .env file, environment variables and config files
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	// Set default values
	v.SetDefault("log_level", "INFO")
	v.SetDefault("bind_address", "0.0.0.0:5000")
	v.SetDefault("data_directory", filepath.Join(os.TempDir(), "rvrun"))
	v.SetDefault("request_body_limit", 1<<20)
	v.SetDefault("workspace_mode", WorkspaceIsolated)
	v.SetDefault("interpreter_directory", ".")
	v.SetDefault("interpreters", []map[string]interface{}{
		{"name": "rv", "version": "0.1.0", "path": "bin/main"},
	})
	v.SetDefault("run_timeout", "10s")
	v.SetDefault("max_concurrent_jobs", 16)
	v.SetDefault("build_command", "make")
	v.SetDefault("build_output", "bin/test")
	v.SetDefault("build_timeout", "5m")
	v.SetDefault("build_on_start", false)
	v.SetDefault("golden_directory", ".")

	// Set environment variable prefix
	v.SetEnvPrefix("RVRUN")
	v.AutomaticEnv()

	// Try to read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/rvrun/")
	v.AddConfigPath("$HOME/.rvrun/")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate validates the configuration
func validate(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	if config.DataDirectory == "" {
		return fmt.Errorf("data_directory is required")
	}

	switch config.WorkspaceMode {
	case WorkspaceIsolated, WorkspaceSerialized:
	default:
		return fmt.Errorf("workspace_mode must be %q or %q", WorkspaceIsolated, WorkspaceSerialized)
	}

	// Validate numeric ranges
	if config.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}

	if config.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must be non-negative")
	}

	if len(config.Interpreters) == 0 {
		return fmt.Errorf("at least one interpreter must be configured")
	}

	for i, interp := range config.Interpreters {
		if interp.Name == "" {
			return fmt.Errorf("interpreters[%d].name is required", i)
		}
		if interp.Path == "" {
			return fmt.Errorf("interpreters[%d].path is required", i)
		}
	}

	return nil
}

// GetBindAddress returns the complete bind address
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:5000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// WorkspaceDirectory returns the root under which per-request workspaces are created
func (c *Config) WorkspaceDirectory() string {
	return filepath.Join(c.DataDirectory, "jobs")
}

// SharedProgramPath returns the single program path used in serialized mode
func (c *Config) SharedProgramPath() string {
	return filepath.Join(c.DataDirectory, "shared", "program.rv")
}

// ResolveInterpreterPath resolves a configured interpreter path against the interpreter directory
func (c *Config) ResolveInterpreterPath(path string) string {
	if filepath.IsAbs(path) || c.InterpreterDirectory == "" {
		return path
	}
	return filepath.Join(c.InterpreterDirectory, path)
}
