// Package config provides configuration loading and validation for cctags.
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

// Sentinel validation errors.
var (
	ErrInvalidPageSize       = errors.New("api page size must be between 1 and 100")
	ErrInvalidAttempts       = errors.New("attempts must be positive")
	ErrInvalidPollInterval   = errors.New("poll interval must be positive")
	ErrInvalidMaxWait        = errors.New("poll max wait must not be negative")
	ErrInvalidFrequenciesDir = errors.New("frequencies dir must be frequencies or outcome")
	ErrInvalidLogLevel       = errors.New("unknown log level")
	ErrEmptyValue            = errors.New("value must not be empty")
	ErrMissingToken          = errors.New("api token environment variable is not set")
)

// Config holds all configuration for cctags.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Poll      PollConfig      `mapstructure:"poll"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// APIConfig holds Code Climate API settings.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	TokenEnv    string        `mapstructure:"token_env"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Backoff     time.Duration `mapstructure:"backoff"`
	PageSize    int           `mapstructure:"page_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// PollConfig holds build polling settings.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// MaxWait bounds polling per commit. Zero disables the bound.
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// SyncConfig holds mirror repository settings.
type SyncConfig struct {
	Branch       string        `mapstructure:"branch"`
	Remote       string        `mapstructure:"remote"`
	SourceRemote string        `mapstructure:"source_remote"`
	SSHUser      string        `mapstructure:"ssh_user"`
	Backoff      time.Duration `mapstructure:"backoff"`
	Attempts     int           `mapstructure:"attempts"`
}

// OutputConfig holds result writer settings.
type OutputConfig struct {
	Dir            string `mapstructure:"dir"`
	QualityModel   string `mapstructure:"quality_model"`
	FrequenciesDir string `mapstructure:"frequencies_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry and diagnostics settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// LoadConfig loads configuration from file and environment variables.
// With an empty path the file is searched as cctags.yaml in the working
// directory, ./config and $HOME/.config/cctags; a missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")

		home, homeErr := os.UserHomeDir()
		if homeErr == nil {
			viperCfg.AddConfigPath(filepath.Join(home, userConfigDir))
		}
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// Token reads the API token from the configured environment variable.
func (c *Config) Token() (string, error) {
	token := strings.TrimSpace(os.Getenv(c.API.TokenEnv))
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingToken, c.API.TokenEnv)
	}

	return token, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// API defaults.
	viperCfg.SetDefault("api.base_url", DefaultAPIBaseURL)
	viperCfg.SetDefault("api.token_env", DefaultTokenEnv)
	viperCfg.SetDefault("api.timeout", DefaultAPITimeout)
	viperCfg.SetDefault("api.backoff", DefaultAPIBackoff)
	viperCfg.SetDefault("api.page_size", DefaultAPIPageSize)
	viperCfg.SetDefault("api.max_attempts", DefaultAPIMaxAttempts)

	// Polling defaults.
	viperCfg.SetDefault("poll.interval", DefaultPollInterval)
	viperCfg.SetDefault("poll.max_wait", DefaultPollMaxWait)

	// Sync defaults.
	viperCfg.SetDefault("sync.branch", DefaultSyncBranch)
	viperCfg.SetDefault("sync.remote", DefaultSyncRemote)
	viperCfg.SetDefault("sync.source_remote", DefaultSyncSourceRemote)
	viperCfg.SetDefault("sync.ssh_user", DefaultSyncSSHUser)
	viperCfg.SetDefault("sync.backoff", DefaultSyncBackoff)
	viperCfg.SetDefault("sync.attempts", DefaultSyncAttempts)

	// Output defaults.
	viperCfg.SetDefault("output.dir", DefaultOutputDir)
	viperCfg.SetDefault("output.quality_model", DefaultQualityModel)
	viperCfg.SetDefault("output.frequencies_dir", DefaultFrequenciesDir)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", false)

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.API.PageSize <= 0 || config.API.PageSize > maxAPIPageSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, config.API.PageSize)
	}

	if config.API.MaxAttempts <= 0 {
		return fmt.Errorf("api.max_attempts %w: %d", ErrInvalidAttempts, config.API.MaxAttempts)
	}

	if config.API.BaseURL == "" {
		return fmt.Errorf("api.base_url: %w", ErrEmptyValue)
	}

	if config.API.TokenEnv == "" {
		return fmt.Errorf("api.token_env: %w", ErrEmptyValue)
	}

	if config.Poll.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPollInterval, config.Poll.Interval)
	}

	if config.Poll.MaxWait < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMaxWait, config.Poll.MaxWait)
	}

	if config.Sync.Attempts <= 0 {
		return fmt.Errorf("sync.attempts %w: %d", ErrInvalidAttempts, config.Sync.Attempts)
	}

	if config.Sync.Branch == "" {
		return fmt.Errorf("sync.branch: %w", ErrEmptyValue)
	}

	if config.Output.Dir == "" {
		return fmt.Errorf("output.dir: %w", ErrEmptyValue)
	}

	switch config.Output.FrequenciesDir {
	case DefaultFrequenciesDir, AlternateFrequenciesDir:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFrequenciesDir, config.Output.FrequenciesDir)
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	return nil
}
