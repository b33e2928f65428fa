package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Backend     BackendConfig  `toml:"backend"`
	Runner      RunnerConfig   `toml:"runner"`
	Logging     LoggingConfig  `toml:"logging"`
	Presets     PresetsConfig  `toml:"presets"`
	Schedule    ScheduleConfig `toml:"schedule"`
}

// BackendConfig describes how to reach the pipeline runner backend
type BackendConfig struct {
	// URL is the orchestrate base. Either an absolute URL
	// ("https://pipelines.internal/orchestrate") or a path prefix
	// ("/orchestrate") resolved against the default host.
	URL            string `toml:"url" validate:"required"`
	RequestTimeout string `toml:"request_timeout"` // Per-request HTTP timeout as duration string, e.g. "30s"
	RateLimit      int    `toml:"rate_limit"`      // Max status requests per second
}

// RunnerConfig controls the polling loop for a single run. Durations are
// duration strings ("5s", "20m") parsed at consumption time.
type RunnerConfig struct {
	PollInterval string   `toml:"poll_interval" validate:"required"` // Status fetch cadence, e.g. "5s"
	RunTimeout   string   `toml:"run_timeout" validate:"required"`   // Wall-clock ceiling per run, e.g. "20m"
	DetailLevel  string   `toml:"detail_level" validate:"oneof=lite full"`
	Stages       []string `toml:"stages"` // Ordered pipeline stage names
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// PresetsConfig contains configuration for named request preset files
type PresetsConfig struct {
	Dir string `toml:"dir"` // Directory containing preset files (TOML/YAML)
}

// ScheduleConfig enables recurring submission of a preset
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`   // Cron expression
	Preset  string `toml:"preset"` // Preset to submit on each trigger
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Backend: BackendConfig{
			URL:            "http://localhost:8080/orchestrate",
			RequestTimeout: "30s",
			RateLimit:      5,
		},
		Runner: RunnerConfig{
			PollInterval: "5s",
			RunTimeout:   "20m",
			DetailLevel:  "lite",
			Stages:       []string{"SMOKE", "GRID", "AB", "PUBLISH"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Presets: PresetsConfig{
			Dir: "./presets",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 */6 * * *", // Every 6 hours
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: CURSUS_ENV, fallback: GO_ENV)
	if env := os.Getenv("CURSUS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Backend configuration. A bare path prefix keeps the configured host.
	if backendURL := os.Getenv("CURSUS_BACKEND_URL"); backendURL != "" {
		config.Backend.URL = ResolveBaseOverride(config.Backend.URL, backendURL)
	}
	if requestTimeout := os.Getenv("CURSUS_BACKEND_REQUEST_TIMEOUT"); requestTimeout != "" {
		if _, err := time.ParseDuration(requestTimeout); err == nil {
			config.Backend.RequestTimeout = requestTimeout
		}
	}
	if rateLimit := os.Getenv("CURSUS_BACKEND_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil {
			config.Backend.RateLimit = rl
		}
	}

	// Runner configuration
	if pollInterval := os.Getenv("CURSUS_POLL_INTERVAL"); pollInterval != "" {
		if _, err := time.ParseDuration(pollInterval); err == nil {
			config.Runner.PollInterval = pollInterval
		}
	}
	if runTimeout := os.Getenv("CURSUS_RUN_TIMEOUT"); runTimeout != "" {
		if _, err := time.ParseDuration(runTimeout); err == nil {
			config.Runner.RunTimeout = runTimeout
		}
	}
	if detailLevel := os.Getenv("CURSUS_DETAIL_LEVEL"); detailLevel != "" {
		config.Runner.DetailLevel = detailLevel
	}

	// Logging configuration
	if level := os.Getenv("CURSUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CURSUS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Presets configuration
	if presetsDir := os.Getenv("CURSUS_PRESETS_DIR"); presetsDir != "" {
		config.Presets.Dir = presetsDir
	}

	// Schedule configuration
	if enabled := os.Getenv("CURSUS_SCHEDULE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Schedule.Enabled = e
		}
	}
	if cronExpr := os.Getenv("CURSUS_SCHEDULE_CRON"); cronExpr != "" {
		config.Schedule.Cron = cronExpr
	}
	if preset := os.Getenv("CURSUS_SCHEDULE_PRESET"); preset != "" {
		config.Schedule.Preset = preset
	}
}

// RequestTimeoutDuration parses the per-request timeout, falling back to
// 30s when unset or malformed.
func (b BackendConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PollIntervalDuration parses the status fetch cadence, falling back to
// 5s when unset or malformed.
func (r RunnerConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(r.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// RunTimeoutDuration parses the per-run wall-clock ceiling, falling back
// to 20m when unset or malformed.
func (r RunnerConfig) RunTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.RunTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Minute
	}
	return d
}

// Validate checks configuration invariants before anything is wired up
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Runner.Stages) == 0 {
		return fmt.Errorf("invalid configuration: runner.stages must name at least one pipeline stage")
	}
	if err := validateDuration("runner.poll_interval", c.Runner.PollInterval); err != nil {
		return err
	}
	if err := validateDuration("runner.run_timeout", c.Runner.RunTimeout); err != nil {
		return err
	}
	if c.Backend.RequestTimeout != "" {
		if err := validateDuration("backend.request_timeout", c.Backend.RequestTimeout); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(field, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid configuration: %s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid configuration: %s must be positive, got %s", field, value)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
