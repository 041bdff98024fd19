package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sha1n/relic-commits/internal/store"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of all environment variables read by the server
const EnvPrefix = "RELIC_COMMITS"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CommitSearchSettings configuration for commit indexing
type CommitSearchSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	Repositories    []string      `mapstructure:"repositories"`
	BaseDir         string        `mapstructure:"base_dir"`
	StatusBackend   string        `mapstructure:"status_backend"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Watch           bool          `mapstructure:"watch"`
	Debounce        time.Duration `mapstructure:"debounce"`
	InstanceTimeout time.Duration `mapstructure:"instance_timeout"`
	MaxResults      int           `mapstructure:"max_results"`
}

// Settings application settings
type Settings struct {
	Transport    string               `mapstructure:"transport"`
	Host         string               `mapstructure:"host"`
	Port         int                  `mapstructure:"port"`
	LogLevel     string               `mapstructure:"log_level"`
	Auth         AuthSettings         `mapstructure:"auth"`
	CommitSearch CommitSearchSettings `mapstructure:"commit_search"`
}

// keyBinding ties a settings key to its environment variable suffix and CLI flag
type keyBinding struct {
	key  string
	flag string
}

var bindings = []keyBinding{
	{"transport", "transport"},
	{"host", "host"},
	{"port", "port"},
	{"log_level", "log-level"},
	{"auth.type", "auth-type"},
	{"auth.basic.username", "auth-basic-username"},
	{"auth.basic.password", "auth-basic-password"},
	{"auth.api_keys", "auth-api-keys"},
	{"commit_search.enabled", "commit-search-enabled"},
	{"commit_search.repositories", "commit-search-repositories"},
	{"commit_search.base_dir", "commit-search-base-dir"},
	{"commit_search.status_backend", "commit-search-status-backend"},
	{"commit_search.workers", "commit-search-workers"},
	{"commit_search.queue_size", "commit-search-queue-size"},
	{"commit_search.max_attempts", "commit-search-max-attempts"},
	{"commit_search.retry_delay", "commit-search-retry-delay"},
	{"commit_search.poll_interval", "commit-search-poll-interval"},
	{"commit_search.watch", "commit-search-watch"},
	{"commit_search.debounce", "commit-search-debounce"},
	{"commit_search.instance_timeout", "commit-search-instance-timeout"},
	{"commit_search.max_results", "commit-search-max-results"},
}

// envName returns the environment variable for a settings key
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("auth.type", AuthTypeNone)

	// Commit search defaults
	v.SetDefault("commit_search.enabled", false)
	v.SetDefault("commit_search.base_dir", defaultBaseDir())
	v.SetDefault("commit_search.status_backend", store.BackendFile)
	v.SetDefault("commit_search.workers", 2)
	v.SetDefault("commit_search.queue_size", 64)
	v.SetDefault("commit_search.max_attempts", 3)
	v.SetDefault("commit_search.retry_delay", 5*time.Second)
	v.SetDefault("commit_search.poll_interval", 5*time.Minute)
	v.SetDefault("commit_search.watch", true)
	v.SetDefault("commit_search.debounce", 500*time.Millisecond)
	v.SetDefault("commit_search.instance_timeout", 30*time.Second)
	v.SetDefault("commit_search.max_results", 20)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range bindings {
		_ = v.BindEnv(b.key, envName(b.key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for _, b := range bindings {
			if f := flags.Lookup(b.flag); f != nil {
				_ = v.BindPFlag(b.key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys, os.Getenv(envName("auth.api_keys")))
	settings.CommitSearch.Repositories = splitList(settings.CommitSearch.Repositories, os.Getenv(envName("commit_search.repositories")))

	// Expand home directory in base_dir
	settings.CommitSearch.BaseDir = expandHomeDir(settings.CommitSearch.BaseDir)

	return &settings, nil
}

// splitList normalizes a list setting. Values provided via env var arrive as a
// single comma-separated string and are split here.
func splitList(values []string, env string) []string {
	if env != "" && (len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ","))) {
		values = strings.Split(env, ",")
	}

	var result []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}

// defaultBaseDir returns the default base directory for mirrors, indexes and status
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relic-commits"
	}
	return filepath.Join(home, ".relic-commits")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if err := s.CommitSearch.Validate(); err != nil {
		return fmt.Errorf("commit search: %w", err)
	}

	return nil
}

// Validate validates the commit search configuration. Disabled settings are not checked.
func (c *CommitSearchSettings) Validate() error {
	if !c.Enabled {
		return nil
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.Repositories, validation.Required.Error("at least one repository is required")),
		validation.Field(&c.BaseDir, validation.Required),
		validation.Field(&c.StatusBackend, validation.Required, validation.In(store.BackendFile, store.BackendSQLite)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Debounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.InstanceTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxResults, validation.Required, validation.Min(1), validation.Max(1000)),
	)
}

// ParseLogLevel converts a log level name into a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log-level %q: %w", name, err)
	}
	return level, nil
}
