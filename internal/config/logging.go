package config

import (
	"context"
	"log/slog"
	"os"
)

const masked = "****"

// NewLogger creates the process logger. Records always go to stderr so the
// stdio transport keeps stdout for protocol traffic.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}
	logger.InfoContext(ctx, "Config: log_level", "value", s.LogLevel)

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	cs := s.CommitSearch
	logger.InfoContext(ctx, "Config: commit_search.enabled", "value", cs.Enabled)
	if !cs.Enabled {
		return
	}
	logger.InfoContext(ctx, "Config: commit_search.repositories", "count", len(cs.Repositories))
	logger.InfoContext(ctx, "Config: commit_search.base_dir", "value", cs.BaseDir)
	logger.InfoContext(ctx, "Config: commit_search.status_backend", "value", cs.StatusBackend)
	logger.InfoContext(ctx, "Config: commit_search.workers", "value", cs.Workers)
	logger.InfoContext(ctx, "Config: commit_search.queue_size", "value", cs.QueueSize)
	logger.InfoContext(ctx, "Config: commit_search.max_attempts", "value", cs.MaxAttempts, "retry_delay", cs.RetryDelay)
	logger.InfoContext(ctx, "Config: commit_search.poll_interval", "value", cs.PollInterval)
	if cs.Watch {
		logger.InfoContext(ctx, "Config: commit_search.watch", "value", cs.Watch, "debounce", cs.Debounce)
	}
	logger.InfoContext(ctx, "Config: commit_search.instance_timeout", "value", cs.InstanceTimeout)
	logger.InfoContext(ctx, "Config: commit_search.max_results", "value", cs.MaxResults)
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}

// CommitSearchSettingsLogValue returns a slog.Value for CommitSearchSettings
func CommitSearchSettingsLogValue(s CommitSearchSettings) slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.Enabled),
		slog.Any("repositories", s.Repositories),
		slog.String("base_dir", s.BaseDir),
		slog.String("status_backend", s.StatusBackend),
		slog.Int("workers", s.Workers),
		slog.Int("queue_size", s.QueueSize),
		slog.Int("max_attempts", s.MaxAttempts),
		slog.Duration("retry_delay", s.RetryDelay),
		slog.Duration("poll_interval", s.PollInterval),
		slog.Bool("watch", s.Watch),
		slog.Duration("debounce", s.Debounce),
		slog.Duration("instance_timeout", s.InstanceTimeout),
		slog.Int("max_results", s.MaxResults),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("log_level", s.LogLevel),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("commit_search", CommitSearchSettingsLogValue(s.CommitSearch)),
	)
}
