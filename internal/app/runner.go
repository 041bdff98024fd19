package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-commits/internal/commitsearch"
	"github.com/sha1n/relic-commits/internal/config"
	"github.com/sha1n/relic-commits/internal/hooks"
	mcputil "github.com/sha1n/relic-commits/internal/mcp"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*Components, *config.Settings) error
	CreateServer      func(*config.Settings) (*Components, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateComponents,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := config.ParseLogLevel(settings.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(config.NewLogger(level))

	slog.Info("Starting RELIC commits server", "version", version)
	config.Log(settings)

	components, cleanup, err := params.CreateServer(settings)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		if components.Hooks != nil {
			slog.Warn("Post-receive hooks are only served over the sse transport")
		}
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return components.MCP.Run(ctx, transport)
	}

	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(components, settings)
}

// CreateComponents creates the MCP server with registered tools and, when
// commit search is enabled, the post-receive hook handler
func CreateComponents(settings *config.Settings) (*Components, func(), error) {
	var svc *commitsearch.Service
	var cleanup func()

	if settings.CommitSearch.Enabled {
		s, err := commitsearch.NewService(&settings.CommitSearch, slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create commit search service: %w", err)
		}

		// Initialize in background context (not tied to request context)
		if err := s.Initialize(context.Background()); err != nil {
			slog.Error("Commit search initialization failed", "error", err)
			// Close service on initialization failure and continue without it
			if closeErr := s.Close(); closeErr != nil {
				slog.Error("Failed to close commit search service", "error", closeErr)
			}
		} else {
			svc = s
			cleanup = func() {
				if err := s.Close(); err != nil {
					slog.Error("Failed to close commit search service", "error", err)
				}
			}
		}
	}

	components := &Components{
		MCP: mcputil.CreateServer(mcputil.ServerConfig{
			Name:         "relic-commits",
			Version:      "1.0.0",
			CommitSearch: svc,
		}),
	}
	if svc != nil {
		components.Hooks = hooks.NewHandler(svc, slog.Default()).Routes()
	}

	return components, cleanup, nil
}

// SyncOnce brings the index of every configured repository up to date and
// returns. Change detection is not started.
func SyncOnce(ctx context.Context, params RunParams, flags *pflag.FlagSet) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !settings.CommitSearch.Enabled {
		return errors.New("commit search is disabled")
	}

	level, err := config.ParseLogLevel(settings.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(config.NewLogger(level))

	svc, err := commitsearch.NewService(&settings.CommitSearch, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create commit search service: %w", err)
	}

	err = svc.RunOnce(ctx)
	if closeErr := svc.Close(); closeErr != nil {
		slog.Error("Failed to close commit search service", "error", closeErr)
	}
	return err
}
