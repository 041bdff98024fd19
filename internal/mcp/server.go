package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/relic-commits/internal/commitsearch"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// CommitSearch is optional. Commit tools are registered only when it is set.
	CommitSearch *commitsearch.Service
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.CommitSearch != nil {
		commitsearch.RegisterSearchTool(s, cfg.CommitSearch)
		commitsearch.RegisterStatusTool(s, cfg.CommitSearch)
		commitsearch.RegisterSyncTool(s, cfg.CommitSearch)
		commitsearch.RegisterReadTool(s, cfg.CommitSearch)
	}

	return s
}
