package commitsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SyncArgument selects the repository to synchronize.
type SyncArgument struct {
	Repository string `json:"repository" jsonschema_description:"Repository name or id"`
	Reindex    bool   `json:"reindex,omitempty" jsonschema_description:"Discard the index of the repository and rebuild it from the full history"`
}

// SyncHandler handles the sync_repository MCP tool.
type SyncHandler struct {
	service *Service
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(service *Service) *SyncHandler {
	return &SyncHandler{service: service}
}

// Handle enqueues a synchronization of one repository.
func (h *SyncHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args SyncArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Synchronization is not available yet. Please try again later."), nil, nil
	}
	if strings.TrimSpace(args.Repository) == "" {
		return errorResult("Repository cannot be empty"), nil, nil
	}

	repo, err := h.service.Repository(args.Repository)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	if args.Reindex {
		if err := h.service.Submit(ctx, Task{Repository: repo, Reindex: true}); err != nil {
			return errorResult(fmt.Sprintf("Failed to schedule reindex: %s", err)), nil, nil
		}
		return textResult(fmt.Sprintf("Reindex of %s scheduled", repo.Name)), nil, nil
	}

	if err := h.service.Refresh(ctx, repo); err != nil {
		return errorResult(fmt.Sprintf("Failed to synchronize: %s", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Synchronization of %s requested", repo.Name)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SyncHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "sync_repository",
		Description: "Bring the commit index of a repository up to date, optionally rebuilding it",
	}
}

// RegisterSyncTool registers the sync tool with an MCP server.
func RegisterSyncTool(server *mcp.Server, service *Service) {
	handler := NewSyncHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
