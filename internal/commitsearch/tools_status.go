package commitsearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgument selects the repositories to report on.
type StatusArgument struct {
	Repository string `json:"repository,omitempty" jsonschema_description:"Repository name or id; all repositories if empty"`
}

// StatusHandler handles the index_status MCP tool.
type StatusHandler struct {
	service *Service
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(service *Service) *StatusHandler {
	return &StatusHandler{service: service}
}

// Handle reports the indexed revision and commit count per repository.
func (h *StatusHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Index status is not available yet. Please try again later."), nil, nil
	}

	repos := h.service.Repositories()
	if args.Repository != "" {
		repo, err := h.service.Repository(args.Repository)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		repos = []Repository{repo}
	}

	var sb strings.Builder
	sb.WriteString("| Repository | Revision | Schema | Commits | Indexed at |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, repo := range repos {
		status, ok, err := h.service.Status(repo)
		if err != nil {
			fmt.Fprintf(&sb, "| %s | error: %s | | | |\n", repo.Name, err)
			continue
		}
		if !ok {
			fmt.Fprintf(&sb, "| %s | not indexed | | | |\n", repo.Name)
			continue
		}

		revision := shortID(status.Revision)
		if status.IsEmpty() {
			revision = "empty"
		}
		count, err := h.service.CountCommits(ctx, repo)
		countText := fmt.Sprint(count)
		if err != nil {
			countText = "?"
		}
		fmt.Fprintf(&sb, "| %s | %s | %d | %s | %s |\n",
			repo.Name, revision, status.Version, countText, status.IndexedAt.UTC().Format(time.RFC3339))
	}

	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "index_status",
		Description: "Show the indexed revision and commit count of each repository",
	}
}

// RegisterStatusTool registers the status tool with an MCP server.
func RegisterStatusTool(server *mcp.Server, service *Service) {
	handler := NewStatusHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
