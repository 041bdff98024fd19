package commitsearch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// commitIDPattern accepts full and abbreviated commit hashes.
var commitIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)

// ReadArgument selects the commit to read.
type ReadArgument struct {
	Repository string `json:"repository" jsonschema_description:"Repository name or id"`
	Commit     string `json:"commit" jsonschema_description:"Commit hash, full or abbreviated"`
}

// ReadHandler handles the read_commit MCP tool.
type ReadHandler struct {
	service *Service
}

// NewReadHandler creates a new read handler.
func NewReadHandler(service *Service) *ReadHandler {
	return &ReadHandler{service: service}
}

// Handle reads one commit with its full message and change summary.
func (h *ReadHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args ReadArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Read is not available yet. The commit index is still being built. Please try again later."), nil, nil
	}
	if strings.TrimSpace(args.Repository) == "" {
		return errorResult("Repository cannot be empty"), nil, nil
	}
	if err := validateCommitID(args.Commit); err != nil {
		return errorResult(fmt.Sprintf("Invalid commit: %s", err)), nil, nil
	}

	repo, err := h.service.Repository(args.Repository)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	commit, stat, err := h.service.ReadCommit(ctx, repo, args.Commit)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return errorResult("Read is not available yet. Please try again later."), nil, nil
		}
		return errorResult(fmt.Sprintf("Commit not found: %s", args.Commit)), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Commit**: %s\n", commit.ID)
	fmt.Fprintf(&sb, "**Repository**: %s\n", repo.Name)
	fmt.Fprintf(&sb, "**Author**: %s\n", commit.Author)
	fmt.Fprintf(&sb, "**Date**: %s\n", time.Unix(commit.Timestamp, 0).UTC().Format(time.RFC3339))
	if len(commit.Parents) > 0 {
		fmt.Fprintf(&sb, "**Parents**: %s\n", strings.Join(commit.Parents, ", "))
	}
	fmt.Fprintf(&sb, "\n```\n%s\n```\n", strings.TrimSpace(commit.Description))
	if stat != "" {
		fmt.Fprintf(&sb, "\n**Changes**:\n```\n%s\n```\n", stat)
	}

	return textResult(sb.String()), nil, nil
}

// validateCommitID rejects anything git could read as an option or a ref expression.
func validateCommitID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("commit cannot be empty")
	}
	if !commitIDPattern.MatchString(id) {
		return fmt.Errorf("%q is not a commit hash", id)
	}
	return nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReadHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "read_commit",
		Description: "Read the full message and change summary of a commit in an indexed git repository",
	}
}

// RegisterReadTool registers the read tool with an MCP server.
func RegisterReadTool(server *mcp.Server, service *Service) {
	handler := NewReadHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
