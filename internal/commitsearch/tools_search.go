package commitsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const shortIDLength = 12

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query      string `json:"query" jsonschema_description:"Search query matched against commit messages, or a full commit id"`
	Repository string `json:"repository,omitempty" jsonschema_description:"Filter by repository name or id (e.g., github.com/org/repo)"`
	Author     string `json:"author,omitempty" jsonschema_description:"Filter by author name or email"`
}

// SearchHandler handles the search_commits MCP tool.
type SearchHandler struct {
	service *Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.IsReady() {
		return errorResult("Search is not available. The commit index is still being built. Please try again later."), nil, nil
	}

	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	req := SearchRequest{Query: args.Query, Author: args.Author}
	if args.Repository != "" {
		repo, err := h.service.Repository(args.Repository)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		req.Repository = repo.ID
	}

	results, err := h.service.Search(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return h.formatResults(results, args.Query), nil, nil
}

// formatResults renders hits as markdown, one section per commit.
func (h *SearchHandler) formatResults(results *SearchResult, queryStr string) *mcp.CallToolResult {
	if results.Total == 0 {
		return textResult(fmt.Sprintf("No commits found for query: %s", queryStr))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d commits for '%s':\n\n", results.Total, queryStr)

	for i, hit := range results.Hits {
		fmt.Fprintf(&sb, "### %d. %s@%s\n", i+1, h.displayName(hit.Repository), shortID(hit.CommitID))
		fmt.Fprintf(&sb, "**Commit**: %s\n", hit.CommitID)
		fmt.Fprintf(&sb, "**Author**: %s\n", hit.Author)
		if hit.Date > 0 {
			fmt.Fprintf(&sb, "**Date**: %s\n", time.Unix(hit.Date, 0).UTC().Format(time.RFC3339))
		}
		if hit.Parents != "" {
			fmt.Fprintf(&sb, "**Parents**: %s\n", hit.Parents)
		}
		fmt.Fprintf(&sb, "**Score**: %.4f\n\n", hit.Score)

		sb.WriteString("```\n")
		if len(hit.Fragments) > 0 {
			for _, fragment := range hit.Fragments {
				sb.WriteString(fragment)
				sb.WriteString("\n")
			}
		} else {
			sb.WriteString(strings.TrimSpace(hit.Description))
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}

	if results.Total > uint64(len(results.Hits)) {
		fmt.Fprintf(&sb, "... and %d more results\n", results.Total-uint64(len(results.Hits)))
	}

	return textResult(sb.String())
}

func (h *SearchHandler) displayName(repositoryID string) string {
	repo, err := h.service.Repository(repositoryID)
	if errors.Is(err, ErrUnknownRepository) {
		return repositoryID
	}
	return repo.Name
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_commits",
		Description: "Search commit messages across indexed git repositories using full-text search",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
