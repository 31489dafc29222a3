// Package api holds the worker's secondary surfaces: an MCP stdio server for
// agent access and a small HTTP admin endpoint. The primary surface is the
// line-oriented JSON-RPC stream in internal/rpc.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tarnlabs/tarn/internal/bridge"
)

// NewMCPServer creates an MCP server exposing the bridge's recall-style
// operations as tools.
func NewMCPServer(b *bridge.Bridge) *server.MCPServer {
	s := server.NewMCPServer(
		"tarn",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("tarn — local store of issues, notes, and working state with semantic search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_pond",
			mcp.WithDescription("Search the pond of timestamped notes, semantically when a model is loaded."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional context to bias the search")),
			mcp.WithString("source", mcp.Description("Restrict to one source label")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchPond(b),
	)

	s.AddTool(
		mcp.NewTool("add_pond",
			mcp.WithDescription("Store a note into the pond for later retrieval."),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional context label")),
			mcp.WithString("source", mcp.Description("Source label (defaults to mcp)")),
		),
		mcpAddPond(b),
	)

	s.AddTool(
		mcp.NewTool("search_issues",
			mcp.WithDescription("Search tracked issues by free text and status."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("status", mcp.Description("Filter by status: open or closed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchIssues(b),
	)

	s.AddTool(
		mcp.NewTool("get_state",
			mcp.WithDescription("Read the current working-state document."),
		),
		mcpGetState(b),
	)

	return s
}

func mcpSearchPond(b *bridge.Bridge) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		page, err := b.SearchPond(ctx, bridge.PondSearch{
			Query:   query,
			Context: req.GetString("context", ""),
			Source:  req.GetString("source", ""),
			Limit:   limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcpJSON(page.Items)
	}
}

func mcpAddPond(b *bridge.Bridge) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		entry, err := b.AddEntry(ctx, map[string]any{
			"content": content,
			"context": req.GetString("context", ""),
			"source":  req.GetString("source", "mcp"),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored pond entry %s", entry.ID)), nil
	}
}

func mcpSearchIssues(b *bridge.Bridge) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		page, err := b.SearchIssues(ctx, bridge.IssueSearch{
			Query:  query,
			Status: req.GetString("status", ""),
			Limit:  limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcpJSON(page.Items)
	}
}

func mcpGetState(b *bridge.Bridge) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := b.GetState(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read state: %v", err)), nil
		}
		return mcpText(doc.Content), nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(data)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
