package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/uswahq/uswa/internal/agent"
	"github.com/uswahq/uswa/internal/retrieval"
	"github.com/uswahq/uswa/internal/triage"
)

// MCPRetriever abstracts semantic document search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, workspaceID, query string) ([]retrieval.Match, error)
}

// MCPDeps holds dependencies for the MCP server. Every tool takes an explicit
// workspace_id argument; the server carries no ambient workspace state.
type MCPDeps struct {
	Agent     ChatAgent
	Scheduler AutoScheduler
	Triager   InboxTriager
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server with the assistant tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"uswa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("uswa — workspace assistant: grounded Q&A, task creation, scheduling, and inbox triage."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the workspace assistant a question. Answers are grounded in the workspace's documents; the assistant may create a task when asked to."),
			mcp.WithString("workspace_id", mcp.Description("Workspace to answer within"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The question or instruction"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Acting user id")),
			mcp.WithString("session_id", mcp.Description("Conversation session id")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("auto_schedule",
			mcp.WithDescription("Assign due dates to the workspace's unscheduled tasks."),
			mcp.WithString("workspace_id", mcp.Description("Workspace whose backlog to schedule"), mcp.Required()),
		),
		mcpAutoSchedule(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_inbox",
			mcp.WithDescription("Scan unread email and create tasks from actionable messages."),
			mcp.WithString("workspace_id", mcp.Description("Workspace to create tasks in"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Acting user id"), mcp.Required()),
			mcp.WithString("mail_token", mcp.Description("Gmail OAuth access token"), mcp.Required()),
		),
		mcpScanInbox(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the workspace's documents and return the most relevant excerpts."),
			mcp.WithString("workspace_id", mcp.Description("Workspace to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchDocuments(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspaceID, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res, err := deps.Agent.Chat(ctx, agent.Input{
			WorkspaceID: workspaceID,
			UserID:      req.GetString("user_id", ""),
			SessionID:   req.GetString("session_id", ""),
			Message:     message,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(res.Reply), nil
	}
}

func mcpAutoSchedule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspaceID, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}

		res, err := deps.Scheduler.Run(ctx, workspaceID)
		if err != nil {
			return mcpError(fmt.Sprintf("scheduling failed: %v", err)), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpScanInbox(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspaceID, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		token, err := req.RequireString("mail_token")
		if err != nil {
			return mcpError("mail_token is required"), nil
		}

		res, err := deps.Triager.Run(ctx, triage.Input{
			WorkspaceID: workspaceID,
			UserID:      userID,
			AccessToken: token,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("triage failed: %v", err)), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspaceID, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		matches, err := deps.Retriever.Retrieve(ctx, workspaceID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			DocumentID string  `json:"document_id"`
			Name       string  `json:"name"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]matchResult, len(matches))
		for i, m := range matches {
			results[i] = matchResult{
				DocumentID: m.DocumentID,
				Name:       m.Name,
				Text:       m.Text,
				Score:      m.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
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
