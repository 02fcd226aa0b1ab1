package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/laudza/leona/internal/handler"
	"github.com/laudza/leona/internal/memory"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor Processor
	Store     *memory.Store
	SmartHome *handler.SmartHome
	Backend   HealthChecker
	StartedAt time.Time
	Version   string
}

// NewMCPServer creates an MCP server exposing LEONA to other agent hosts:
// the ask tool plus direct schedule, device, and preference access.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"leona",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("LEONA — personal assistant for scheduling, files, smart home, and automation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Send a natural-language request through the full assistant pipeline."),
			mcp.WithString("message", mcp.Description("The request text"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_schedule",
			mcp.WithDescription("List pending tasks and reminders, most urgent first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items (default 20)")),
		),
		mcpListSchedule(deps),
	)

	s.AddTool(
		mcp.NewTool("control_device",
			mcp.WithDescription("Set a smart home device to a new state."),
			mcp.WithString("device", mcp.Description("Device name or id"), mcp.Required()),
			mcp.WithString("state", mcp.Description("Desired state"), mcp.Required()),
		),
		mcpControlDevice(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Store a user preference key/value pair."),
			mcp.WithString("key", mcp.Description("Preference key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to store"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"leona://status",
			"Assistant Status",
			mcp.WithResourceDescription("Current assistant status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		result := deps.Processor.Process(ctx, message)
		return mcpText(result.Response), nil
	}
}

func mcpListSchedule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		tasks, err := deps.Store.PendingTasks()
		if err != nil {
			return mcpError(fmt.Sprintf("listing schedule failed: %v", err)), nil
		}
		if len(tasks) > limit {
			tasks = tasks[:limit]
		}

		type taskResult struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			DueDate  string `json:"due_date"`
			Priority int    `json:"priority"`
		}
		results := make([]taskResult, len(tasks))
		for i, t := range tasks {
			results[i] = taskResult{
				ID:       t.ID,
				Title:    t.Title,
				DueDate:  t.DueDate.Format(time.RFC3339),
				Priority: t.Priority,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal schedule: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpControlDevice(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("device")
		if err != nil {
			return mcpError("device is required"), nil
		}
		state, err := req.RequireString("state")
		if err != nil {
			return mcpError("state is required"), nil
		}

		device, err := deps.SmartHome.ControlDevice(ctx, name, state)
		if err != nil {
			return mcpError(fmt.Sprintf("controlling device failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Device '%s' is now %s", device.ID, device.State)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Store.SetPreference(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		conversations, err := deps.Store.ConversationCount()
		if err != nil {
			return nil, fmt.Errorf("reading conversation count: %w", err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		b, err := json.Marshal(map[string]any{
			"status":         "running",
			"version":        deps.Version,
			"uptime_seconds": int(time.Since(deps.StartedAt).Seconds()),
			"conversations":  conversations,
			"model_backend":  deps.Backend.IsRunning(checkCtx),
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
