// Package tools provides the MCP-backed tool runner: tool_call steps execute
// against a Model Context Protocol server over a pluggable transport.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aiblox/orchestrator/pkg/orchestrator"
	"github.com/aiblox/orchestrator/pkg/version"
)

// MCPToolRunner implements orchestrator.ToolRunner over one MCP session.
// Tool-level failures (IsError results) map to Success=false; transport and
// protocol errors are returned as errors.
type MCPToolRunner struct {
	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	logger  *slog.Logger
}

// NewMCPToolRunner creates a runner with no session; call Connect before use.
func NewMCPToolRunner() *MCPToolRunner {
	return &MCPToolRunner{
		logger: slog.With("component", "mcp_tool_runner"),
	}
}

// Connect establishes the MCP session over the given transport.
func (r *MCPToolRunner) Connect(ctx context.Context, transport mcpsdk.Transport) error {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect MCP server: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.session = session
	r.mu.Unlock()

	r.logger.Info("MCP server connected")
	return nil
}

// Close tears down the session if one exists.
func (r *MCPToolRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	r.client = nil
	return err
}

// RunTool implements orchestrator.ToolRunner.
func (r *MCPToolRunner) RunTool(ctx context.Context, toolID string, params map[string]any) (*orchestrator.ToolResult, error) {
	if toolID == "" {
		return &orchestrator.ToolResult{Success: false, Error: "no tool requested"}, nil
	}
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("MCP session not connected")
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolID,
		Arguments: toolArguments(params),
	})
	if err != nil {
		return nil, fmt.Errorf("tool %q call failed: %w", toolID, err)
	}

	text := textContent(result)
	if result.IsError {
		return &orchestrator.ToolResult{ToolID: toolID, Success: false, Error: text}, nil
	}
	return &orchestrator.ToolResult{
		ToolID:  toolID,
		Success: true,
		Output:  map[string]any{"content": text},
	}, nil
}

// toolArguments strips the routing key so the server only sees tool inputs.
func toolArguments(params map[string]any) map[string]any {
	args := make(map[string]any, len(params))
	for k, v := range params {
		if k == "tool" {
			continue
		}
		args[k] = v
	}
	return args
}

func textContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// NewCommandTransport builds a stdio transport from a shell-less command line
// (whitespace-split, parent environment inherited). Used with the
// MCP_SERVER_CMD setting.
func NewCommandTransport(commandLine string) (*mcpsdk.CommandTransport, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("stdio transport requires command")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Env = os.Environ()
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}
