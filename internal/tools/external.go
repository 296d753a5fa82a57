package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fableloom/fableloom/pkg/types"
)

// ServerConfig describes an external MCP tool server reachable over a stdio
// command transport.
type ServerConfig struct {
	// Name is the server's registry namespace. Attached tools are registered
	// as "<name>_<tool>" so two servers exporting the same tool name cannot
	// collide with each other or with the builtins.
	Name string

	// Command is the executable plus arguments, split on whitespace.
	Command string

	// Env holds additional environment variables for the server process.
	Env map[string]string
}

// mcpState holds the registry's live MCP connections. Guarded by Registry.mu.
type mcpState struct {
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession
}

// AttachMCP connects to the MCP server described by cfg, imports its tool
// catalogue into the registry, and returns the number of tools attached.
//
// Each imported tool's handler proxies calls to the live server session. The
// session is owned by the registry; [Registry.Close] shuts down all attached
// servers. Attaching a server whose Name is already attached replaces the old
// connection and its tools.
func (r *Registry) AttachMCP(ctx context.Context, cfg ServerConfig) (int, error) {
	if cfg.Name == "" {
		return 0, fmt.Errorf("tools: mcp server config must have a non-empty name")
	}
	executable, args := splitCommand(cfg.Command)
	if executable == "" {
		return 0, fmt.Errorf("tools: mcp server %q requires a non-empty command", cfg.Name)
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	r.mu.Lock()
	if r.mcp.client == nil {
		r.mcp.client = mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "fableloom", Version: "1.0.0"},
			nil,
		)
	}
	client := r.mcp.client
	r.mu.Unlock()

	session, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return 0, fmt.Errorf("tools: failed to connect to mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return 0, fmt.Errorf("tools: failed to list tools for mcp server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	r.mu.Lock()
	if old, ok := r.mcp.sessions[cfg.Name]; ok {
		_ = old.Close()
		prefix := cfg.Name + "_"
		for name := range r.tools {
			if strings.HasPrefix(name, prefix) {
				delete(r.tools, name)
			}
		}
	}
	if r.mcp.sessions == nil {
		r.mcp.sessions = make(map[string]*mcpsdk.ClientSession)
	}
	r.mcp.sessions[cfg.Name] = session
	r.mu.Unlock()

	ts := make([]Tool, 0, len(discovered))
	for _, mt := range discovered {
		ts = append(ts, Tool{
			Definition: types.ToolDefinition{
				Name:        cfg.Name + "_" + mt.Name,
				Description: mt.Description,
				Parameters:  schemaToMap(mt.InputSchema),
			},
			Handler: mcpHandler(session, mt.Name),
		})
	}
	r.Register(ts...)
	return len(ts), nil
}

// Close shuts down all attached MCP server sessions. Registries without
// attached servers return nil. Safe to call multiple times.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.mcp.sessions
	r.mcp.sessions = nil
	r.mu.Unlock()

	var firstErr error
	for name, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: failed to close mcp server %q: %w", name, err)
		}
	}
	return firstErr
}

// mcpHandler builds a Tool handler that proxies execution to a live MCP
// session, concatenating all text content from the result.
func mcpHandler(session *mcpsdk.ClientSession, toolName string) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		argsMap, _, err := decodeArgs(args)
		if err != nil {
			return "", fmt.Errorf("tools: mcp tool %q: %w", toolName, err)
		}
		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: argsMap,
		})
		if err != nil {
			return "", fmt.Errorf("tools: mcp tool %q call failed: %w", toolName, err)
		}

		var sb strings.Builder
		for _, c := range res.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if res.IsError {
			return "", fmt.Errorf("tools: mcp tool %q reported an error: %s", toolName, sb.String())
		}
		return sb.String(), nil
	}
}

// schemaToMap converts an SDK input schema into the map shape used by
// [types.ToolDefinition.Parameters], via a JSON round-trip when necessary.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command line on whitespace into executable and args.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
