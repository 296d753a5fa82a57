// Package tools provides the tool registry the agent loop dispatches through.
//
// A [Tool] pairs an LLM-facing schema ([types.ToolDefinition]) with the Go
// handler invoked when the model calls it. The [Registry] owns the name→tool
// map, validates arguments against the schema's required list, and converts
// runtime failures into structured JSON results so a bad tool call never
// aborts an agent run.
//
// Built-in tools live in sub-packages (see inventory); external MCP servers
// attach via [Registry.AttachMCP].
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/fableloom/fableloom/pkg/types"
)

// ErrUnknownTool is returned by [Registry.Execute] when the named tool is not
// registered. Callers typically report it back to the model as a structured
// error result rather than failing the turn.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Tool is a registered tool: its LLM-facing schema plus the handler that runs
// when the model calls it.
type Tool struct {
	// Definition is the tool's schema including name, description, and JSON
	// Schema parameter specification.
	Definition types.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// Registry is a concurrent-safe name→tool map.
//
// The zero value is NOT usable; create instances with [NewRegistry].
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	// mcp holds live connections to attached external servers; see external.go.
	mcp mcpState
}

// NewRegistry creates an empty Registry and registers the given tools.
// Registering two tools with the same name keeps the last one.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(ts...)
	return r
}

// Register adds tools to the registry, replacing any existing tool with the
// same name.
func (r *Registry) Register(ts ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range ts {
		if t.Definition.Name == "" {
			continue
		}
		r.tools[t.Definition.Name] = t
	}
}

// Definitions returns the schemas of all registered tools, suitable for
// passing to an LLM completion request. Order is not specified.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Snapshot returns a copy of the registered tools, suitable for seeding
// another registry. Handlers are shared; tools imported from MCP servers keep
// proxying through r's connections, so r must outlive registries built from
// the snapshot.
func (r *Registry) Snapshot() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		ts = append(ts, t)
	}
	return ts
}

// Execute runs the named tool with the given JSON-encoded arguments and
// returns its JSON-encoded result.
//
// Runtime failures do not become Go errors: missing required parameters,
// unparseable arguments, and handler errors all yield a
// {"success":false,"error":…} result with a nil error, so the agent loop can
// hand the failure back to the model and continue. Malformed argument JSON
// gets one repair attempt before being rejected.
//
// The only non-nil error returns are [ErrUnknownTool] for unregistered names
// and the ctx error when ctx is already done.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	argMap, fixed, err := decodeArgs(args)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
	}

	if missing := missingRequired(tool.Definition.Parameters, argMap); len(missing) > 0 {
		return errorResult(fmt.Sprintf("missing required parameter(s) for %s: %v", name, missing)), nil
	}

	out, err := tool.Handler(ctx, fixed)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return out, nil
}

// decodeArgs parses the JSON argument string into a map. Empty input counts
// as an empty object. On a syntax error it makes a single jsonrepair attempt;
// args that still fail to parse return an error.
//
// The returned string is the JSON actually decoded (repaired if repair was
// needed) and is what handlers receive.
func decodeArgs(args string) (map[string]any, string, error) {
	if args == "" {
		args = "{}"
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err == nil {
		return m, args, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(args)
	if rerr != nil {
		return nil, "", fmt.Errorf("unparseable JSON arguments")
	}
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		return nil, "", fmt.Errorf("unparseable JSON arguments")
	}
	return m, repaired, nil
}

// missingRequired returns the names listed in the schema's "required" array
// that are absent from argMap. A schema without a required list (or with an
// unexpected shape) requires nothing.
func missingRequired(schema map[string]any, argMap map[string]any) []string {
	if schema == nil {
		return nil
	}
	var missing []string
	switch req := schema["required"].(type) {
	case []string:
		for _, k := range req {
			if _, ok := argMap[k]; !ok {
				missing = append(missing, k)
			}
		}
	case []any:
		for _, v := range req {
			k, ok := v.(string)
			if !ok {
				continue
			}
			if _, ok := argMap[k]; !ok {
				missing = append(missing, k)
			}
		}
	}
	return missing
}

// errorResult encodes a structured failure result for the model.
func errorResult(msg string) string {
	out, err := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	if err != nil {
		// map[string]any with string values cannot fail to marshal; keep a
		// plain fallback anyway so Execute never returns an empty result.
		return `{"success":false,"error":"tool execution failed"}`
	}
	return string(out)
}
