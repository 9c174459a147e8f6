// Package tools implements the built-in tool registry the model can invoke
// during the mention processor's tool-use loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alekspetrov/gitbot/internal/model"
)

// Tool is one callable tool: its model-facing spec plus its execution.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, rawArgs string) (string, error)
}

// Registry holds the tools available for one mention's tool-use loop and
// implements model.ToolExecutor.
type Registry struct {
	tools []Tool
	byName map[string]Tool
}

// NewRegistry builds an empty registry; call Register for each tool.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools = append(r.tools, t)
	r.byName[t.Name()] = t
}

// Specs returns every registered tool's model-facing definition.
func (r *Registry) Specs() []model.ToolDef {
	specs := make([]model.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, model.ToolDef{
			Type: "function",
			Function: model.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs
}

// Execute implements model.ToolExecutor: dispatch to the named tool, or
// return an explicit textual error for an unknown tool name.
func (r *Registry) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	t, ok := r.byName[call.Function.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
	return t.Execute(ctx, call.Function.Arguments)
}

// parseArgs decodes rawArgs into a generic map, rejecting empty input.
func parseArgs(rawArgs string) (map[string]any, error) {
	if rawArgs == "" {
		return nil, fmt.Errorf("tool requires arguments")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &m); err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	return m, nil
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

func requirePositiveInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter: %s", key)
	}
	f, ok := v.(float64) // encoding/json decodes all JSON numbers as float64
	if !ok {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	n := int(f)
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}

func optionalString(args map[string]any, key, fallback string) string {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
}
