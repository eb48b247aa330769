package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
)

// ToolRegistry holds every tool a Brain's chat mode exposes to the
// model, adapted from the teacher's Register/Get/List shape and
// generalized to also expose provider-ready tool definitions and a
// (tenant, thread)-scoped execute path.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, sorted by name for stable
// prompt/tool-definition ordering.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ToProviderDefs projects every registered tool into the model
// provider's tool-definition shape.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	tools := r.List()
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}

// SetContext propagates the active (user, tenant, thread) to every
// ContextualTool in the registry, ahead of a workflow iteration.
func (r *ToolRegistry) SetContext(userID, tenantID, threadKey string) {
	for _, t := range r.List() {
		if ct, ok := t.(ContextualTool); ok {
			ct.SetContext(userID, tenantID, threadKey)
		}
	}
}

// Execute validates arguments against the tool's declared schema (if
// it registered arguments to validate) and runs it. A missing tool
// name is reported back to the model rather than aborting the turn,
// since a hallucinated tool name shouldn't crash the workflow loop.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}

	if err := providers.ValidateArguments(tool.Parameters(), args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %q: %v", name, err))
	}

	return tool.Execute(ctx, args)
}
