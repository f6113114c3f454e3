package tools

import (
	"fmt"
	"sort"
	"sync"

	"AgentCore/pkg/engine/api"
)

// Registry holds the tools one agent instance may dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Names are unique within a registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister adds a tool and panics on a duplicate name.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// All returns every registered tool, sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas returns the schemas of every registered tool, sorted by
// name, ready to hand to the model.
func (r *Registry) Schemas() []api.ToolSchema {
	all := r.All()
	schemas := make([]api.ToolSchema, 0, len(all))
	for _, t := range all {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// Without returns a copy of the registry with the named tools left
// out. With no names it is a plain copy; subagents get their own
// registry this way instead of sharing the parent's.
func (r *Registry) Without(names ...string) *Registry {
	excluded := make(map[string]bool, len(names))
	for _, n := range names {
		excluded[n] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry()
	for name, tool := range r.tools {
		if !excluded[name] {
			out.tools[name] = tool
		}
	}
	return out
}

// DefaultRegistry creates a registry with the built-in file and
// search tools rooted at workspaceRoot.
func DefaultRegistry(workspaceRoot string) *Registry {
	r := NewRegistry()

	r.MustRegister(NewReadFileTool(workspaceRoot))
	r.MustRegister(NewWriteFileTool(workspaceRoot))
	r.MustRegister(NewEditFileTool(workspaceRoot))
	r.MustRegister(NewListDirTool(workspaceRoot))

	r.MustRegister(NewGlobTool(workspaceRoot))
	r.MustRegister(NewGrepTool(workspaceRoot))

	return r
}
