package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryToolRegistry is a thread-safe registry of local Go tools. It is
// both a ToolSource and an Invoker.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: make(map[string]ToolDefinition),
	}
}

// RegisterTool registers def, replacing any tool with the same name.
func (r *InMemoryToolRegistry) RegisterTool(def ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
	return nil
}

// RegisterFunc builds a tool with NewToolFromFunc and registers it.
func (r *InMemoryToolRegistry) RegisterFunc(name, description string, fn interface{}) error {
	def, err := NewToolFromFunc(name, description, fn)
	if err != nil {
		return errors.Wrapf(err, "could not create tool %s", name)
	}
	return r.RegisterTool(*def)
}

func (r *InMemoryToolRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, newToolError(ErrorKindUnknownTool, name, nil, "tool not found")
	}

	toolCopy := tool
	return &toolCopy, nil
}

func (r *InMemoryToolRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return newToolError(ErrorKindUnknownTool, name, nil, "tool not found")
	}

	delete(r.tools, name)
	return nil
}

// ListTools returns the descriptors of all registered tools, sorted by name.
func (r *InMemoryToolRegistry) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		ret = append(ret, tool.Descriptor())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// InvokeTool runs the named tool with arguments serialized back to JSON.
func (r *InMemoryToolRegistry) InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	tool, err := r.GetTool(name)
	if err != nil {
		return nil, err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	args, err := json.Marshal(arguments)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize arguments")
	}
	return tool.Function.ExecuteWithContext(ctx, args)
}

// Clone creates a copy of the registry
func (r *InMemoryToolRegistry) Clone() *InMemoryToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cloned := NewInMemoryToolRegistry()
	for name, tool := range r.tools {
		cloned.tools[name] = tool
	}

	return cloned
}

// Merge creates a new registry that contains tools from both registries.
// If there are conflicts, tools from the other registry take precedence.
func (r *InMemoryToolRegistry) Merge(other *InMemoryToolRegistry) *InMemoryToolRegistry {
	merged := r.Clone()

	other.mu.RLock()
	defer other.mu.RUnlock()
	for name, tool := range other.tools {
		merged.tools[name] = tool
	}

	return merged
}

func (r *InMemoryToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

var _ ToolSource = (*InMemoryToolRegistry)(nil)
var _ Invoker = (*InMemoryToolRegistry)(nil)
