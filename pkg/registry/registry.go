// Package registry manages toolkit registration and lifecycle.
package registry

import (
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Toolkit is a named group of MCP tools sharing a backend resource.
type Toolkit interface {
	// Kind identifies the toolkit implementation, e.g. "oracle".
	Kind() string
	// Name identifies the instance within its kind.
	Name() string
	// RegisterTools adds every tool of the toolkit to the MCP server.
	RegisterTools(s *mcp.Server)
	// Tools lists the tool names the toolkit provides.
	Tools() []string
	// Close releases backend resources.
	Close() error
}

// Factory creates a toolkit instance from raw configuration.
type Factory func(name string, config map[string]any) (Toolkit, error)

// Registry holds the registered toolkits and factories.
type Registry struct {
	mu        sync.RWMutex
	toolkits  map[string]Toolkit
	factories map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		toolkits:  make(map[string]Toolkit),
		factories: make(map[string]Factory),
	}
}

// RegisterFactory registers a factory for a toolkit kind.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Register adds a toolkit instance.
func (r *Registry) Register(toolkit Toolkit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := toolkitKey(toolkit.Kind(), toolkit.Name())
	if _, exists := r.toolkits[key]; exists {
		return fmt.Errorf("toolkit %s already registered", key)
	}
	r.toolkits[key] = toolkit
	return nil
}

// CreateAndRegister builds a toolkit through its kind's factory and
// registers it.
func (r *Registry) CreateAndRegister(kind, name string, config map[string]any) error {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown toolkit kind: %s", kind)
	}
	toolkit, err := factory(name, config)
	if err != nil {
		return fmt.Errorf("creating toolkit %s/%s: %w", kind, name, err)
	}
	return r.Register(toolkit)
}

// Get retrieves a toolkit by kind and name.
func (r *Registry) Get(kind, name string) (Toolkit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	toolkit, ok := r.toolkits[toolkitKey(kind, name)]
	return toolkit, ok
}

// All returns every registered toolkit.
func (r *Registry) All() []Toolkit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Toolkit, 0, len(r.toolkits))
	for _, toolkit := range r.toolkits {
		out = append(out, toolkit)
	}
	return out
}

// AllTools returns every tool name across all toolkits.
func (r *Registry) AllTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]string, 0, len(r.toolkits)*8)
	for _, toolkit := range r.toolkits {
		tools = append(tools, toolkit.Tools()...)
	}
	return tools
}

// RegisterAllTools advertises every toolkit's tools on the MCP server.
func (r *Registry) RegisterAllTools(s *mcp.Server) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, toolkit := range r.toolkits {
		toolkit.RegisterTools(s)
	}
}

// Close closes all registered toolkits.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, toolkit := range r.toolkits {
		if err := toolkit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing toolkits: %v", errs)
	}
	return nil
}

func toolkitKey(kind, name string) string {
	return kind + ":" + name
}
