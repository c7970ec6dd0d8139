// Package registry provides a node-class registry for editor node types
// that need special handling during conversion: annotations and reroutes
// that never execute, primitives the editor inlines, virtual wires, and the
// well-known loader, encoder and output classes the CLI targets.
package registry

import (
	"sort"
	"sync"
)

// Categories a node class can belong to.
const (
	CategoryAnnotation      = "annotation"       // notes and other editor-only decoration
	CategoryReroute         = "reroute"          // pass-through wire helpers
	CategoryInlinePrimitive = "inline_primitive" // values the editor writes into consumers
	CategoryPrimitiveValue  = "primitive_value"  // real primitive nodes that execute
	CategoryVirtualSet      = "virtual_set"      // named virtual wire source
	CategoryVirtualGet      = "virtual_get"      // named virtual wire sink
	CategoryTextEncoder     = "text_encoder"
	CategoryImageLoader     = "image_loader"
	CategoryOutput          = "output"
)

// ClassDef describes a registered node class.
type ClassDef struct {
	Type        string `json:"type"`
	Category    string `json:"category"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	// UIOnly classes exist only in the editor and are never submitted.
	UIOnly bool `json:"ui_only"`
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in node classes.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New returns a registry preloaded with the built-in node classes.
// Callers that need extra UI-only classes register them on their own copy
// rather than mutating Global.
func New() *Registry {
	r := newRegistry()
	registerBuiltins(r)
	return r
}

// Registry holds known node classes.
type Registry struct {
	mu    sync.RWMutex
	types map[string]ClassDef
	order []string // preserves registration order
}

func newRegistry() *Registry {
	return &Registry{
		types: make(map[string]ClassDef),
	}
}

// Register adds a node class definition. If a class with the same name
// already exists it is overwritten.
func (r *Registry) Register(def ClassDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node class definition by type name.
func (r *Registry) Get(typeName string) (ClassDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return def, ok
}

// Has returns true if the type name is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// IsUIOnly reports whether nodes of this class are dropped before conversion.
func (r *Registry) IsUIOnly(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeName].UIOnly
}

// InCategory reports whether the class belongs to category.
func (r *Registry) InCategory(typeName, category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return ok && def.Category == category
}

// TypesIn returns the sorted class names registered under category.
func (r *Registry) TypesIn(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, def := range r.types {
		if def.Category == category {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// All returns all registered node classes in registration order.
func (r *Registry) All() []ClassDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClassDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered node classes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
