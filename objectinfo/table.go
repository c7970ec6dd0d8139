// Package objectinfo models the node-type schema table served by the
// execution server's object-info endpoint. The table is decoded once,
// every declared input is classified into a Kind at load time, and the
// result is read-only and safe to share across concurrent conversions.
package objectinfo

import "sort"

// Section is the object-info section an input was declared in.
type Section string

const (
	SectionRequired Section = "required"
	SectionOptional Section = "optional"
	SectionHidden   Section = "hidden"
)

// Input is one declared input of a node type.
type Input struct {
	Name    string
	Tag     string
	Kind    Kind
	Section Section

	// ControlAfterGenerate marks an input after which the editor appends a
	// companion control widget value.
	ControlAfterGenerate bool

	// Choices lists the allowed values of a combo input, when declared.
	Choices []string

	// Formats maps a selected value to the names of the extra inputs that
	// follow it in the widget values.
	Formats map[string][]string

	// Dynamic holds the value-keyed sub-schemas of a dynamic combo.
	Dynamic []DynamicOption
}

// DynamicOption is the sub-schema pulled in when a dynamic combo is set to Key.
type DynamicOption struct {
	Key    string
	Inputs []Input
}

// DynamicInputs returns the sub-inputs selected by value, if any.
func (in Input) DynamicInputs(value string) ([]Input, bool) {
	for _, opt := range in.Dynamic {
		if opt.Key == value {
			return opt.Inputs, true
		}
	}
	return nil, false
}

// Output is one declared output slot of a node type.
type Output struct {
	Name   string
	Tag    string
	IsList bool
}

// NodeType describes a single operation type.
type NodeType struct {
	Name        string
	DisplayName string
	Category    string
	OutputNode  bool
	Inputs      []Input
	Outputs     []Output
}

// Input returns the declared input with the given name.
func (n *NodeType) Input(name string) (Input, bool) {
	for _, in := range n.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Table is a parsed object-info table keyed by node-type name.
type Table struct {
	types map[string]*NodeType
}

// NewTable builds a table from already-constructed node types. Later
// entries with the same name replace earlier ones.
func NewTable(types ...*NodeType) *Table {
	t := &Table{types: make(map[string]*NodeType, len(types))}
	for _, nt := range types {
		t.types[nt.Name] = nt
	}
	return t
}

// Get returns the node type registered under name.
func (t *Table) Get(name string) (*NodeType, bool) {
	if t == nil {
		return nil, false
	}
	nt, ok := t.types[name]
	return nt, ok
}

// Has reports whether name is a known node type.
func (t *Table) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Names returns every node-type name in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of node types in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.types)
}
