// Package workflow decodes the editor's graph format: one level of nodes
// and links, plus reusable subgraph definitions that may nest.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrStructure reports input that is not an editor graph at all.
var ErrStructure = errors.New("invalid workflow structure")

var decodeAPI = sonic.Config{UseNumber: true}.Froze()

// Mode is the node execution mode set in the editor.
type Mode int

const (
	ModeAlways    Mode = 0
	ModeOnEvent   Mode = 1
	ModeNever     Mode = 2 // muted
	ModeOnTrigger Mode = 3
	ModeBypass    Mode = 4
)

// Disabled reports whether nodes in this mode are excluded from execution.
func (m Mode) Disabled() bool {
	return m == ModeNever || m == ModeBypass
}

// Workflow is a decoded editor graph.
type Workflow struct {
	Nodes       []Node      `json:"nodes"`
	Links       []Link      `json:"links"`
	Definitions Definitions `json:"definitions"`

	// SkippedLinks holds the positions of link entries that could not be
	// decoded, such as the nulls stale exports leave behind.
	SkippedLinks []int `json:"-"`
}

func (w *Workflow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nodes       []Node            `json:"nodes"`
		Links       []json.RawMessage `json:"links"`
		Definitions Definitions       `json:"definitions"`
	}
	if err := decodeAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	links, skipped := decodeLinks(raw.Links)
	*w = Workflow{
		Nodes:        raw.Nodes,
		Links:        links,
		Definitions:  raw.Definitions,
		SkippedLinks: skipped,
	}
	return nil
}

// Definitions holds the reusable fragments embedded in a workflow.
type Definitions struct {
	Subgraphs []Subgraph `json:"subgraphs,omitempty"`
}

// Node is one operation in a graph level.
type Node struct {
	ID            ID           `json:"id"`
	Type          string       `json:"type"`
	Title         string       `json:"title,omitempty"`
	Mode          Mode         `json:"mode"`
	Inputs        []NodeInput  `json:"inputs,omitempty"`
	Outputs       []NodeOutput `json:"outputs,omitempty"`
	WidgetsValues WidgetValues `json:"widgets_values"`
}

// NodeInput is a declared wire slot on a node.
type NodeInput struct {
	Name   string       `json:"name"`
	Type   string       `json:"type"`
	Link   *ID          `json:"link"`
	Widget *InputWidget `json:"widget,omitempty"`
}

// InputWidget marks an input slot that is backed by a widget.
type InputWidget struct {
	Name string `json:"name"`
}

// NodeOutput is a declared output slot on a node.
type NodeOutput struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Links []ID   `json:"links"`
}

// Linked reports whether the input slot has a connection.
func (in NodeInput) Linked() bool {
	return in.Link != nil && *in.Link != ""
}

// Link connects one output slot to one input slot within a level.
type Link struct {
	ID         ID
	OriginID   ID
	OriginSlot int
	TargetID   ID
	TargetSlot int
	Type       string
}

type dictLink struct {
	ID         ID              `json:"id"`
	OriginID   ID              `json:"origin_id"`
	OriginSlot int             `json:"origin_slot"`
	TargetID   ID              `json:"target_id"`
	TargetSlot int             `json:"target_slot"`
	Type       json.RawMessage `json:"type"`
}

// MarshalJSON writes the compact list form used at the root level.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.ID, l.OriginID, l.OriginSlot, l.TargetID, l.TargetSlot, l.Type})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty link", ErrStructure)
	}
	if data[0] == '{' {
		var d dictLink
		if err := decodeAPI.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%w: link: %v", ErrStructure, err)
		}
		*l = Link{
			ID:         d.ID,
			OriginID:   d.OriginID,
			OriginSlot: d.OriginSlot,
			TargetID:   d.TargetID,
			TargetSlot: d.TargetSlot,
			Type:       typeName(d.Type),
		}
		return nil
	}

	var parts []json.RawMessage
	if err := decodeAPI.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: link: %v", ErrStructure, err)
	}
	if len(parts) < 5 {
		return fmt.Errorf("%w: link has %d fields, want at least 5", ErrStructure, len(parts))
	}
	var out Link
	if err := out.ID.UnmarshalJSON(parts[0]); err != nil {
		return err
	}
	if err := out.OriginID.UnmarshalJSON(parts[1]); err != nil {
		return err
	}
	if err := decodeAPI.Unmarshal(parts[2], &out.OriginSlot); err != nil {
		return fmt.Errorf("%w: link origin slot: %v", ErrStructure, err)
	}
	if err := out.TargetID.UnmarshalJSON(parts[3]); err != nil {
		return err
	}
	if err := decodeAPI.Unmarshal(parts[4], &out.TargetSlot); err != nil {
		return fmt.Errorf("%w: link target slot: %v", ErrStructure, err)
	}
	if len(parts) > 5 {
		out.Type = typeName(parts[5])
	}
	*l = out
	return nil
}

// decodeLinks decodes the entries of a links array. Entries that are not a
// list or an object, or that do not decode, are left out and their
// positions returned.
func decodeLinks(entries []json.RawMessage) ([]Link, []int) {
	if entries == nil {
		return nil, nil
	}
	links := make([]Link, 0, len(entries))
	var skipped []int
	for i, raw := range entries {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
			skipped = append(skipped, i)
			continue
		}
		var l Link
		if err := l.UnmarshalJSON(trimmed); err != nil {
			skipped = append(skipped, i)
			continue
		}
		links = append(links, l)
	}
	return links, skipped
}

// typeName accepts the link type as a string; anything else is treated as
// untyped.
func typeName(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || decodeAPI.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Parse decodes an editor graph. It fails with ErrStructure when the data is
// not a JSON object with a nodes list.
func Parse(data []byte) (*Workflow, error) {
	var top map[string]json.RawMessage
	if err := decodeAPI.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrStructure)
	}
	nodes, ok := top["nodes"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"nodes\"", ErrStructure)
	}
	if trimmed := bytes.TrimSpace(nodes); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: \"nodes\" must be a list", ErrStructure)
	}

	var wf Workflow
	if err := decodeAPI.Unmarshal(data, &wf); err != nil {
		if errors.Is(err, ErrStructure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStructure, err)
	}
	return &wf, nil
}

// Subgraph looks up a definition by id.
func (w *Workflow) Subgraph(id string) (*Subgraph, bool) {
	for i := range w.Definitions.Subgraphs {
		if w.Definitions.Subgraphs[i].ID == id {
			return &w.Definitions.Subgraphs[i], true
		}
	}
	return nil, false
}

// Root returns the top level of the workflow.
func (w *Workflow) Root() *Level {
	return newLevel(w.Nodes, w.Links, nil)
}

// Clone returns a deep copy that can be rewritten without touching w.
func (w *Workflow) Clone() *Workflow {
	out := &Workflow{
		Nodes:        cloneNodes(w.Nodes),
		Links:        append([]Link(nil), w.Links...),
		SkippedLinks: append([]int(nil), w.SkippedLinks...),
	}
	if w.Definitions.Subgraphs != nil {
		out.Definitions.Subgraphs = make([]Subgraph, len(w.Definitions.Subgraphs))
		for i, sg := range w.Definitions.Subgraphs {
			out.Definitions.Subgraphs[i] = sg.clone()
		}
	}
	return out
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Inputs != nil {
		out.Inputs = make([]NodeInput, len(n.Inputs))
		for i, in := range n.Inputs {
			if in.Link != nil {
				link := *in.Link
				in.Link = &link
			}
			if in.Widget != nil {
				w := *in.Widget
				in.Widget = &w
			}
			out.Inputs[i] = in
		}
	}
	if n.Outputs != nil {
		out.Outputs = make([]NodeOutput, len(n.Outputs))
		for i, o := range n.Outputs {
			o.Links = append([]ID(nil), o.Links...)
			out.Outputs[i] = o
		}
	}
	out.WidgetsValues = n.WidgetsValues.clone()
	return out
}

// WidgetInputIndex returns the position of the named input among the
// node's widget-backed inputs, or -1.
func (n *Node) WidgetInputIndex(name string) int {
	idx := 0
	for _, in := range n.Inputs {
		if in.Widget == nil {
			continue
		}
		if in.Name == name {
			return idx
		}
		idx++
	}
	return -1
}
